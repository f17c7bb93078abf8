package domain

import (
	"strings"
	"time"
)

// Job is the durable record of one translation request:
// one message, one target language, one requester.
type Job struct {
	JobID          string     `db:"job_id" json:"job_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	MessageID      string     `db:"message_id" json:"message_id"`
	RoomCode       string     `db:"room_code" json:"room_code"`
	TargetLanguage string     `db:"target_language" json:"target_language"`
	SourceText     string     `db:"source_text" json:"-"`
	Status         JobStatus  `db:"status" json:"status"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	LastAttemptAt  *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ErrorMessage   *string    `db:"error_message" json:"error,omitempty"`
	TranslatedText *string    `db:"translated_text" json:"translated_text,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Identity is the idempotency key of a job. It is comparable and used
// directly as a map key.
type Identity struct {
	UserID         string
	MessageID      string
	TargetLanguage string
}

// Identity returns the (user, message, target language) triple of the job.
func (j *Job) Identity() Identity {
	return Identity{UserID: j.UserID, MessageID: j.MessageID, TargetLanguage: j.TargetLanguage}
}

// NormalizeLanguage lower-cases and trims a target language code.
func NormalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// TranslationResult is pushed to the requesting user when a job completes.
type TranslationResult struct {
	JobID          string `json:"job_id"`
	MessageID      string `json:"message_id"`
	RoomCode       string `json:"room_code"`
	TargetLanguage string `json:"target_language"`
	TranslatedText string `json:"translated_text"`
}
