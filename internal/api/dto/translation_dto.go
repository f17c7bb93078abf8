package dto

import (
	"time"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

type RequestTranslationRequest struct {
	TargetLanguage string `json:"target_language" binding:"required"`
}

type TranslationDTO struct {
	JobID          string  `json:"job_id"`
	MessageID      string  `json:"message_id"`
	RoomCode       string  `json:"room_code"`
	TargetLanguage string  `json:"target_language"`
	Status         string  `json:"status"`
	RetryCount     int     `json:"retry_count"`
	TranslatedText *string `json:"translated_text,omitempty"`
	Error          *string `json:"error,omitempty"`
	Created        bool    `json:"created"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func NewTranslationDTO(job *domain.Job, created bool) TranslationDTO {
	return TranslationDTO{
		JobID:          job.JobID,
		MessageID:      job.MessageID,
		RoomCode:       job.RoomCode,
		TargetLanguage: job.TargetLanguage,
		Status:         job.Status.String(),
		RetryCount:     job.RetryCount,
		TranslatedText: job.TranslatedText,
		Error:          job.ErrorMessage,
		Created:        created,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
