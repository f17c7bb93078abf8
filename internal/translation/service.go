// Package translation turns translation requests into durable jobs and queue entries.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
	"github.com/cuongbtq/alliance-chat/internal/translation/queue"
)

// ErrInvalidLanguage is returned for a malformed target language code.
var ErrInvalidLanguage = errors.New("invalid target language")

var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})*$`)

// ValidateLanguage normalizes a target language code and rejects malformed ones.
func ValidateLanguage(lang string) (string, error) {
	normalized := domain.NormalizeLanguage(lang)
	if !languagePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}
	return normalized, nil
}

// JobStore is the part of the job store the service uses.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// Enqueuer accepts work for the dispatch loop. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(item queue.Item) bool
}

// Request asks for one message to be translated for one user.
type Request struct {
	UserID         string
	MessageID      string
	RoomCode       string
	Content        string
	TargetLanguage string
}

// Service creates translation jobs and hands pending ones to the queue.
type Service struct {
	logger *slog.Logger
	store  JobStore
	queue  Enqueuer
	clock  clock.Clock
}

// NewService creates a new Service
func NewService(logger *slog.Logger, store JobStore, q Enqueuer, c clock.Clock) *Service {
	if c == nil {
		c = clock.New()
	}
	return &Service{logger: logger, store: store, queue: q, clock: c}
}

// RequestTranslation records a job for the request and enqueues it while it is pending.
// Re-submitting an existing identity returns the stored job with created=false.
func (s *Service) RequestTranslation(ctx context.Context, req Request) (*domain.Job, bool, error) {
	lang, err := ValidateLanguage(req.TargetLanguage)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, false, errors.New("message has no text to translate")
	}

	now := s.clock.Now().UTC()
	job, created, err := s.store.CreateJob(ctx, &domain.Job{
		JobID:          uuid.NewString(),
		UserID:         req.UserID,
		MessageID:      req.MessageID,
		RoomCode:       req.RoomCode,
		TargetLanguage: lang,
		SourceText:     req.Content,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, false, err
	}

	if job.Status == domain.JobStatusPending {
		if s.queue.Enqueue(queue.ItemFromJob(job)) {
			s.logger.Info("Translation job enqueued",
				slog.String("job_id", job.JobID),
				slog.String("message_id", job.MessageID),
				slog.String("target_language", job.TargetLanguage),
			)
		}
	}

	return job, created, nil
}

// GetJob returns a job if it belongs to userID.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}
