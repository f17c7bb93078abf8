package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	job_id, user_id, message_id, room_code, target_language, source_text,
	status, retry_count, last_attempt_at, error_message, translated_text,
	created_at, updated_at`

// Storage is the durable job store backing the translation queue.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a pending job unless one with the same identity exists.
// It returns the stored row and whether this call created it.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	query := s.db.Rebind(`
		INSERT INTO translation_jobs (
			job_id, user_id, message_id, room_code, target_language, source_text,
			status, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id, message_id, target_language) DO NOTHING
	`)

	res, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.UserID,
		job.MessageID,
		job.RoomCode,
		job.TargetLanguage,
		job.SourceText,
		domain.JobStatusPending,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create translation job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	stored, err := s.GetJobByIdentity(ctx, job.Identity())
	if err != nil {
		return nil, false, err
	}

	if rows == 0 {
		s.logger.Debug("Translation job already exists",
			slog.String("job_id", stored.JobID),
			slog.String("message_id", job.MessageID),
			slog.String("target_language", job.TargetLanguage),
		)
	}

	return stored, rows > 0, nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM translation_jobs WHERE job_id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get translation job: %w", err)
	}

	return &job, nil
}

// GetJobByIdentity retrieves the job for a (user, message, language) triple.
func (s *Storage) GetJobByIdentity(ctx context.Context, id domain.Identity) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM translation_jobs
		WHERE user_id = ? AND message_id = ? AND target_language = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id.UserID, id.MessageID, id.TargetLanguage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get translation job: %w", err)
	}

	return &job, nil
}

// MarkProcessing moves a pending job to processing and stamps the attempt time.
// A job already in processing is re-stamped: it belongs to a dispatch whose
// outcome could not be recorded and is being retried by the same process.
func (s *Storage) MarkProcessing(ctx context.Context, jobID string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE translation_jobs
		SET status = ?, last_attempt_at = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?)
	`)

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusProcessing, at, at, jobID, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	return s.checkTransition(ctx, res, jobID, domain.JobStatusProcessing)
}

// MarkCompleted stores the translated text on a processing job.
func (s *Storage) MarkCompleted(ctx context.Context, jobID, text string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE translation_jobs
		SET status = ?, translated_text = ?, error_message = NULL, updated_at = ?
		WHERE job_id = ? AND status = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, text, at, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return s.checkTransition(ctx, res, jobID, domain.JobStatusCompleted)
}

// MarkRetry returns a processing job to pending with a new retry count.
func (s *Storage) MarkRetry(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error {
	return s.markAttemptFailed(ctx, jobID, domain.JobStatusPending, retryCount, errMsg, at)
}

// MarkFailed terminates a processing job.
func (s *Storage) MarkFailed(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error {
	return s.markAttemptFailed(ctx, jobID, domain.JobStatusFailed, retryCount, errMsg, at)
}

func (s *Storage) markAttemptFailed(ctx context.Context, jobID string, status domain.JobStatus, retryCount int, errMsg string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE translation_jobs
		SET status = ?, retry_count = ?, error_message = ?, updated_at = ?
		WHERE job_id = ? AND status = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		status, retryCount, errMsg, at, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}

	return s.checkTransition(ctx, res, jobID, status)
}

// checkTransition distinguishes a vanished row from a status mismatch
// when a guarded UPDATE touched nothing.
func (s *Storage) checkTransition(ctx context.Context, res sql.Result, jobID string, to domain.JobStatus) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Debug("Translation job status updated",
			slog.String("job_id", jobID),
			slog.String("status", to.String()),
		)
		return nil
	}

	current, err := s.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	s.logger.Warn("Rejected translation job transition",
		slog.String("job_id", jobID),
		slog.String("from", current.Status.String()),
		slog.String("to", to.String()),
	)
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, to)
}

// ResetInterrupted puts jobs left in processing by a crashed process back to pending.
func (s *Storage) ResetInterrupted(ctx context.Context, at time.Time) (int64, error) {
	query := s.db.Rebind(`
		UPDATE translation_jobs
		SET status = ?, updated_at = ?
		WHERE status = ?
	`)

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, at, domain.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// ListRecoverableJobs returns pending jobs below the retry ceiling in creation order.
func (s *Storage) ListRecoverableJobs(ctx context.Context, maxRetries int) ([]*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM translation_jobs
		WHERE status = ? AND retry_count < ?
		ORDER BY created_at ASC, job_id ASC`)

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, maxRetries); err != nil {
		return nil, fmt.Errorf("failed to list recoverable jobs: %w", err)
	}

	return jobs, nil
}

// DeleteExpiredJobs removes completed jobs and exhausted failed jobs last updated before cutoff.
func (s *Storage) DeleteExpiredJobs(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	query := s.db.Rebind(`
		DELETE FROM translation_jobs
		WHERE updated_at < ?
		  AND (status = ? OR (status = ? AND retry_count >= ?))
	`)

	res, err := s.db.ExecContext(ctx, query,
		cutoff, domain.JobStatusCompleted, domain.JobStatusFailed, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CountByStatus returns the number of jobs per status.
func (s *Storage) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Count  int              `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM translation_jobs GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
