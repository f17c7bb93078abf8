// Package sweeper periodically deletes translation jobs that aged past the retention window.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Store deletes completed and exhausted jobs last updated before cutoff.
type Store interface {
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error)
}

// Config holds sweeper configuration
type Config struct {
	Logger     *slog.Logger
	Store      Store
	Clock      clock.Clock
	Schedule   string // cron spec, e.g. "@every 1h" or "0 * * * *"
	Retention  time.Duration
	MaxRetries int
	Timeout    time.Duration
}

// Sweeper runs the job GC on a cron schedule.
type Sweeper struct {
	logger     *slog.Logger
	store      Store
	clock      clock.Clock
	schedule   string
	retention  time.Duration
	maxRetries int
	timeout    time.Duration

	parser cron.Parser
	c      *cron.Cron
}

// New creates a sweeper. Start must be called to schedule it.
func New(cfg *Config) *Sweeper {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Sweeper{
		logger:     cfg.Logger,
		store:      cfg.Store,
		clock:      cfg.Clock,
		schedule:   cfg.Schedule,
		retention:  cfg.Retention,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start validates the schedule and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := s.parser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	s.c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Translation job sweep failed", slog.Any("error", err))
		}
	}))
	s.c.Start()

	s.logger.Info("Translation job sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
	)
	return nil
}

// Stop stops scheduling and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.logger.Info("Translation job sweeper stopped")
}

// Sweep deletes expired jobs once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := s.clock.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteExpiredJobs(ctx, cutoff, s.maxRetries)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("Swept expired translation jobs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
