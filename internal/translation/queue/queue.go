package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// pollsPerInterval is how often the loop looks for work within one dispatch
// interval. The limiter, not the ticker, enforces the gap between dispatches.
const pollsPerInterval = 4

// Store is the durable job state the queue reads at start and writes after every attempt.
type Store interface {
	MarkProcessing(ctx context.Context, jobID string, at time.Time) error
	MarkCompleted(ctx context.Context, jobID, text string, at time.Time) error
	MarkRetry(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error
	MarkFailed(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error
	ResetInterrupted(ctx context.Context, at time.Time) (int64, error)
	ListRecoverableJobs(ctx context.Context, maxRetries int) ([]*domain.Job, error)
}

// Translator calls the external translation service.
// Rate-limit rejections must wrap domain.ErrRateLimited.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Notifier receives completed translations.
type Notifier interface {
	Notify(userID string, result domain.TranslationResult)
}

// Config holds queue configuration
type Config struct {
	Logger     *slog.Logger
	Store      Store
	Translator Translator
	Notifier   Notifier
	Clock      clock.Clock

	// Interval is the minimum gap between two dispatches.
	Interval        time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	DispatchTimeout time.Duration
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued         int        `json:"queued"`
	Delayed        int        `json:"delayed"`
	InFlight       bool       `json:"in_flight"`
	LastDispatchAt *time.Time `json:"last_dispatch_at,omitempty"`
	Dispatched     uint64     `json:"dispatched"`
	Completed      uint64     `json:"completed"`
	Retried        uint64     `json:"retried"`
	Failed         uint64     `json:"failed"`
}

// Queue dispatches translation jobs one at a time at a bounded rate.
type Queue struct {
	logger     *slog.Logger
	store      Store
	translator Translator
	notifier   Notifier
	clock      clock.Clock

	interval        time.Duration
	maxRetries      int
	retryDelay      time.Duration
	dispatchTimeout time.Duration
	limiter         *rate.Limiter

	mu           sync.Mutex
	items        []Item
	queued       map[domain.Identity]struct{}
	delayed      map[domain.Identity]*clock.Timer
	inFlight     domain.Identity
	processing   bool
	stopped      bool
	lastDispatch time.Time
	stats        Stats

	started  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a queue. Defaults are applied to zero-valued tunables.
func New(cfg *Config) *Queue {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	return &Queue{
		logger:          cfg.Logger,
		store:           cfg.Store,
		translator:      cfg.Translator,
		notifier:        cfg.Notifier,
		clock:           cfg.Clock,
		interval:        cfg.Interval,
		maxRetries:      cfg.MaxRetries,
		retryDelay:      cfg.RetryDelay,
		dispatchTimeout: cfg.DispatchTimeout,
		limiter:         rate.NewLimiter(rate.Every(cfg.Interval), 1),
		queued:          make(map[domain.Identity]struct{}),
		delayed:         make(map[domain.Identity]*clock.Timer),
		stopChan:        make(chan struct{}),
	}
}

// Start rebuilds the queue from the store and launches the dispatch loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("translation queue already started")
	}
	q.started = true
	q.mu.Unlock()

	if err := q.recover(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.logger.Info("Starting translation queue",
		slog.Duration("interval", q.interval),
		slog.Duration("poll_period", q.pollPeriod()),
		slog.Int("max_retries", q.maxRetries),
		slog.Duration("retry_delay", q.retryDelay),
		slog.Int("queued", q.Size()),
	)

	ticker := q.clock.Ticker(q.pollPeriod())
	q.wg.Add(1)
	go q.run(loopCtx, ticker)

	return nil
}

// recover re-enqueues every pending job below the retry ceiling in creation order.
func (q *Queue) recover(ctx context.Context) error {
	reset, err := q.store.ResetInterrupted(ctx, q.now())
	if err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	if reset > 0 {
		q.logger.Warn("Reset interrupted translation jobs", slog.Int64("count", reset))
	}

	jobs, err := q.store.ListRecoverableJobs(ctx, q.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to load pending jobs: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		if q.Enqueue(ItemFromJob(job)) {
			restored++
		}
	}

	q.logger.Info("Recovered translation jobs", slog.Int("count", restored))
	return nil
}

// Stop halts the loop, cancels delayed re-enqueues and waits for an in-flight dispatch.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.logger.Info("Stopping translation queue...")
		close(q.stopChan)
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()

		q.mu.Lock()
		q.stopped = true
		for key, timer := range q.delayed {
			timer.Stop()
			delete(q.delayed, key)
		}
		q.mu.Unlock()

		q.logger.Info("Translation queue stopped")
	})
}

// Enqueue adds an item unless one with the same identity is queued, in flight
// or waiting on a retry delay. It reports whether the item was added.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.knownLocked(item.Identity()) {
		return false
	}

	q.pushLocked(item)
	return true
}

func (q *Queue) knownLocked(id domain.Identity) bool {
	if _, ok := q.queued[id]; ok {
		return true
	}
	if _, ok := q.delayed[id]; ok {
		return true
	}
	return q.processing && q.inFlight == id
}

func (q *Queue) pushLocked(item Item) {
	q.items = insertOrdered(q.items, item)
	q.queued[item.Identity()] = struct{}{}
}

// Size returns the number of items waiting for dispatch, excluding delayed retries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Queued = len(q.items)
	s.Delayed = len(q.delayed)
	s.InFlight = q.processing
	if !q.lastDispatch.IsZero() {
		last := q.lastDispatch
		s.LastDispatchAt = &last
	}
	return s
}

func (q *Queue) run(ctx context.Context, ticker *clock.Ticker) {
	defer q.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-q.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// pollPeriod is the loop tick. It is shorter than the interval so a dispatch
// follows soon after the limiter allows one.
func (q *Queue) pollPeriod() time.Duration {
	p := q.interval / pollsPerInterval
	if p < time.Millisecond {
		p = time.Millisecond
	}
	return p
}

func (q *Queue) now() time.Time {
	return q.clock.Now().UTC()
}

// tick dispatches the head item if nothing is in flight and the rate limit allows it.
// It reports whether a dispatch happened.
func (q *Queue) tick(ctx context.Context) bool {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	now := q.now()
	if !q.limiter.AllowN(now, 1) {
		q.mu.Unlock()
		return false
	}

	item := q.items[0]
	q.items = q.items[1:]
	id := item.Identity()
	delete(q.queued, id)
	q.inFlight = id
	q.processing = true
	q.lastDispatch = now
	q.stats.Dispatched++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.inFlight = domain.Identity{}
		q.mu.Unlock()
	}()

	q.dispatch(ctx, item)
	return true
}

func (q *Queue) dispatch(ctx context.Context, item Item) {
	log := q.logger.With(
		slog.String("job_id", item.JobID),
		slog.String("target_language", item.TargetLanguage),
		slog.Int("retry_count", item.RetryCount),
	)

	if err := q.store.MarkProcessing(ctx, item.JobID, q.now()); err != nil {
		if isStale(err) {
			log.Warn("Dropping translation job", slog.Any("error", err))
			return
		}
		log.Error("Failed to mark job processing, requeueing", slog.Any("error", err))
		q.requeue(item)
		return
	}

	var text string
	var err error
	if out := item.unrecorded; out != nil {
		item.unrecorded = nil
		text, err = out.text, out.err
		log.Info("Recording earlier translation attempt")
	} else {
		log.Info("Dispatching translation job")
		text, err = q.translate(ctx, item)
		if ctx.Err() != nil {
			log.Warn("Translation interrupted by shutdown, left for recovery")
			return
		}
		if err == nil && strings.TrimSpace(text) == "" {
			err = domain.ErrEmptyTranslation
		}
	}
	if err != nil {
		q.handleFailure(ctx, log, item, err)
		return
	}

	if err := q.store.MarkCompleted(ctx, item.JobID, text, q.now()); err != nil {
		q.recordLater(ctx, log, item, outcome{text: text}, err)
		return
	}

	q.mu.Lock()
	q.stats.Completed++
	q.mu.Unlock()

	log.Info("Translation job completed")

	q.notifier.Notify(item.UserID, domain.TranslationResult{
		JobID:          item.JobID,
		MessageID:      item.MessageID,
		RoomCode:       item.RoomCode,
		TargetLanguage: item.TargetLanguage,
		TranslatedText: text,
	})
}

// translate calls the translator once, bounded by the dispatch timeout.
// A panic is converted into an error.
func (q *Queue) translate(ctx context.Context, item Item) (text string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, q.dispatchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panic: %v", r)
		}
	}()

	return q.translator.Translate(callCtx, item.Content, item.TargetLanguage)
}

func (q *Queue) handleFailure(ctx context.Context, log *slog.Logger, item Item, cause error) {
	next := item.RetryCount + 1
	now := q.now()

	if next >= q.maxRetries {
		if err := q.store.MarkFailed(ctx, item.JobID, next, cause.Error(), now); err != nil {
			q.recordLater(ctx, log, item, outcome{err: cause}, err)
			return
		}
		q.mu.Lock()
		q.stats.Failed++
		q.mu.Unlock()
		log.Warn("Translation job failed permanently",
			slog.Int("attempts", next),
			slog.Any("error", cause),
		)
		return
	}

	if err := q.store.MarkRetry(ctx, item.JobID, next, cause.Error(), now); err != nil {
		q.recordLater(ctx, log, item, outcome{err: cause}, err)
		return
	}

	item.RetryCount = next
	q.mu.Lock()
	q.stats.Retried++
	q.mu.Unlock()

	if domain.IsRateLimited(cause) {
		item.Priority = now.UnixNano()
		log.Info("Translation rate limited, moved to tail", slog.Int("next_retry", next))
		q.requeue(item)
		return
	}

	log.Warn("Translation attempt failed, retrying after delay",
		slog.Duration("retry_delay", q.retryDelay),
		slog.Any("error", cause),
	)
	q.scheduleRetry(item)
}

// recordLater keeps an attempt whose outcome the store rejected with a
// transient error. The job stays in processing and is dispatched again after
// the retry delay, replaying the outcome without calling the translator.
func (q *Queue) recordLater(ctx context.Context, log *slog.Logger, item Item, out outcome, cause error) {
	if isStale(cause) {
		log.Warn("Dropping translation outcome for changed job", slog.Any("error", cause))
		return
	}
	if ctx.Err() != nil {
		log.Warn("Translation outcome lost to shutdown, left for recovery", slog.Any("error", cause))
		return
	}

	log.Error("Failed to record translation outcome, retrying after delay",
		slog.Duration("retry_delay", q.retryDelay),
		slog.Any("error", cause),
	)
	item.unrecorded = &out
	q.scheduleRetry(item)
}

// isStale reports a store error meaning the job changed under the queue.
func isStale(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition)
}

// requeue puts an item that was in flight back in line.
func (q *Queue) requeue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.pushLocked(item)
}

// scheduleRetry re-enqueues item after the retry delay, keeping its original priority.
func (q *Queue) scheduleRetry(item Item) {
	key := item.Identity()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	q.delayed[key] = q.clock.AfterFunc(q.retryDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.delayed[key]; !ok {
			return
		}
		delete(q.delayed, key)
		q.pushLocked(item)
	})
}
