package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
	"github.com/cuongbtq/alliance-chat/internal/translation/storage"
	"github.com/cuongbtq/alliance-chat/shared/database"
	"github.com/cuongbtq/alliance-chat/shared/logger"
)

const (
	testInterval   = 2 * time.Second
	testRetryDelay = 10 * time.Second
	testMaxRetries = 3

	// settle bounds waits for work the mock clock hands to other goroutines.
	settle = 2 * time.Second
)

var startTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// scriptedTranslator returns queued responses in order, then repeats the last one.
type scriptedTranslator struct {
	mu        sync.Mutex
	responses []response
	calls     []string
}

type response struct {
	text  string
	err   error
	panic bool
}

func (s *scriptedTranslator) Translate(_ context.Context, text, lang string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text+"->"+lang)
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	if r.panic {
		panic("upstream exploded")
	}
	return r.text, r.err
}

func (s *scriptedTranslator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	results map[string][]domain.TranslationResult
}

func (n *recordingNotifier) Notify(userID string, result domain.TranslationResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.results == nil {
		n.results = make(map[string][]domain.TranslationResult)
	}
	n.results[userID] = append(n.results[userID], result)
}

func (n *recordingNotifier) For(userID string) []domain.TranslationResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.results[userID]
}

// flakyStore fails the first write of each configured kind with a transient error.
type flakyStore struct {
	*storage.Storage

	mu            sync.Mutex
	failRetry     int
	failFailed    int
	failCompleted int
}

var errBlip = errors.New("database connection reset")

func (s *flakyStore) take(n *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *n == 0 {
		return false
	}
	*n--
	return true
}

func (s *flakyStore) MarkRetry(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error {
	if s.take(&s.failRetry) {
		return errBlip
	}
	return s.Storage.MarkRetry(ctx, jobID, retryCount, errMsg, at)
}

func (s *flakyStore) MarkFailed(ctx context.Context, jobID string, retryCount int, errMsg string, at time.Time) error {
	if s.take(&s.failFailed) {
		return errBlip
	}
	return s.Storage.MarkFailed(ctx, jobID, retryCount, errMsg, at)
}

func (s *flakyStore) MarkCompleted(ctx context.Context, jobID, text string, at time.Time) error {
	if s.take(&s.failCompleted) {
		return errBlip
	}
	return s.Storage.MarkCompleted(ctx, jobID, text, at)
}

type fixture struct {
	store      *storage.Storage
	clock      *clock.Mock
	translator *scriptedTranslator
	notifier   *recordingNotifier
	queue      *Queue
}

func newFixture(t *testing.T, responses ...response) *fixture {
	t.Helper()

	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	if len(responses) == 0 {
		responses = []response{{text: "ok"}}
	}

	f := &fixture{
		store:      storage.NewStorage(client.GetDB(), logger.Nop()),
		clock:      clock.NewMock(),
		translator: &scriptedTranslator{responses: responses},
		notifier:   &recordingNotifier{},
	}
	f.clock.Set(startTime)
	f.queue = New(&Config{
		Logger:     logger.Nop(),
		Store:      f.store,
		Translator: f.translator,
		Notifier:   f.notifier,
		Clock:      f.clock,
		Interval:   testInterval,
		MaxRetries: testMaxRetries,
		RetryDelay: testRetryDelay,
	})
	return f
}

// createJob persists a pending job created offset after startTime and returns its item.
func (f *fixture) createJob(t *testing.T, user, message, lang string, offset time.Duration) Item {
	t.Helper()
	at := startTime.Add(offset)
	job, _, err := f.store.CreateJob(context.Background(), &domain.Job{
		JobID:          fmt.Sprintf("job-%s-%s-%s", user, message, lang),
		UserID:         user,
		MessageID:      message,
		RoomCode:       "R1",
		TargetLanguage: lang,
		SourceText:     "text of " + message,
		CreatedAt:      at,
		UpdatedAt:      at,
	})
	require.NoError(t, err)
	return ItemFromJob(job)
}

func (f *fixture) job(t *testing.T, item Item) *domain.Job {
	t.Helper()
	job, err := f.store.GetJobByID(context.Background(), item.JobID)
	require.NoError(t, err)
	return job
}

// step advances the clock by one interval and runs a tick.
func (f *fixture) step() bool {
	f.clock.Add(testInterval)
	return f.queue.tick(context.Background())
}

// awaitQueued waits for delayed retries fired by the clock to land in the queue.
func (f *fixture) awaitQueued(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.queue.Stats()
		return s.Queued == n && s.Delayed == 0
	}, settle, time.Millisecond)
}

func queuedIDs(q *Queue) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.items))
	for _, it := range q.items {
		ids = append(ids, it.JobID)
	}
	return ids
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	f := newFixture(t)

	items := []Item{
		{JobID: "1", UserID: "u1", MessageID: "m1", TargetLanguage: "fr", Priority: 1},
		{JobID: "2", UserID: "u1", MessageID: "m1", TargetLanguage: "de", Priority: 2},
		{JobID: "3", UserID: "u2", MessageID: "m1", TargetLanguage: "fr", Priority: 3},
		{JobID: "4", UserID: "u1", MessageID: "m2", TargetLanguage: "fr", Priority: 4},
	}
	for i, item := range items {
		assert.True(t, f.queue.Enqueue(item))
		assert.Equal(t, i+1, f.queue.Size())
	}

	dup := items[0]
	dup.JobID = "other"
	dup.Priority = 0
	assert.False(t, f.queue.Enqueue(dup))
	assert.Equal(t, len(items), f.queue.Size())
}

func TestQueue_OrderedByPriority(t *testing.T) {
	f := newFixture(t)

	f.queue.Enqueue(Item{JobID: "late", UserID: "u", MessageID: "a", TargetLanguage: "fr", Priority: 30})
	f.queue.Enqueue(Item{JobID: "early", UserID: "u", MessageID: "b", TargetLanguage: "fr", Priority: 10})
	f.queue.Enqueue(Item{JobID: "tie-1", UserID: "u", MessageID: "c", TargetLanguage: "fr", Priority: 20})
	f.queue.Enqueue(Item{JobID: "tie-2", UserID: "u", MessageID: "d", TargetLanguage: "fr", Priority: 20})

	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, queuedIDs(f.queue))
}

func TestQueue_TickNoops(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.queue.tick(context.Background()), "empty queue")

	f.queue.Enqueue(f.createJob(t, "u1", "m1", "fr", 0))
	f.queue.Enqueue(f.createJob(t, "u1", "m2", "fr", time.Second))

	assert.True(t, f.queue.tick(context.Background()))
	assert.False(t, f.queue.tick(context.Background()), "interval not elapsed")

	f.clock.Add(testInterval / 2)
	assert.False(t, f.queue.tick(context.Background()), "half an interval")

	f.clock.Add(testInterval / 2)
	assert.True(t, f.queue.tick(context.Background()))
	assert.Len(t, f.translator.Calls(), 2)
}

type blockingTranslator struct {
	release  chan struct{}
	entered  chan struct{}
	active   atomic.Int32
	maxSeen  atomic.Int32
	attempts atomic.Int32
}

func (b *blockingTranslator) Translate(ctx context.Context, _, _ string) (string, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	b.attempts.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return "ok", nil
}

func TestQueue_SingleInFlight(t *testing.T) {
	f := newFixture(t)
	bt := &blockingTranslator{release: make(chan struct{}), entered: make(chan struct{}, 16)}
	f.queue.translator = bt

	for i := 0; i < 5; i++ {
		f.queue.Enqueue(f.createJob(t, "u1", fmt.Sprintf("m%d", i), "fr", time.Duration(i)*time.Second))
	}

	done := make(chan bool, 1)
	go func() { done <- f.queue.tick(context.Background()) }()
	<-bt.entered

	// Plenty of time has passed, but a dispatch is still running.
	for i := 0; i < 10; i++ {
		f.clock.Add(testInterval)
		assert.False(t, f.queue.tick(context.Background()))
	}
	stats := f.queue.Stats()
	assert.True(t, stats.InFlight)
	assert.Equal(t, 4, stats.Queued)

	close(bt.release)
	assert.True(t, <-done)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.clock.Add(testInterval)
			f.queue.tick(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), bt.maxSeen.Load())
	assert.False(t, f.queue.Stats().InFlight)
}

func TestQueue_RateLimitedUntilFailed(t *testing.T) {
	f := newFixture(t, response{err: fmt.Errorf("upstream 429: %w", domain.ErrRateLimited)})
	item := f.createJob(t, "u1", "m1", "fr", 0)
	require.True(t, f.queue.Enqueue(item))

	for attempt := 1; attempt <= testMaxRetries; attempt++ {
		require.True(t, f.step(), "attempt %d", attempt)

		job := f.job(t, item)
		if attempt < testMaxRetries {
			assert.Equal(t, domain.JobStatusPending, job.Status)
			assert.Equal(t, attempt, job.RetryCount)
			assert.Equal(t, 1, f.queue.Size(), "rate-limited job requeued immediately")
		} else {
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			assert.Equal(t, testMaxRetries, job.RetryCount)
			assert.Nil(t, job.TranslatedText)
		}
	}

	assert.Equal(t, 0, f.queue.Size())
	for i := 0; i < 5; i++ {
		assert.False(t, f.step())
	}
	assert.Len(t, f.translator.Calls(), testMaxRetries)
	assert.Empty(t, f.notifier.For("u1"))

	stats := f.queue.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(2), stats.Retried)
}

func TestQueue_RateLimitedMovesToTail(t *testing.T) {
	f := newFixture(t,
		response{err: domain.ErrRateLimited},
		response{text: "ok"},
	)
	a := f.createJob(t, "u1", "a", "fr", 0)
	b := f.createJob(t, "u1", "b", "fr", time.Second)
	f.queue.Enqueue(a)
	f.queue.Enqueue(b)

	require.True(t, f.step())
	assert.Equal(t, []string{b.JobID, a.JobID}, queuedIDs(f.queue))

	require.True(t, f.step())
	assert.Equal(t, []string{"text of a->fr", "text of b->fr"}, f.translator.Calls())
}

func TestQueue_OtherErrorRetriesAfterDelay(t *testing.T) {
	f := newFixture(t,
		response{err: errors.New("connection reset")},
		response{text: "ok"},
	)
	a := f.createJob(t, "u1", "a", "fr", 0)
	f.queue.Enqueue(a)

	require.True(t, f.queue.tick(context.Background()))

	stats := f.queue.Stats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.Delayed)
	assert.False(t, f.queue.Enqueue(a), "delayed item is still known")

	job := f.job(t, a)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "connection reset", *job.ErrorMessage)

	// A newer job arrives while a waits.
	b := f.createJob(t, "u1", "b", "fr", time.Minute)
	f.queue.Enqueue(b)

	f.clock.Add(testRetryDelay)
	f.awaitQueued(t, 2)
	assert.Equal(t, []string{a.JobID, b.JobID}, queuedIDs(f.queue), "original priority kept")
}

func TestQueue_EmptyTextAndPanicAreFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    response
		wantErr string
	}{
		{name: "empty text", resp: response{text: "   "}, wantErr: domain.ErrEmptyTranslation.Error()},
		{name: "panic", resp: response{panic: true}, wantErr: "translator panic: upstream exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.resp)
			item := f.createJob(t, "u1", "m1", "fr", 0)
			f.queue.Enqueue(item)

			require.True(t, f.queue.tick(context.Background()))

			job := f.job(t, item)
			assert.Equal(t, domain.JobStatusPending, job.Status)
			assert.Equal(t, 1, job.RetryCount)
			require.NotNil(t, job.ErrorMessage)
			assert.Equal(t, tt.wantErr, *job.ErrorMessage)
			assert.Equal(t, 1, f.queue.Stats().Delayed)
			assert.Empty(t, f.notifier.For("u1"))
		})
	}
}

func TestQueue_DropsVanishedJob(t *testing.T) {
	f := newFixture(t)
	f.queue.Enqueue(Item{JobID: "ghost", UserID: "u1", MessageID: "m1", TargetLanguage: "fr"})

	assert.True(t, f.queue.tick(context.Background()))
	assert.Empty(t, f.translator.Calls())
	assert.Equal(t, 0, f.queue.Size())
}

func TestQueue_CompletedHasText(t *testing.T) {
	f := newFixture(t, response{text: "Hallo"})
	item := f.createJob(t, "u1", "m1", "de", 0)
	f.queue.Enqueue(item)

	require.True(t, f.queue.tick(context.Background()))

	job := f.job(t, item)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.TranslatedText)
	assert.Equal(t, "Hallo", *job.TranslatedText)
}

func TestQueue_StartRecoversPendingJobsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	third := f.createJob(t, "u3", "m3", "fr", 3*time.Second)
	first := f.createJob(t, "u1", "m1", "fr", 1*time.Second)
	second := f.createJob(t, "u2", "m2", "fr", 2*time.Second)
	exhausted := f.createJob(t, "u4", "m4", "fr", 0)
	done := f.createJob(t, "u5", "m5", "fr", 0)

	// second was mid-dispatch when the previous process died.
	require.NoError(t, f.store.MarkProcessing(ctx, second.JobID, startTime))
	require.NoError(t, f.store.MarkProcessing(ctx, exhausted.JobID, startTime))
	require.NoError(t, f.store.MarkFailed(ctx, exhausted.JobID, testMaxRetries, "gave up", startTime))
	require.NoError(t, f.store.MarkProcessing(ctx, done.JobID, startTime))
	require.NoError(t, f.store.MarkCompleted(ctx, done.JobID, "fini", startTime))

	require.NoError(t, f.queue.Start(ctx))
	defer f.queue.Stop()

	assert.Equal(t, []string{first.JobID, second.JobID, third.JobID}, queuedIDs(f.queue))
	assert.Equal(t, domain.JobStatusPending, f.job(t, second).Status)

	assert.Error(t, f.queue.Start(ctx), "second start is rejected")
}

func TestQueue_StopCancelsDelayedRetries(t *testing.T) {
	f := newFixture(t, response{err: errors.New("boom")})
	item := f.createJob(t, "u1", "m1", "fr", 0)
	f.queue.Enqueue(item)

	require.True(t, f.queue.tick(context.Background()))
	require.Equal(t, 1, f.queue.Stats().Delayed)

	f.queue.Stop()
	f.queue.Stop()

	f.clock.Add(testRetryDelay)
	assert.Equal(t, 0, f.queue.Size())
	assert.Equal(t, 0, f.queue.Stats().Delayed)
}

func TestQueue_EndToEndRateLimitThenBonjour(t *testing.T) {
	f := newFixture(t,
		response{err: fmt.Errorf("capacity exceeded: %w", domain.ErrRateLimited)},
		response{text: "Bonjour"},
	)

	item := f.createJob(t, "U", "M", "fr", 0)
	require.True(t, f.queue.Enqueue(item))
	require.Equal(t, 1, f.queue.Size())

	require.True(t, f.queue.tick(context.Background()))
	job := f.job(t, item)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, f.queue.Size())

	require.True(t, f.step())
	job = f.job(t, item)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.TranslatedText)
	assert.Equal(t, "Bonjour", *job.TranslatedText)

	results := f.notifier.For("U")
	require.Len(t, results, 1)
	assert.Equal(t, "M", results[0].MessageID)
	assert.Equal(t, "Bonjour", results[0].TranslatedText)
	assert.Equal(t, "fr", results[0].TargetLanguage)
	assert.Equal(t, item.JobID, results[0].JobID)

	stats := f.queue.Stats()
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Equal(t, uint64(1), stats.Completed)
	require.NotNil(t, stats.LastDispatchAt)
	assert.Equal(t, startTime.Add(testInterval), *stats.LastDispatchAt)
}

func TestQueue_IdentityFieldsDoNotCollide(t *testing.T) {
	f := newFixture(t)

	a := Item{JobID: "a", UserID: "u|m1", MessageID: "x", TargetLanguage: "fr", Priority: 1}
	b := Item{JobID: "b", UserID: "u", MessageID: "m1|x", TargetLanguage: "fr", Priority: 2}

	assert.True(t, f.queue.Enqueue(a))
	assert.True(t, f.queue.Enqueue(b))
	assert.Equal(t, 2, f.queue.Size())
}

func TestQueue_UnrecordedOutcomeIsRetried(t *testing.T) {
	tests := []struct {
		name       string
		store      *flakyStore
		responses  []response
		retryCount int
		wantStatus domain.JobStatus
		wantCount  int
		wantCalls  int
	}{
		{
			name:  "retry write fails",
			store: &flakyStore{failRetry: 1},
			responses: []response{
				{err: errors.New("connection reset")},
				{text: "Bonjour"},
			},
			wantStatus: domain.JobStatusCompleted,
			wantCount:  1,
			wantCalls:  2,
		},
		{
			name:       "completion write fails",
			store:      &flakyStore{failCompleted: 1},
			responses:  []response{{text: "Bonjour"}},
			wantStatus: domain.JobStatusCompleted,
			wantCount:  0,
			wantCalls:  1,
		},
		{
			name:       "terminal write fails",
			store:      &flakyStore{failFailed: 1},
			responses:  []response{{err: errors.New("connection reset")}},
			retryCount: testMaxRetries - 1,
			wantStatus: domain.JobStatusFailed,
			wantCount:  testMaxRetries,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.responses...)
			tt.store.Storage = f.store
			f.queue.store = tt.store

			item := f.createJob(t, "u1", "m1", "fr", 0)
			item.RetryCount = tt.retryCount
			require.True(t, f.queue.Enqueue(item))

			require.True(t, f.queue.tick(context.Background()))
			assert.Equal(t, domain.JobStatusProcessing, f.job(t, item).Status)
			assert.Equal(t, 1, f.queue.Stats().Delayed, "kept for another attempt")
			assert.False(t, f.queue.Enqueue(item), "still known while waiting")

			for i := 0; i < 4 && !f.job(t, item).Status.Terminal(); i++ {
				if f.queue.Stats().Delayed > 0 {
					f.clock.Add(testRetryDelay)
					f.awaitQueued(t, 1)
				}
				require.True(t, f.queue.tick(context.Background()))
			}

			job := f.job(t, item)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantCount, job.RetryCount)
			assert.Len(t, f.translator.Calls(), tt.wantCalls)
			assert.Equal(t, 0, f.queue.Size())
			assert.Equal(t, 0, f.queue.Stats().Delayed)

			if tt.wantStatus == domain.JobStatusCompleted {
				results := f.notifier.For("u1")
				require.Len(t, results, 1)
				assert.Equal(t, "Bonjour", results[0].TranslatedText)
			} else {
				assert.Empty(t, f.notifier.For("u1"))
			}
		})
	}
}

func TestQueue_LoopDispatchesOnClockTicks(t *testing.T) {
	f := newFixture(t, response{text: "un"}, response{text: "deux"})
	ctx := context.Background()

	first := f.createJob(t, "u1", "m1", "fr", 0)
	second := f.createJob(t, "u1", "m2", "fr", time.Second)

	require.NoError(t, f.queue.Start(ctx))
	defer f.queue.Stop()
	require.Equal(t, 2, f.queue.Size())

	poll := f.queue.pollPeriod()
	require.Equal(t, testInterval/pollsPerInterval, poll)

	// First poll dispatches.
	f.clock.Add(poll)
	require.Eventually(t, func() bool {
		return len(f.notifier.For("u1")) == 1 && !f.queue.Stats().InFlight
	}, settle, time.Millisecond)
	assert.Equal(t, domain.JobStatusCompleted, f.job(t, first).Status)

	// Polls inside the interval find the limiter closed.
	for i := 1; i < pollsPerInterval; i++ {
		f.clock.Add(poll)
	}
	assert.Equal(t, 1, f.queue.Size())
	assert.Len(t, f.translator.Calls(), 1)

	// The first poll past the interval dispatches the next job.
	f.clock.Add(poll)
	require.Eventually(t, func() bool {
		return len(f.notifier.For("u1")) == 2
	}, settle, time.Millisecond)
	assert.Equal(t, domain.JobStatusCompleted, f.job(t, second).Status)

	stats := f.queue.Stats()
	assert.Equal(t, uint64(2), stats.Dispatched)
	require.NotNil(t, stats.LastDispatchAt)
	assert.Equal(t, startTime.Add(testInterval+poll), *stats.LastDispatchAt)
}

func TestQueue_PollPeriod(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{interval: 2 * time.Second, want: 500 * time.Millisecond},
		{interval: 20 * time.Millisecond, want: 5 * time.Millisecond},
		{interval: 2 * time.Millisecond, want: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.interval.String(), func(t *testing.T) {
			q := New(&Config{Logger: logger.Nop(), Interval: tt.interval})
			assert.Equal(t, tt.want, q.pollPeriod())
		})
	}
}
