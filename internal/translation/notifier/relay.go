package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// RoutingKeyTranslationCompleted is the routing key of relayed results.
const RoutingKeyTranslationCompleted = "translation.completed"

// Publisher is the broker capability the relay needs. *rabbitmq.Client implements it.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RelayConfig holds relay configuration
type RelayConfig struct {
	Logger         *slog.Logger
	Publisher      Publisher
	Buffer         int
	PublishTimeout time.Duration
}

// RelayEvent is the broker payload for a completed translation.
type RelayEvent struct {
	Type   string                   `json:"type"`
	UserID string                   `json:"user_id"`
	Result domain.TranslationResult `json:"result"`
	SentAt time.Time                `json:"sent_at"`
}

// Relay forwards completed translations to a message broker from a background
// goroutine. Notify never blocks; results are dropped when the buffer is full.
type Relay struct {
	logger    *slog.Logger
	publisher Publisher
	timeout   time.Duration
	events    chan RelayEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRelay creates a relay. Call Start before Notify has any effect.
func NewRelay(cfg *RelayConfig) *Relay {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		timeout:   timeout,
		events:    make(chan RelayEvent, buffer),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop drains what is already buffered and waits for the goroutine.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
	})
}

func (r *Relay) Notify(userID string, result domain.TranslationResult) {
	ev := RelayEvent{
		Type:   "translation_completed",
		UserID: userID,
		Result: result,
		SentAt: time.Now().UTC(),
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("Translation relay buffer full, dropping event",
			slog.String("user_id", userID),
			slog.String("job_id", result.JobID),
		)
	}
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.events:
			r.publish(ctx, ev)
		case <-ctx.Done():
			return
		case <-r.stopChan:
			for {
				select {
				case ev := <-r.events:
					r.publish(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev RelayEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("Failed to encode relay event", slog.Any("error", err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publisher.PublishWithRetry(pubCtx, RoutingKeyTranslationCompleted, body, "application/json"); err != nil {
		r.logger.Error("Failed to relay translation result",
			slog.String("job_id", ev.Result.JobID),
			slog.Any("error", err),
		)
	}
}
