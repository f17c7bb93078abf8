// Package notifier pushes completed translations to the requesting user's
// live sessions, independent of which rooms those sessions watch.
package notifier

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// Callback receives a completed translation for its user.
type Callback func(result domain.TranslationResult)

// Sink accepts completed translations. *Notifier, *Relay and Multi implement it.
type Sink interface {
	Notify(userID string, result domain.TranslationResult)
}

// Notifier is an in-memory registry of callbacks keyed by user id.
// Nothing is persisted; a notification with no listener is dropped.
type Notifier struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string]map[uint64]Callback
	seq    atomic.Uint64
}

// New returns an empty Notifier.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		subs:   make(map[string]map[uint64]Callback),
	}
}

// Subscribe registers cb for userID. The returned function removes it and is safe to call twice.
func (n *Notifier) Subscribe(userID string, cb Callback) (unsubscribe func()) {
	id := n.seq.Add(1)

	n.mu.Lock()
	set, ok := n.subs[userID]
	if !ok {
		set = make(map[uint64]Callback)
		n.subs[userID] = set
	}
	set[id] = cb
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if set, ok := n.subs[userID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(n.subs, userID)
				}
			}
		})
	}
}

// Notify invokes every callback registered for userID.
// A panicking callback is logged and does not stop the others.
func (n *Notifier) Notify(userID string, result domain.TranslationResult) {
	n.mu.RLock()
	set := n.subs[userID]
	callbacks := make([]Callback, 0, len(set))
	for _, cb := range set {
		callbacks = append(callbacks, cb)
	}
	n.mu.RUnlock()

	if len(callbacks) == 0 {
		n.logger.Debug("No listener for translation result",
			slog.String("user_id", userID),
			slog.String("job_id", result.JobID),
		)
		return
	}

	for _, cb := range callbacks {
		n.invoke(userID, result, cb)
	}
}

func (n *Notifier) invoke(userID string, result domain.TranslationResult, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Translation callback panicked",
				slog.String("user_id", userID),
				slog.String("job_id", result.JobID),
				slog.Any("panic", r),
			)
		}
	}()
	cb(result)
}

// SubscriberCount returns the number of callbacks registered for userID.
func (n *Notifier) SubscriberCount(userID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[userID])
}

// Multi fans one notification out to several sinks in order.
type Multi []Sink

func (m Multi) Notify(userID string, result domain.TranslationResult) {
	for _, s := range m {
		s.Notify(userID, result)
	}
}
