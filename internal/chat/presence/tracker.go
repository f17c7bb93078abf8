// Package presence tracks who is typing in which room and expires the state
// when no renewal arrives within the typing window.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cuongbtq/alliance-chat/internal/chat/domain"
)

// DefaultWindow is how long a typing signal lasts without renewal.
const DefaultWindow = 4 * time.Second

// Publisher delivers typing events to a room. *broadcast.Hub implements it.
type Publisher interface {
	Publish(roomCode string, ev domain.Event) int
}

type key struct {
	room string
	user string
}

type entry struct {
	timer *clock.Timer
	gen   uint64
}

// Tracker holds at most one live expiry timer per (room, user).
type Tracker struct {
	logger    *slog.Logger
	publisher Publisher
	clock     clock.Clock
	window    time.Duration

	mu      sync.Mutex
	timers  map[key]*entry
	gen     uint64
	stopped bool
}

// NewTracker creates a tracker. A nil clock uses wall time; window <= 0 uses DefaultWindow.
func NewTracker(logger *slog.Logger, publisher Publisher, c clock.Clock, window time.Duration) *Tracker {
	if c == nil {
		c = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		logger:    logger,
		publisher: publisher,
		clock:     c,
		window:    window,
		timers:    make(map[key]*entry),
	}
}

// MarkTyping publishes typing=true and (re)starts the expiry timer for the user.
func (t *Tracker) MarkTyping(roomCode, userID string) {
	k := key{room: roomCode, user: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	if e, ok := t.timers[k]; ok {
		e.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.publisher.Publish(roomCode, domain.NewTypingEvent(roomCode, userID, true))
	t.timers[k] = &entry{
		gen:   gen,
		timer: t.clock.AfterFunc(t.window, func() { t.expire(k, gen) }),
	}
}

// MarkStopped cancels any pending expiry and publishes typing=false immediately.
func (t *Tracker) MarkStopped(roomCode, userID string) {
	k := key{room: roomCode, user: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	if e, ok := t.timers[k]; ok {
		e.timer.Stop()
		delete(t.timers, k)
	}
	t.publisher.Publish(roomCode, domain.NewTypingEvent(roomCode, userID, false))
}

// expire runs on the timer goroutine; a superseded timer finds a newer generation and does nothing.
func (t *Tracker) expire(k key, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.timers[k]
	if !ok || e.gen != gen {
		return
	}
	delete(t.timers, k)

	t.logger.Debug("Typing expired",
		slog.String("room_code", k.room),
		slog.String("user_id", k.user),
	)
	t.publisher.Publish(k.room, domain.NewTypingEvent(k.room, k.user, false))
}

// IsTyping reports whether the user has a live typing timer in the room.
func (t *Tracker) IsTyping(roomCode, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key{room: roomCode, user: userID}]
	return ok
}

// TypingUsers returns the users currently typing in a room, sorted.
func (t *Tracker) TypingUsers(roomCode string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for k := range t.timers {
		if k.room == roomCode {
			users = append(users, k.user)
		}
	}
	sort.Strings(users)
	return users
}

// Stop cancels every pending timer. Later calls are no-ops.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for k, e := range t.timers {
		e.timer.Stop()
		delete(t.timers, k)
	}
}
