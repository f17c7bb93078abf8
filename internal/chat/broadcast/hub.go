// Package broadcast fans chat events out to every live subscriber of a room.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/alliance-chat/internal/chat/domain"
)

// Subscriber is one open output stream.
type Subscriber interface {
	// Send must not block. An error means the stream is dead.
	Send(ev domain.Event) error
	Close()
}

type room struct {
	mu   sync.Mutex
	subs map[uint64]Subscriber
}

// Hub is the registry of rooms. Lock order is Hub.mu then room.mu.
type Hub struct {
	logger    *slog.Logger
	heartbeat time.Duration

	mu    sync.Mutex
	rooms map[string]*room
	seq   atomic.Uint64
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	hub  *Hub
	room string
	id   uint64
	once sync.Once
}

// NewHub creates a hub. heartbeat <= 0 disables Run's ticker.
func NewHub(logger *slog.Logger, heartbeat time.Duration) *Hub {
	return &Hub{
		logger:    logger,
		heartbeat: heartbeat,
		rooms:     make(map[string]*room),
	}
}

// Subscribe registers sub for roomCode. The caller must have checked membership.
func (h *Hub) Subscribe(roomCode string, sub Subscriber) *Subscription {
	id := h.seq.Add(1)

	h.mu.Lock()
	r, ok := h.rooms[roomCode]
	if !ok {
		r = &room{subs: make(map[uint64]Subscriber)}
		h.rooms[roomCode] = r
	}
	r.mu.Lock()
	r.subs[id] = sub
	count := len(r.subs)
	r.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("Subscriber joined room",
		slog.String("room_code", roomCode),
		slog.Int("subscribers", count),
	)

	return &Subscription{hub: h, room: roomCode, id: id}
}

// Room returns the room code of the subscription.
func (s *Subscription) Room() string { return s.room }

// Close removes the subscription. It does not close the subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.Unsubscribe(s)
	})
}

// Unsubscribe removes s from its room and tears the room down when it empties.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[s.room]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.subs, s.id)
	empty := len(r.subs) == 0
	r.mu.Unlock()

	if empty {
		delete(h.rooms, s.room)
		h.logger.Debug("Room torn down", slog.String("room_code", s.room))
	}
}

// Publish writes ev to every subscriber of roomCode in publish order and
// returns how many received it. Failing subscribers are evicted and closed.
func (h *Hub) Publish(roomCode string, ev domain.Event) int {
	h.mu.Lock()
	r, ok := h.rooms[roomCode]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	var dead []Subscriber
	delivered := 0

	r.mu.Lock()
	for id, sub := range r.subs {
		if err := sub.Send(ev); err != nil {
			delete(r.subs, id)
			dead = append(dead, sub)
			h.logger.Warn("Evicting dead subscriber",
				slog.String("room_code", roomCode),
				slog.String("event_type", string(ev.Type)),
				slog.Any("error", err),
			)
			continue
		}
		delivered++
	}
	r.mu.Unlock()

	for _, sub := range dead {
		sub.Close()
	}
	if len(dead) > 0 {
		h.removeIfEmpty(roomCode)
	}

	return delivered
}

func (h *Hub) removeIfEmpty(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	r.mu.Lock()
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, roomCode)
	}
}

// RoomCount returns the number of rooms with at least one subscriber.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// SubscriberCount returns the number of subscribers of roomCode.
func (h *Hub) SubscriberCount(roomCode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomCode]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (h *Hub) roomCodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	return codes
}

// Heartbeat sends a heartbeat event to every subscriber of every room.
func (h *Hub) Heartbeat() {
	ev := domain.NewHeartbeatEvent()
	for _, code := range h.roomCodes() {
		h.Publish(code, ev)
	}
}

// Run sends heartbeats until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.heartbeat <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}
