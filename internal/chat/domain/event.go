package domain

import (
	"time"

	translation "github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// EventType discriminates payloads on the live streams.
type EventType string

// Event types
const (
	EventMessage              EventType = "message"
	EventMessageDeleted       EventType = "message_deleted"
	EventTyping               EventType = "typing"
	EventTranslationCompleted EventType = "translation_completed"
	EventHeartbeat            EventType = "heartbeat"
)

// Event is one JSON frame written to a room or user stream.
type Event struct {
	Type        EventType                      `json:"type"`
	RoomCode    string                         `json:"room_code,omitempty"`
	Message     *Message                       `json:"message,omitempty"`
	MessageID   string                         `json:"message_id,omitempty"`
	UserID      string                         `json:"user_id,omitempty"`
	Typing      *bool                          `json:"typing,omitempty"`
	Translation *translation.TranslationResult `json:"translation,omitempty"`
	SentAt      time.Time                      `json:"sent_at"`
}

func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventMessage, RoomCode: msg.RoomCode, Message: msg, SentAt: time.Now().UTC()}
}

func NewMessageDeletedEvent(roomCode, messageID string) Event {
	return Event{Type: EventMessageDeleted, RoomCode: roomCode, MessageID: messageID, SentAt: time.Now().UTC()}
}

func NewTypingEvent(roomCode, userID string, typing bool) Event {
	return Event{Type: EventTyping, RoomCode: roomCode, UserID: userID, Typing: &typing, SentAt: time.Now().UTC()}
}

func NewTranslationCompletedEvent(result translation.TranslationResult) Event {
	return Event{
		Type:        EventTranslationCompleted,
		RoomCode:    result.RoomCode,
		MessageID:   result.MessageID,
		Translation: &result,
		SentAt:      time.Now().UTC(),
	}
}

func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat, SentAt: time.Now().UTC()}
}
