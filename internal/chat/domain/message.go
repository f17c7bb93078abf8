package domain

import (
	"errors"
	"time"
)

var (
	// ErrMessageNotFound is returned when a message does not exist or was deleted
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotAuthor is returned when a user tries to delete someone else's message
	ErrNotAuthor = errors.New("only the author can delete a message")

	// ErrNotMember is returned when a user is not a member of the room
	ErrNotMember = errors.New("user is not a member of the room")
)

// Message is a chat message posted to a room.
type Message struct {
	MessageID string     `db:"message_id" json:"message_id"`
	RoomCode  string     `db:"room_code" json:"room_code"`
	UserID    string     `db:"user_id" json:"user_id"`
	Username  string     `db:"username" json:"username"`
	Content   string     `db:"content" json:"content"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}
