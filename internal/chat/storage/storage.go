package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/alliance-chat/internal/chat/domain"
	"github.com/jmoiron/sqlx"
)

const messageColumns = `message_id, room_code, user_id, username, content, created_at, deleted_at`

// Storage persists chat messages.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) SaveMessage(ctx context.Context, msg *domain.Message) error {
	query := s.db.Rebind(`
		INSERT INTO chat_messages (
			message_id, room_code, user_id, username, content, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		msg.MessageID,
		msg.RoomCode,
		msg.UserID,
		msg.Username,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetMessage returns a live (not deleted) message of a room.
func (s *Storage) GetMessage(ctx context.Context, roomCode, messageID string) (*domain.Message, error) {
	query := s.db.Rebind(`SELECT ` + messageColumns + ` FROM chat_messages
		WHERE room_code = ? AND message_id = ? AND deleted_at IS NULL`)

	var msg domain.Message
	if err := s.db.GetContext(ctx, &msg, query, roomCode, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// DeleteMessage soft-deletes a message. Only its author may delete it.
func (s *Storage) DeleteMessage(ctx context.Context, roomCode, messageID, userID string, at time.Time) error {
	msg, err := s.GetMessage(ctx, roomCode, messageID)
	if err != nil {
		return err
	}
	if msg.UserID != userID {
		return domain.ErrNotAuthor
	}

	query := s.db.Rebind(`
		UPDATE chat_messages SET deleted_at = ?
		WHERE message_id = ? AND user_id = ? AND deleted_at IS NULL
	`)
	res, err := s.db.ExecContext(ctx, query, at, messageID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}

	return nil
}

type MessageFilter struct {
	RoomCode string
	PageSize int
	Cursor   *MessageCursor
}

type MessageCursor struct {
	CreatedAt time.Time
	MessageID string
}

// ListMessages returns up to PageSize+1 live messages, newest first.
// The extra row tells the caller another page exists.
func (s *Storage) ListMessages(ctx context.Context, filter MessageFilter) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages
		WHERE room_code = ? AND deleted_at IS NULL`
	args := []interface{}{filter.RoomCode}

	if filter.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND message_id < ?))`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.MessageID)
	}

	// Order by created_at DESC, message_id DESC for consistent pagination
	query += ` ORDER BY created_at DESC, message_id DESC LIMIT ?`
	args = append(args, filter.PageSize+1)

	var msgs []domain.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return msgs, nil
}

// RecentMessages returns the last limit live messages of a room, oldest first.
func (s *Storage) RecentMessages(ctx context.Context, roomCode string, limit int) ([]domain.Message, error) {
	msgs, err := s.ListMessages(ctx, MessageFilter{RoomCode: roomCode, PageSize: limit - 1})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
