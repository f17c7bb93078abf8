package dto

import (
	"time"

	"github.com/cuongbtq/alliance-chat/internal/chat/domain"
)

type SendMessageRequest struct {
	Content     string   `json:"content" binding:"required"`
	TranslateTo []string `json:"translate_to"`
}

type SendMessageResponse struct {
	Message      MessageDTO       `json:"message"`
	Translations []TranslationDTO `json:"translations,omitempty"`
}

type ListMessagesRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListMessagesResponse struct {
	Messages   []MessageDTO `json:"messages"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type MessageDTO struct {
	MessageID string `json:"message_id"`
	RoomCode  string `json:"room_code"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func NewMessageDTO(m *domain.Message) MessageDTO {
	return MessageDTO{
		MessageID: m.MessageID,
		RoomCode:  m.RoomCode,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// TypingRequest is a pointer so an explicit false is distinguishable from a missing field.
type TypingRequest struct {
	Typing *bool `json:"typing" binding:"required"`
}

// ClientFrame is an inbound websocket frame on a room stream.
type ClientFrame struct {
	Type   string `json:"type"`
	Typing bool   `json:"typing"`
}
