package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/alliance-chat/internal/api/dto"
	chat "github.com/cuongbtq/alliance-chat/internal/chat/domain"
	"github.com/cuongbtq/alliance-chat/internal/chat/storage"
	"github.com/cuongbtq/alliance-chat/internal/translation"
)

// SendMessage handles POST /api/v1/rooms/:room_code/messages
// Saves the message, broadcasts it to the room and requests any translations.
func (h *Handler) SendMessage(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	roomCode := c.Param("room_code")

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must not be empty"})
		return
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is too long"})
		return
	}

	languages := make([]string, 0, len(req.TranslateTo))
	seen := make(map[string]struct{}, len(req.TranslateTo))
	for _, lang := range req.TranslateTo {
		normalized, err := translation.ValidateLanguage(lang)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		languages = append(languages, normalized)
	}

	msg := &chat.Message{
		MessageID: uuid.NewString(),
		RoomCode:  roomCode,
		UserID:    user.UserID,
		Username:  user.Username,
		Content:   content,
		CreatedAt: h.clock.Now().UTC(),
	}

	ctx := c.Request.Context()
	if err := h.messages.SaveMessage(ctx, msg); err != nil {
		h.logger.Error("Failed to save message",
			slog.String("room_code", roomCode),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	if h.typing.IsTyping(roomCode, user.UserID) {
		h.typing.MarkStopped(roomCode, user.UserID)
	}
	delivered := h.hub.Publish(roomCode, chat.NewMessageEvent(msg))

	h.logger.Info("Message posted",
		slog.String("room_code", roomCode),
		slog.String("message_id", msg.MessageID),
		slog.Int("delivered", delivered),
	)

	resp := dto.SendMessageResponse{Message: dto.NewMessageDTO(msg)}
	for _, lang := range languages {
		job, created, err := h.translations.RequestTranslation(ctx, translation.Request{
			UserID:         user.UserID,
			MessageID:      msg.MessageID,
			RoomCode:       roomCode,
			Content:        msg.Content,
			TargetLanguage: lang,
		})
		if err != nil {
			// The message is already delivered; a failed request is reported by omission.
			h.logger.Error("Failed to request translation",
				slog.String("message_id", msg.MessageID),
				slog.String("target_language", lang),
				slog.String("error", err.Error()),
			)
			continue
		}
		resp.Translations = append(resp.Translations, dto.NewTranslationDTO(job, created))
	}

	c.JSON(http.StatusCreated, resp)
}

// ListMessages handles GET /api/v1/rooms/:room_code/messages
// Returns live messages newest first with cursor pagination.
func (h *Handler) ListMessages(c *gin.Context) {
	roomCode := c.Param("room_code")

	var req dto.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeMessageCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), storage.MessageFilter{
		RoomCode: roomCode,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list messages",
			slog.String("room_code", roomCode),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list messages"})
		return
	}

	hasMore := len(msgs) > req.PageSize
	if hasMore {
		msgs = msgs[:req.PageSize]
	}

	resp := dto.ListMessagesResponse{Messages: make([]dto.MessageDTO, len(msgs))}
	for i := range msgs {
		resp.Messages[i] = dto.NewMessageDTO(&msgs[i])
	}
	if hasMore {
		last := msgs[len(msgs)-1]
		resp.NextCursor = EncodeMessageCursor(&storage.MessageCursor{
			CreatedAt: last.CreatedAt,
			MessageID: last.MessageID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteMessage handles DELETE /api/v1/rooms/:room_code/messages/:message_id
// Soft-deletes the caller's own message and tells the room.
func (h *Handler) DeleteMessage(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	roomCode := c.Param("room_code")
	messageID := c.Param("message_id")

	err := h.messages.DeleteMessage(c.Request.Context(), roomCode, messageID, user.UserID, h.clock.Now().UTC())
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to delete message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
		return
	}

	h.hub.Publish(roomCode, chat.NewMessageDeletedEvent(roomCode, messageID))
	c.Status(http.StatusNoContent)
}

// SetTyping handles POST /api/v1/rooms/:room_code/typing
func (h *Handler) SetTyping(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	roomCode := c.Param("room_code")

	var req dto.TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if *req.Typing {
		h.typing.MarkTyping(roomCode, user.UserID)
	} else {
		h.typing.MarkStopped(roomCode, user.UserID)
	}

	c.Status(http.StatusNoContent)
}
