package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/alliance-chat/internal/api/dto"
	chat "github.com/cuongbtq/alliance-chat/internal/chat/domain"
	"github.com/cuongbtq/alliance-chat/internal/translation"
	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// RequestTranslation handles POST /api/v1/rooms/:room_code/messages/:message_id/translations
// Accepts the request and returns the job; the result arrives on the user's stream.
func (h *Handler) RequestTranslation(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	roomCode := c.Param("room_code")
	messageID := c.Param("message_id")

	var req dto.RequestTranslationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.messages.GetMessage(ctx, roomCode, messageID)
	if err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get message"})
		return
	}

	job, created, err := h.translations.RequestTranslation(ctx, translation.Request{
		UserID:         user.UserID,
		MessageID:      msg.MessageID,
		RoomCode:       msg.RoomCode,
		Content:        msg.Content,
		TargetLanguage: req.TargetLanguage,
	})
	if err != nil {
		if errors.Is(err, translation.ErrInvalidLanguage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to request translation",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request translation"})
		return
	}

	c.JSON(http.StatusAccepted, dto.NewTranslationDTO(job, created))
}

// GetTranslation handles GET /api/v1/translations/:job_id
// Jobs of other users are reported as not found.
func (h *Handler) GetTranslation(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	job, err := h.translations.GetJob(c.Request.Context(), user.UserID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get translation job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get translation job"})
		return
	}

	c.JSON(http.StatusOK, dto.NewTranslationDTO(job, false))
}

// QueueStatus handles GET /api/v1/queue/status
func (h *Handler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}
