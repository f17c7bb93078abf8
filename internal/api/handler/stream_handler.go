package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/alliance-chat/internal/api/dto"
	chat "github.com/cuongbtq/alliance-chat/internal/chat/domain"
	"github.com/cuongbtq/alliance-chat/internal/chat/ws"
	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
)

// frameMembershipTimeout bounds the membership lookup made for an inbound frame.
const frameMembershipTimeout = 2 * time.Second

// RoomStream handles GET /ws/rooms/:room_code
// Sends recent history, then every event published to the room. Inbound
// {"type":"typing","typing":bool} frames drive the typing tracker while the
// user is still a member; a removed member's stream is closed.
func (h *Handler) RoomStream(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	roomCode := c.Param("room_code")

	history, err := h.messages.RecentMessages(c.Request.Context(), roomCode, h.historyLimit)
	if err != nil {
		h.logger.Error("Failed to load room history",
			slog.String("room_code", roomCode),
			slog.String("error", err.Error()),
		)
		history = nil
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	log := h.logger.With(
		slog.String("room_code", roomCode),
		slog.String("user_id", user.UserID),
	)

	var client *ws.Client
	client = ws.NewClient(conn, log, ws.WithMessageHandler(func(data []byte) {
		if !h.handleRoomFrame(log, roomCode, user.UserID, data) {
			client.Close()
		}
	}))

	for i := range history {
		if err := client.Send(chat.NewMessageEvent(&history[i])); err != nil {
			log.Debug("History replay stopped", slog.String("error", err.Error()))
			break
		}
	}

	sub := h.hub.Subscribe(roomCode, client)
	client.Start(func() {
		sub.Close()
		if h.typing.IsTyping(roomCode, user.UserID) {
			h.typing.MarkStopped(roomCode, user.UserID)
		}
		log.Debug("Room stream closed")
	})

	log.Debug("Room stream opened", slog.Int("history", len(history)))
}

// handleRoomFrame applies one inbound frame. It returns false when the sender
// is no longer a member of the room and the stream should be closed.
func (h *Handler) handleRoomFrame(log *slog.Logger, roomCode, userID string, data []byte) bool {
	var frame dto.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Debug("Ignoring malformed frame", slog.String("error", err.Error()))
		return true
	}
	if frame.Type != string(chat.EventTyping) {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameMembershipTimeout)
	defer cancel()
	member, err := h.membership.IsMember(ctx, roomCode, userID)
	if err != nil {
		log.Error("Membership check failed, ignoring frame", slog.String("error", err.Error()))
		return true
	}
	if !member {
		log.Info("Closing room stream of removed member")
		return false
	}

	if frame.Typing {
		h.typing.MarkTyping(roomCode, userID)
	} else {
		h.typing.MarkStopped(roomCode, userID)
	}
	return true
}

// TranslationStream handles GET /ws/translations
// Pushes translation_completed events for jobs the caller requested.
func (h *Handler) TranslationStream(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	log := h.logger.With(slog.String("user_id", user.UserID))
	client := ws.NewClient(conn, log, ws.WithPingPeriod(h.resultPingPeriod))

	unsubscribe := h.results.Subscribe(user.UserID, func(result domain.TranslationResult) {
		if err := client.Send(chat.NewTranslationCompletedEvent(result)); err != nil {
			log.Warn("Dropping translation stream", slog.String("error", err.Error()))
			client.Close()
		}
	})

	go func() {
		<-client.Done()
		unsubscribe()
	}()
	client.Start(nil)

	log.Debug("Translation stream opened")
}
