package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/alliance-chat/internal/api/auth"
	"github.com/cuongbtq/alliance-chat/internal/chat/broadcast"
	chat "github.com/cuongbtq/alliance-chat/internal/chat/domain"
	"github.com/cuongbtq/alliance-chat/internal/chat/storage"
	"github.com/cuongbtq/alliance-chat/internal/translation"
	"github.com/cuongbtq/alliance-chat/internal/translation/domain"
	"github.com/cuongbtq/alliance-chat/internal/translation/notifier"
	"github.com/cuongbtq/alliance-chat/internal/translation/queue"
)

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	defaultHistoryLimit = 50
	maxContentLength    = 2000
)

// MessageStore persists room messages. *storage.Storage implements it.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *chat.Message) error
	GetMessage(ctx context.Context, roomCode, messageID string) (*chat.Message, error)
	DeleteMessage(ctx context.Context, roomCode, messageID, userID string, at time.Time) error
	ListMessages(ctx context.Context, filter storage.MessageFilter) ([]chat.Message, error)
	RecentMessages(ctx context.Context, roomCode string, limit int) ([]chat.Message, error)
}

// MembershipChecker answers whether a user belongs to a room.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomCode, userID string) (bool, error)
}

// Broadcaster is the room fan-out. *broadcast.Hub implements it.
type Broadcaster interface {
	Subscribe(roomCode string, sub broadcast.Subscriber) *broadcast.Subscription
	Publish(roomCode string, ev chat.Event) int
}

// TypingTracker is the presence tracker. *presence.Tracker implements it.
type TypingTracker interface {
	MarkTyping(roomCode, userID string)
	MarkStopped(roomCode, userID string)
	IsTyping(roomCode, userID string) bool
}

// TranslationService creates and reads translation jobs.
type TranslationService interface {
	RequestTranslation(ctx context.Context, req translation.Request) (*domain.Job, bool, error)
	GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error)
}

// ResultSubscriber is the per-user result registry. *notifier.Notifier implements it.
type ResultSubscriber interface {
	Subscribe(userID string, cb notifier.Callback) (unsubscribe func())
}

// QueueInspector exposes dispatch queue counters.
type QueueInspector interface {
	Stats() queue.Stats
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

// HealthDetail reports extra state for the health endpoint, e.g. pool stats.
type HealthDetail func() any

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	Messages     MessageStore
	Membership   MembershipChecker
	Hub          Broadcaster
	Typing       TypingTracker
	Translations TranslationService
	Results      ResultSubscriber
	Queue        QueueInspector
	Upgrader     *websocket.Upgrader
	HealthChecks map[string]HealthCheck
	HealthDetail map[string]HealthDetail

	// HistoryLimit is how many recent messages a new room stream receives.
	HistoryLimit int
	// ResultPingPeriod keeps idle translation streams alive.
	ResultPingPeriod time.Duration
}

// Handler serves the chat and translation endpoints.
type Handler struct {
	logger       *slog.Logger
	clock        clock.Clock
	messages     MessageStore
	membership   MembershipChecker
	hub          Broadcaster
	typing       TypingTracker
	translations TranslationService
	results      ResultSubscriber
	queue        QueueInspector
	upgrader     *websocket.Upgrader
	healthChecks map[string]HealthCheck
	healthDetail map[string]HealthDetail

	historyLimit     int
	resultPingPeriod time.Duration
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	c := deps.Clock
	if c == nil {
		c = clock.New()
	}
	upgrader := deps.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	pingPeriod := deps.ResultPingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}

	return &Handler{
		logger:           deps.Logger,
		clock:            c,
		messages:         deps.Messages,
		membership:       deps.Membership,
		hub:              deps.Hub,
		typing:           deps.Typing,
		translations:     deps.Translations,
		results:          deps.Results,
		queue:            deps.Queue,
		upgrader:         upgrader,
		healthChecks:     deps.HealthChecks,
		healthDetail:     deps.HealthDetail,
		historyLimit:     historyLimit,
		resultPingPeriod: pingPeriod,
	}
}

// RequireMember aborts with 403 unless the caller belongs to the :room_code room.
// It must run after the auth middleware.
func (h *Handler) RequireMember(c *gin.Context) {
	user, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	roomCode := c.Param("room_code")
	if roomCode == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_code is required"})
		return
	}

	member, err := h.membership.IsMember(c.Request.Context(), roomCode, user.UserID)
	if err != nil {
		h.logger.Error("Membership check failed",
			slog.String("room_code", roomCode),
			slog.String("user_id", user.UserID),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
		return
	}
	if !member {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": chat.ErrNotMember.Error()})
		return
	}

	c.Next()
}

// caller returns the authenticated identity. Routes are mounted behind the
// auth middleware, so a miss is a wiring bug reported as 401.
func caller(c *gin.Context) (auth.Identity, bool) {
	user, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return user, ok
}
