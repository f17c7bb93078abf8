// Package ws adapts a gorilla/websocket connection to a non-blocking event subscriber.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuongbtq/alliance-chat/internal/chat/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var (
	// ErrClosed is returned by Send after the connection is gone.
	ErrClosed = errors.New("websocket client closed")

	// ErrSlowConsumer is returned by Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("websocket client outbound buffer full")
)

// NewUpgrader returns an upgrader accepting the given origins; an empty list accepts any.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// Client is a middleman between one websocket connection and the hubs.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	send chan []byte
	ping chan struct{}
	done chan struct{}

	pingPeriod time.Duration
	onMessage  func(data []byte)

	closeOnce sync.Once
}

type Option func(*Client)

// WithPingPeriod makes the client ping on its own ticker, for streams no hub heartbeats.
func WithPingPeriod(d time.Duration) Option {
	return func(c *Client) { c.pingPeriod = d }
}

// WithMessageHandler receives every text frame read from the peer.
func WithMessageHandler(f func(data []byte)) Option {
	return func(c *Client) { c.onMessage = f }
}

func NewClient(conn *websocket.Conn, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		ping:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send queues ev for writing without blocking. Heartbeats become ping frames.
func (c *Client) Send(ev domain.Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if ev.Type == domain.EventHeartbeat {
		select {
		case c.ping <- struct{}{}:
		default:
		}
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and releases the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start launches the read and write pumps. onClose runs once the peer goes away.
func (c *Client) Start(onClose func()) {
	go c.writePump()
	go c.readPump(onClose)
}

func (c *Client) readPump(onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Websocket read failed", slog.Any("error", err))
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-c.ping:
			if err := c.writePing(); err != nil {
				c.Close()
				return
			}

		case <-tick:
			if err := c.writePing(); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) writePing() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}
