// Package ws upgrades HTTP requests to WebSocket connections and binds them
// to the client connection registry. A connection becomes addressable only
// after the client identifies itself in the first frame.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/registry"
)

const (
	// writeWait is the per-frame write deadline.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead. pingPeriod must be shorter so pings go out first.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// maxMessageSize caps inbound frames; clients only ever send the
	// handshake.
	maxMessageSize = 512
)

// ErrSendBufferFull is returned when a client's outbound queue is full. The
// payload is dropped rather than blocking the dispatcher.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnectionClosed is returned when sending to a connection that has
// already shut down.
var ErrConnectionClosed = errors.New("connection closed")

// Handler accepts WebSocket connections, performs the identification
// handshake, and registers the resulting channel for alert delivery.
type Handler struct {
	registry         *registry.Registry
	logger           *slog.Logger
	metrics          *observability.Metrics
	handshakeTimeout time.Duration
	sendBufferSize   int

	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler backed by the given registry.
func NewHandler(reg *registry.Registry, logger *slog.Logger, metrics *observability.Metrics, handshakeTimeout time.Duration, sendBufferSize int) *Handler {
	return &Handler{
		registry:         reg,
		logger:           logger,
		metrics:          metrics,
		handshakeTimeout: handshakeTimeout,
		sendBufferSize:   sendBufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and blocks until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	clientID, err := h.awaitHandshake(conn)
	if err != nil {
		h.metrics.HandshakeFailures.Inc()
		h.logger.Warn("websocket handshake failed", "error", err, "remote", r.RemoteAddr)
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake required"), deadline)
		_ = conn.Close()
		return
	}

	c := newConnection(conn, h.sendBufferSize)
	h.registry.Register(clientID, c)
	h.metrics.ConnectionsOpen.Inc()
	h.logger.Info("client connected", "client_id", clientID, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	// Remove is compare-and-delete: a reconnect that already replaced this
	// channel in the registry is left untouched.
	h.registry.Remove(clientID, c)
	h.metrics.ConnectionsOpen.Dec()
	h.logger.Info("client disconnected", "client_id", clientID)
}

// handshakeFrame is the first frame a client must send. userId is accepted as
// either a JSON string or a number.
type handshakeFrame struct {
	UserID any `json:"userId"`
}

// awaitHandshake reads the identification frame within the handshake timeout.
func (h *Handler) awaitHandshake(conn *websocket.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return "", err
	}
	conn.SetReadLimit(maxMessageSize)

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}

	var frame handshakeFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", err
	}

	clientID, err := clientIDFromFrame(frame)
	if err != nil {
		return "", err
	}
	return clientID, nil
}

func clientIDFromFrame(frame handshakeFrame) (string, error) {
	switch id := frame.UserID.(type) {
	case string:
		if id == "" {
			return "", errors.New("empty userId")
		}
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case nil:
		return "", errors.New("missing userId")
	default:
		return "", errors.New("unsupported userId type")
	}
}

// connection wraps a WebSocket connection with a bounded outbound queue. It
// implements registry.Channel.
type connection struct {
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, sendBufferSize int) *connection {
	return &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send enqueues a payload without blocking. A full queue drops the payload;
// the durable alert log remains the source of truth for missed alerts.
func (c *connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// readPump consumes inbound frames until the peer goes away. Clients send
// nothing after the handshake, so frames are discarded; the read loop exists
// to detect closure and answer pings.
func (c *connection) readPump() {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the underlying connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
