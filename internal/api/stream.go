package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// FrameSource hands out subscriptions to accepted frames
type FrameSource interface {
	Subscribe() (<-chan models.AnnotatedFrame, func())
}

// StreamMessage is the envelope pushed to WebSocket clients
type StreamMessage struct {
	Type string                `json:"type"`
	Data models.AnnotatedFrame `json:"data"`
}

// StreamHub streams accepted frames to WebSocket clients
type StreamHub struct {
	source   FrameSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	shutdown chan struct{}
	closed   bool
}

// NewStreamHub creates a hub fed by source
func NewStreamHub(source FrameSource, logger *slog.Logger, m *metrics.Metrics) *StreamHub {
	return &StreamHub{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   logging.OrDefault(logger).With(logging.Component("stream")),
		metrics:  m,
		clients:  make(map[*websocket.Conn]struct{}),
		shutdown: make(chan struct{}),
	}
}

// ServeHTTP upgrades the connection and pushes frames until either side closes
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	if !h.addClient(conn) {
		_ = conn.Close()
		return
	}
	defer h.removeClient(conn)

	frames, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	// The read loop only handles control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read error", logging.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				h.closeConn(conn, websocket.CloseGoingAway, "bus stopped")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "can_message", Data: frame}); err != nil {
				h.logger.Debug("websocket write error", logging.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			return

		case <-h.shutdown:
			h.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (h *StreamHub) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (h *StreamHub) addClient(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = struct{}{}
	h.metrics.SetStreamClients(len(h.clients))
	h.logger.Info("stream client connected", slog.String("remote", conn.RemoteAddr().String()), logging.Count(len(h.clients)))
	return true
}

func (h *StreamHub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()

	_ = conn.Close()
	h.metrics.SetStreamClients(n)
	h.logger.Info("stream client disconnected", logging.Count(n))
}

// Clients returns the number of connected clients
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.shutdown)
}
