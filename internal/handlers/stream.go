package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// populateEvent is the message broadcast to every connected stream client
// each time the Orchestrator finishes a Populate dispatch.
type populateEvent struct {
	PopulateID string `json:"populateId"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Error      string `json:"error,omitempty"`
}

// StreamHandler broadcasts populate-completion events over WebSocket. It
// implements orchestrator.Observer so a Facade's Orchestrator can notify it
// directly with no intermediate queue.
type StreamHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan populateEvent
}

// NewStreamHandler constructs a StreamHandler with a permissive origin
// check, matching the teacher's demo-scope WebSocket upgrader.
func NewStreamHandler(logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan populateEvent),
	}
}

// RegisterRoutes attaches the /v1/stream route.
func (h *StreamHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stream", gin.WrapF(h.handleUpgrade))
}

func (h *StreamHandler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	events := make(chan populateEvent, 32)
	h.mu.Lock()
	h.conns[conn] = events
	h.mu.Unlock()

	go h.writePump(conn, events)
	go h.readPump(conn, events)
}

// readPump drains client frames (this feed is server-to-client only) and
// keeps the read deadline alive via pong handling, until the connection
// closes.
func (h *StreamHandler) readPump(conn *websocket.Conn, events chan populateEvent) {
	defer h.drop(conn, events)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, events chan populateEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) drop(conn *websocket.Conn, events chan populateEvent) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// PopulateFinished implements orchestrator.Observer, broadcasting the event
// to every currently-connected client. A client whose event buffer is full
// misses this event rather than blocking the broadcast; its connection
// stays open.
func (h *StreamHandler) PopulateFinished(id string, start, end string, err error) {
	ev := populateEvent{PopulateID: id, StartDate: start, EndDate: end}
	if err != nil {
		ev.Error = err.Error()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, ch := range h.conns {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping populate event for slow stream client", zap.String("populate_id", id))
			_ = conn
		}
	}
}

// Shutdown closes every connected stream client.
func (h *StreamHandler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.conns {
		close(ch)
		delete(h.conns, conn)
	}
}
