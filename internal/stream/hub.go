package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub pushes State changes to websocket clients.
type Hub struct {
	state    *State
	upgrader websocket.Upgrader
	metrics  *metrics.HTTPMetrics

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	closed  bool
}

// NewHub returns a Hub for state. m may be nil.
func NewHub(state *State, m *metrics.HTTPMetrics) *Hub {
	return &Hub{
		state:   state,
		metrics: m,
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced by the CORS middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and streams snapshots until the client
// disconnects or the hub is closed. The current snapshot is sent first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if !h.register(id, conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return conn.Close()
	}
	defer h.unregister(id)

	log := GetLogger().With(logger.String("client_id", id))
	log.Debug("websocket client connected", logger.String("remote", r.RemoteAddr))

	updates, cancel := h.state.Subscribe()
	defer cancel()

	// reader detects client close and handles pongs
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.send(conn, h.state.Get()); err != nil {
		log.Debug("websocket write failed", logger.Error(err))
		return nil
	}

	for {
		select {
		case <-done:
			log.Debug("websocket client disconnected")
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := h.send(conn, snap); err != nil {
				log.Debug("websocket write failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func (h *Hub) send(conn *websocket.Conn, snap Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(snap); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordWebsocketMessageSent()
	}
	return nil
}

func (h *Hub) register(id string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[id] = conn
	if h.metrics != nil {
		h.metrics.WebsocketConnectionStarted()
	}
	return true
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	conn, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close()
	if h.metrics != nil {
		h.metrics.WebsocketConnectionClosed()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones. Hijacked websocket
// connections are not closed by the HTTP server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}
