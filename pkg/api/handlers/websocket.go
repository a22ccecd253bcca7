package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 16
)

// Frame types sent to websocket clients.
const (
	FrameReply = "reply"
	FrameError = "error"
)

// ErrConnectionLimit is returned when the manager is full.
var ErrConnectionLimit = errors.New("websocket connection limit reached")

// SocketGauge tracks open websocket connections.
type SocketGauge interface {
	IncWebSockets()
	DecWebSockets()
}

// WebSocketConfig configures the chat socket.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	Gauge          SocketGauge
}

// ReplyFrame is what the server sends for each client message.
type ReplyFrame struct {
	Type      string        `json:"type"`
	UserID    string        `json:"user_id,omitempty"`
	Response  string        `json:"response,omitempty"`
	Emotion   emotion.Label `json:"emotion,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type wsClient struct {
	conn   *websocket.Conn
	userID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newWSClient(conn *websocket.Conn, userID string) *wsClient {
	return &wsClient{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, defaultSendBuffer),
	}
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *wsClient) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ConnectionManager bounds and tracks live chat sockets.
type ConnectionManager struct {
	mu             sync.RWMutex
	clients        map[*wsClient]struct{}
	maxConnections int
	gauge          SocketGauge
}

// NewConnectionManager creates a manager allowing maxConnections sockets.
func NewConnectionManager(maxConnections int, gauge SocketGauge) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	return &ConnectionManager{
		clients:        make(map[*wsClient]struct{}),
		maxConnections: maxConnections,
		gauge:          gauge,
	}
}

// Register adds a client or returns ErrConnectionLimit.
func (m *ConnectionManager) Register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.maxConnections {
		return ErrConnectionLimit
	}
	m.clients[client] = struct{}{}
	if m.gauge != nil {
		m.gauge.IncWebSockets()
	}
	return nil
}

// Unregister removes and closes a client. Unknown clients are ignored.
func (m *ConnectionManager) Unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	client.close()
	if m.gauge != nil {
		m.gauge.DecWebSockets()
	}
}

// Count returns the number of live clients.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CanAccept reports whether one more client fits.
func (m *ConnectionManager) CanAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.maxConnections
}

// Close disconnects every client.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
		if m.gauge != nil {
			m.gauge.DecWebSockets()
		}
	}
}

// ChatSocketHandler serves GET /ws/chat. Each text frame is a ChatRequest;
// user_id may be omitted when the connection URL carries ?user_id=.
type ChatSocketHandler struct {
	svc          Companion
	log          logger.Logger
	manager      *ConnectionManager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewChatSocketHandler creates the websocket chat handler.
func NewChatSocketHandler(svc Companion, log logger.Logger, cfg WebSocketConfig) *ChatSocketHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	h := &ChatSocketHandler{
		svc:          svc,
		log:          log,
		manager:      NewConnectionManager(cfg.MaxConnections, cfg.Gauge),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isWebSocketOriginAllowed(r, allowedOrigins)
		},
	}
	return h
}

// ServeHTTP handles GET /ws/chat
// @Summary Chat over a websocket
// @Description Upgrades to a websocket; every {"user_id","message"} frame is answered with a reply frame
// @Tags chat
// @Param user_id query string false "Default user for frames without user_id"
// @Success 101
// @Failure 400 {string} string "websocket upgrade required"
// @Failure 503 {string} string "websocket connection limit reached"
// @Router /ws/chat [get]
func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.manager.CanAccept() {
		http.Error(w, ErrConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn, strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err := h.manager.Register(client); err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(r, client)
}

// Count returns the number of open chat sockets.
func (h *ChatSocketHandler) Count() int { return h.manager.Count() }

// Close disconnects every chat socket.
func (h *ChatSocketHandler) Close() { h.manager.Close() }

func (h *ChatSocketHandler) readPump(r *http.Request, client *wsClient) {
	defer h.manager.Unregister(client)

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(maxBodyBytes)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		// Replies can take longer than a ping cycle.
		_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))

		frame := h.handleFrame(r, client, data)
		payload, err := json.Marshal(frame)
		if err != nil {
			h.log.Error("encode reply frame", "error", err)
			return
		}
		if !client.enqueue(payload) {
			h.log.Warn("websocket client too slow, disconnecting", "user_id", frame.UserID)
			return
		}
	}
}

func (h *ChatSocketHandler) handleFrame(r *http.Request, client *wsClient, raw []byte) ReplyFrame {
	now := time.Now().UTC()

	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ReplyFrame{Type: FrameError, Error: "invalid message frame", Timestamp: now}
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = client.userID
	}
	if err := validate.Struct(&req); err != nil {
		return ReplyFrame{Type: FrameError, UserID: req.UserID, Error: "user_id is required and message must be at most 8000 bytes", Timestamp: now}
	}

	result, err := h.svc.GenerateReply(r.Context(), req.UserID, req.Message)
	if err != nil {
		h.log.Warn("websocket chat failed", "user_id", req.UserID, "error", err)
		return ReplyFrame{Type: FrameError, UserID: req.UserID, Error: err.Error(), Timestamp: time.Now().UTC()}
	}
	return ReplyFrame{
		Type:      FrameReply,
		UserID:    req.UserID,
		Response:  result.ReplyText,
		Emotion:   result.Emotion,
		Cost:      result.RunningCost,
		Timestamp: time.Now().UTC(),
	}
}

func (h *ChatSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.Unregister(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func isWebSocketOriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
