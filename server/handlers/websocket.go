package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/detection-lights/server/detection"
	"github.com/san-kum/detection-lights/server/eventlog"
	"github.com/san-kum/detection-lights/server/models"
	"github.com/san-kum/detection-lights/server/processor"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// clientBuffer is how many records a slow viewer may fall behind before
	// records are dropped for it.
	clientBuffer = 64
)

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func newUpgrader(checkOrigin func(origin string) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin == nil {
				return true
			}
			return checkOrigin(r.Header.Get("Origin"))
		},
	}
}

// RecordHub streams every event log record to connected websocket viewers.
// It is an eventlog.Sink; Write never blocks on a viewer.
type RecordHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

var _ eventlog.Sink = (*RecordHub)(nil)

type hubClient struct {
	send    chan []byte
	dropped int
}

func NewRecordHub(checkOrigin func(origin string) bool, logger *zap.Logger) *RecordHub {
	return &RecordHub{
		logger:   logger,
		upgrader: newUpgrader(checkOrigin),
		clients:  make(map[*hubClient]struct{}),
	}
}

func (h *RecordHub) Name() string { return "websocket" }

func (h *RecordHub) Write(rec *models.LogRecord) error {
	payload, err := json.Marshal(ServerMessage{Type: "record", Data: rec})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			client.dropped++
		}
	}
	return nil
}

func (h *RecordHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer.
func (h *RecordHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	return nil
}

func (h *RecordHub) register() *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	client := &hubClient{send: make(chan []byte, clientBuffer)}
	h.clients[client] = struct{}{}
	return client
}

func (h *RecordHub) unregister(client *hubClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
	return client.dropped
}

func (h *RecordHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	client := h.register()
	if client == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}

	clientIP := c.ClientIP()
	h.logger.Info("Record viewer connected", zap.String("client_ip", clientIP))

	done := make(chan struct{})
	go h.readPump(conn, done)

	h.writePump(conn, client, done)

	dropped := h.unregister(client)
	h.logger.Info("Record viewer disconnected",
		zap.String("client_ip", clientIP),
		zap.Int("dropped_records", dropped))
}

// readPump discards viewer input; it only exists to process control frames
// and notice the close.
func (h *RecordHub) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Record viewer read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *RecordHub) writePump(conn *websocket.Conn, client *hubClient, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("Failed to send record", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// DetectionIngest accepts detection events pushed by the inference pipeline,
// one JSON event per text message.
type DetectionIngest struct {
	handler  detection.Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewDetectionIngest(handler detection.Handler, checkOrigin func(origin string) bool, logger *zap.Logger) *DetectionIngest {
	return &DetectionIngest{
		handler:  handler,
		logger:   logger,
		upgrader: newUpgrader(checkOrigin),
		now:      time.Now,
	}
}

func (h *DetectionIngest) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("Detection producer connected", zap.String("client_ip", clientIP))

	conn.SetReadLimit(detection.MaxLineSize)

	var frames int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("Detection stream error", zap.Error(err))
			}
			break
		}

		ev, err := detection.Decode(data, h.now())
		if err != nil {
			h.logger.Warn("Skipping undecodable detection message",
				zap.String("client_ip", clientIP),
				zap.Error(err))
			h.sendError(conn, "invalid detection event")
			continue
		}

		if err := detection.Deliver(h.handler, ev, h.logger); err != nil {
			h.logger.Warn("Detection handler stopped accepting events", zap.Error(err))
			reason := "handler failed"
			if errors.Is(err, processor.ErrControllerClosed) {
				reason = "shutting down"
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
				time.Now().Add(writeWait))
			break
		}
		frames++
	}

	h.logger.Info("Detection producer disconnected",
		zap.String("client_ip", clientIP),
		zap.Int("frames", frames))
}

func (h *DetectionIngest) sendError(conn *websocket.Conn, errorMsg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ServerMessage{
		Type: "error",
		Data: map[string]interface{}{
			"message":   errorMsg,
			"timestamp": h.now().Unix(),
		},
	}); err != nil {
		h.logger.Debug("Failed to send websocket error", zap.Error(err))
	}
}
