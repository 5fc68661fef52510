package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"habitat/internal/bus"
	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
)

const (
	defaultClientBuffer = 64
	defaultWriteTimeout = 5 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
)

type client struct {
	conn    *websocket.Conn
	payload string
	send    chan []byte
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// wants reports whether the client subscribed to this telemetry. A client
// without a payload filter receives everything.
func (c *client) wants(payload string) bool {
	return c.payload == "" || strings.EqualFold(c.payload, payload)
}

// Hub broadcasts parsed telemetry to websocket clients. Each client has a
// bounded buffer; a client that cannot keep up loses messages rather than
// slowing the sink down. The Hub outlives sink reloads, so connections
// survive them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	upgrader     websocket.Upgrader
	bufferSize   int
	writeTimeout time.Duration
	logger       logger.Logger
	wg           sync.WaitGroup
}

func NewHub(cfg config.FeedConfig, log logger.Logger) *Hub {
	bufferSize := cfg.ClientBuffer
	if bufferSize <= 0 {
		bufferSize = defaultClientBuffer
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bufferSize:   bufferSize,
		writeTimeout: writeTimeout,
		logger:       log,
	}
}

func (h *Hub) SinkFactory() bus.SinkFactory {
	return func(_ *bus.Server) (bus.Sink, error) {
		return bus.NewThreadedSink(constants.SinkFeed, h, h.logger)
	}
}

func (h *Hub) Setup(types *bus.TypeSet) error {
	return types.AddType(models.KindParsedTelemetry)
}

func (h *Hub) HandleMessage(ctx context.Context, msg *models.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to encode telemetry for feed", "error", err)
		return
	}

	payload, _ := msg.Field("payload")
	name, _ := payload.(string)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(name) {
			continue
		}
		select {
		case c.send <- body:
		default:
			h.logger.DebugwCtx(ctx, "Feed client too slow, dropping message", "remote", c.conn.RemoteAddr().String())
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams telemetry until the client goes
// away. The optional "payload" query parameter restricts the feed to one
// payload.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "Websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn:    conn,
		payload: c.Query("payload"),
		send:    make(chan []byte, h.bufferSize),
	}
	if !h.register(cl) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	h.wg.Add(2)
	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.FeedClientsConnected.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
		metrics.FeedClientsConnected.Set(float64(len(h.clients)))
	}
}

// readPump discards client input; it exists to notice disconnects and
// answer pings.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown disconnects every client and refuses new ones. It is separate
// from the sink lifecycle so that reloading the feed sink keeps clients.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	metrics.FeedClientsConnected.Set(0)
	h.mu.Unlock()

	h.wg.Wait()
}
