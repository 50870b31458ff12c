package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"depthfx/internal/engine"
	"depthfx/internal/pose"
	"depthfx/internal/subject"
	"depthfx/internal/wallpaper"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 16,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SafeWriter serializes writes to a WebSocket connection, which gorilla
// allows only one goroutine at a time to perform.
type SafeWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewSafeWriter(conn *websocket.Conn) *SafeWriter {
	return &SafeWriter{conn: conn}
}

func (w *SafeWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

func (w *SafeWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *SafeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// inMessage is any message a client may send. Fields not used by a type are
// left zero.
type inMessage struct {
	Type     string          `json:"type"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
	Beta     float64         `json:"beta"`
	Gamma    float64         `json:"gamma"`
	Enable   bool            `json:"enable"`
	Granted  *bool           `json:"granted"`
	Settings json.RawMessage `json:"settings"`
}

type statusMessage struct {
	Type   string        `json:"type"`
	Status engine.Status `json:"status"`
}

type detectMessage struct {
	Type     string                `json:"type"`
	Box      wallpaper.BoundingBox `json:"box"`
	Fallback bool                  `json:"fallback"`
	Error    string                `json:"error,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newDetectMessage(res subject.Result) detectMessage {
	msg := detectMessage{Type: "detect", Box: res.Box, Fallback: res.Fallback}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	return msg
}

// client is one WebSocket connection. Frames go through a one-slot mailbox
// so a slow client only ever misses frames and never stalls the others.
type client struct {
	w      *SafeWriter
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.w.Close()
	})
}

func (c *client) offer(data []byte) {
	for {
		select {
		case c.frames <- data:
			return
		default:
		}
		// Replace the stale frame.
		select {
		case <-c.frames:
		default:
		}
	}
}

func (c *client) pump(logger *log.Logger) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.frames:
			if err := c.w.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Printf("[server] write frame: %v", err)
				c.close()
				return
			}
		}
	}
}

type hub struct {
	logger  *log.Logger
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub(logger *log.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcastFrame(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.offer(data)
	}
}

func (h *hub) broadcastJSON(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.w.WriteJSON(v); err != nil {
			h.logger.Printf("[server] broadcast: %v", err)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Printf("[server] websocket upgrade: %v", err)
		return nil
	}
	cl := &client{
		w:      NewSafeWriter(conn),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	s.hub.add(cl)
	defer s.hub.remove(cl)
	go cl.pump(s.logger)

	if err := cl.w.WriteJSON(statusMessage{Type: "status", Status: s.eng.Status()}); err != nil {
		return nil
	}
	if data, err := s.frames.snapshot(); err == nil && data != nil {
		cl.offer(data)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("[server] websocket read: %v", err)
			}
			return nil
		}
		var msg inMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			cl.w.WriteJSON(errorMessage{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		if err := s.dispatch(s.ctx, msg); err != nil {
			cl.w.WriteJSON(errorMessage{Type: "error", Error: err.Error()})
		}
	}
}

type unknownTypeError string

func (e unknownTypeError) Error() string { return "unknown message type " + string(e) }

func (s *Server) dispatch(ctx context.Context, msg inMessage) error {
	sampler := s.eng.Pose()
	switch msg.Type {
	case "pointer":
		sampler.Pointer(msg.X, msg.Y, msg.Width, msg.Height)
	case "leave":
		sampler.Leave()
	case "orientation":
		sampler.Orientation(msg.Beta, msg.Gamma)
	case "gyro":
		if msg.Enable {
			var gate pose.PermissionGate
			if msg.Granted != nil {
				granted := *msg.Granted
				gate = func(context.Context) (bool, error) { return granted, nil }
			}
			sampler.EnableOrientation(ctx, gate)
		} else {
			sampler.DisableOrientation()
		}
		s.broadcastStatus()
	case "resize":
		s.eng.Resize(int(msg.Width), int(msg.Height))
	case "settings":
		if len(msg.Settings) == 0 {
			return nil
		}
		settings := s.eng.Settings()
		if err := json.Unmarshal(msg.Settings, &settings); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		s.eng.SetSettings(settings)
	default:
		return unknownTypeError(msg.Type)
	}
	return nil
}

func (s *Server) broadcastStatus() {
	s.hub.broadcastJSON(statusMessage{Type: "status", Status: s.eng.Status()})
}
