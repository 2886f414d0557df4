// Package ws streams prefetch lifecycle events to embedder UIs.
package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/browser"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/monitoring"
	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is one server-to-client message.
type Frame struct {
	Type      string          `json:"type"`
	Profile   string          `json:"profile,omitempty"`
	Message   string          `json:"message,omitempty"`
	Event     *prefetch.Event `json:"event,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ClientMessage is one client-to-server message.
type ClientMessage struct {
	Type string `json:"type"`
}

// Handler manages event stream connections
type Handler struct {
	browser *browser.Context
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics and log may be nil.
func NewHandler(b *browser.Context, metrics *monitoring.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{browser: b, metrics: metrics, log: log}
}

// HandleConnection upgrades the request and forwards the prefetch events
// of the profile named by the "profile" query parameter until either side
// closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	p, err := h.browser.Profile(c.DefaultQuery("profile", browser.DefaultProfileName))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	events, unsubscribe := p.Prefetch().Subscribe()
	defer unsubscribe()

	replies := make(chan Frame, 8)
	readerDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go h.readLoop(conn, replies, readerDone, stop)

	if err := h.send(conn, Frame{Type: "system", Profile: p.Name(), Message: "subscribed"}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = h.send(conn, Frame{Type: "system", Profile: p.Name(), Message: "profile closed"})
				return
			}
			if err := h.send(conn, Frame{Type: "prefetch", Profile: p.Name(), Event: &ev}); err != nil {
				return
			}
		case f := <-replies:
			if err := h.send(conn, f); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// readLoop owns reads. Writes go through replies so only HandleConnection
// writes to conn.
func (h *Handler) readLoop(conn *websocket.Conn, replies chan<- Frame, done, stop chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		h.record("in", "message")

		var msg ClientMessage
		reply := Frame{Type: "pong"}
		if err := sonic.Unmarshal(data, &msg); err != nil {
			reply = Frame{Type: "error", Message: "invalid message"}
		} else if msg.Type != "ping" {
			reply = Frame{Type: "error", Message: "unknown message type"}
		}

		select {
		case replies <- reply:
		case <-stop:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, f Frame) error {
	f.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.record("out", f.Type)
	return nil
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
