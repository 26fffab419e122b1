package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/betbot/sealedsale/internal/events"
)

const (
	hubSendBuffer = 256
	hubWriteWait  = 10 * time.Second
	hubPingPeriod = 30 * time.Second
)

// Hub 把总线上的事件推送给 WebSocket 订阅者
// HandleEvent 在账本持锁期间被调用，只做非阻塞投递；跟不上的连接直接断开
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// name 为空表示订阅全部事件
	name string
}

var _ events.Handler = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleEvent 实现 events.Handler
func (h *Hub) HandleEvent(_ context.Context, env events.Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		if cl.name != "" && cl.name != env.Name() {
			continue
		}
		select {
		case cl.send <- msg:
		default:
			log.Warnf("websocket 订阅者跟不上，断开: %s", cl.conn.RemoteAddr())
			h.removeLocked(cl)
		}
	}
	return nil
}

// ServeWS GET /api/events/ws?name=<事件名>
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	cl := &wsClient{conn: conn, send: make(chan []byte, hubSendBuffer), name: c.Query("name")}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	log.Debugf("websocket 订阅者接入: %s name=%q", conn.RemoteAddr(), cl.name)

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// Len 当前连接数
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.removeLocked(cl)
	}
}

func (h *Hub) remove(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl)
}

func (h *Hub) removeLocked(cl *wsClient) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

// readLoop 丢弃客户端消息，直到连接断开
func (h *Hub) readLoop(cl *wsClient) {
	defer func() {
		h.remove(cl)
		_ = cl.conn.Close()
	}()
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(cl *wsClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
