package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubWriteTimeout = 2 * time.Second
	hubQueueSize    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 通过 websocket 向已连接的客户端广播事件。
type Hub struct {
	logger    *zap.Logger
	broadcast chan []byte

	lock    sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub 创建广播中心，需调用 Run 才会发送消息。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:    logger,
		broadcast: make(chan []byte, hubQueueSize),
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// Run 持续广播直到 ctx 结束，退出时关闭全部连接。
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *Hub) send(message []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Debug("websocket 客户端断开", zap.Error(err))
			_ = client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.Close()
		delete(h.clients, client)
	}
}

// Emit 实现 Sink。队列已满时丢弃事件。
func (h *Hub) Emit(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("序列化广播事件失败", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Debug("广播队列已满，丢弃事件", zap.String("event", string(event.Type)))
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeHTTP 将请求升级为 websocket 并登记客户端。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket 升级失败", zap.Error(err))
		return
	}
	h.lock.Lock()
	h.clients[conn] = struct{}{}
	h.lock.Unlock()

	// 只读取以感知断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				if _, ok := h.clients[conn]; ok {
					_ = conn.Close()
					delete(h.clients, conn)
				}
				h.lock.Unlock()
				return
			}
		}
	}()
}
