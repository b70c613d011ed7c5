package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 事件类型常量
const (
	TypeFeedbackSubmitted  = "feedback-submitted"
	TypeAggregateUpdated   = "aggregate-updated"
	TypeAggregateDecrypted = "aggregate-decrypted"
)

// Event 观测事件
// 仅携带相关的ID与服务类型，不携带任何明文统计内容
type Event struct {
	Type        string    `json:"type"`
	FeedbackID  uint64    `json:"feedback_id,omitempty"`
	ServiceType string    `json:"service_type,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	At          time.Time `json:"at"`
}

// Hub 事件中心
// 向WebSocket连接和进程内订阅者广播事件；仅用于观测，不参与协议正确性
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]bool
	subs  []chan Event
}

// NewHub 创建新的事件中心
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]bool),
	}
}

// AddConn 添加WebSocket订阅连接
func (h *Hub) AddConn(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
	fmt.Printf("[事件] 新增WebSocket订阅, 当前连接数: %d\n", len(h.conns))
}

// Subscribe 进程内订阅，返回事件通道
func (h *Hub) Subscribe() <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, 16)
	h.subs = append(h.subs, ch)
	return ch
}

// Publish 广播事件
// WebSocket写失败的连接直接移除；进程内通道已满则丢弃（观测尽力而为）
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(e); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// ConnCount 当前WebSocket连接数
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
