// Package operator 维护运维频道的 WebSocket 连接，并广播需要人工介入的通知。
package operator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"answer-desk/internal/model"
	"answer-desk/pkg/log"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

type client struct {
	conn    *websocket.Conn
	subject string
	send    chan []byte
}

// Hub 是运维频道的连接管理器。没有在线连接时通知只写日志。
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub 创建连接管理器。
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Notify 广播一条通知。发送缓冲区已满的连接会被断开。
func (h *Hub) Notify(_ context.Context, notice model.OperatorNotice) {
	log.Warnw("[OperatorHub] 运维通知",
		"kind", notice.Kind,
		"messageID", notice.MessageID,
		"state", notice.State,
		"reason", notice.Reason,
	)

	data, err := json.Marshal(notice)
	if err != nil {
		log.Errorf("[OperatorHub] 序列化通知失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Warnf("[OperatorHub] 连接发送缓冲区已满，断开, subject: %s", c.subject)
			h.removeLocked(c)
		}
	}
}

// Serve 注册连接并阻塞直到连接关闭。客户端发来的数据会被丢弃。
func (h *Hub) Serve(conn *websocket.Conn, subject string) {
	c := &client{conn: conn, subject: subject, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Infof("[OperatorHub] 运维连接已建立, subject: %s", subject)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	<-done
	conn.Close()
	log.Infof("[OperatorHub] 运维连接已关闭, subject: %s", subject)
}

func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warnf("[OperatorHub] 写入通知失败, subject: %s, error: %v", c.subject, err)
			// 关闭连接让读循环退出，继续消费直到 send 被关闭
			c.conn.Close()
		}
	}
}

// removeLocked 需持有写锁。
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Clients 返回在线连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开全部连接。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
