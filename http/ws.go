package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsHandler 管理分类websocket连接
type wsHandler struct {
	server   *Server
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
}

// wsClient 单个websocket连接
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
	model    string
}

func newWSHandler(s *Server, logger *zap.Logger) *wsHandler {
	origins := s.config.AllowedOrigins
	return &wsHandler{
		server: s,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range origins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		clients: make(map[*wsClient]bool),
	}
}

// serve 升级连接，每个文本帧按默认模型（或?model=参数）分类并返回JSON结果
func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, 16),
		clientID: uuid.NewString(),
		model:    r.URL.Query().Get("model"),
	}
	h.register(client)

	go client.writePump(h.logger)
	client.readPump(h)
}

func (h *wsHandler) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.server.metrics.SetConnections(total)
	h.logger.Info("websocket client connected", zap.String("client_id", c.clientID), zap.Int("total", total))
}

func (h *wsHandler) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.server.metrics.SetConnections(total)
	h.logger.Info("websocket client disconnected", zap.String("client_id", c.clientID), zap.Int("total", total))
}

// closeAll 关闭所有连接，服务器关闭时调用
func (h *wsHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump 读取帧并分类，返回时连接关闭
func (c *wsClient) readPump(h *wsHandler) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.server.config.MaxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp, _ := h.server.classify(classifyRequest{Text: strings.TrimRight(string(data), "\r\n"), Model: c.model})
		payload, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("encode websocket result", zap.Error(err))
			continue
		}

		h.mu.Lock()
		open := h.clients[c]
		if open {
			select {
			case c.send <- payload:
			default:
				// 客户端读取过慢，断开
				open = false
			}
		}
		h.mu.Unlock()
		if !open {
			return
		}
	}
}

// writePump 发送结果并定期ping
func (c *wsClient) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
