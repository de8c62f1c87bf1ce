package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"learnpath_backend/internal/config"
	"learnpath_backend/internal/model"
	"learnpath_backend/pkg/logger"
	"learnpath_backend/pkg/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Emitter 直接回复某一个连接
type Emitter interface {
	Emit(event string, data interface{})
}

// EventHandler 处理一个已认证连接上的上行事件
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, env Envelope)
}

type Client struct {
	Hub       *ChatHub
	Conn      *websocket.Conn
	Principal model.Principal

	send    chan []byte
	limiter *rate.Limiter // 限流器
	handler EventHandler
	maxSize int64
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func newClient(h *ChatHub, conn *websocket.Conn, p model.Principal, handler EventHandler, cfg config.RealtimeConfig) *Client {
	return &Client{
		Hub:       h,
		Conn:      conn,
		Principal: p,
		send:      make(chan []byte, cfg.SendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		handler:   handler,
		maxSize:   cfg.MaxMessageSize,
		timeout:   cfg.EventTimeout,
	}
}

// enqueue 非阻塞写入发送队列；队列满或连接已关闭时返回 false
func (c *Client) enqueue(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) Emit(event string, data interface{}) {
	payload, err := encodeEnvelope(event, data)
	if err != nil {
		logger.Log.Error("Encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	monitoring.IMMessageCounter.WithLabelValues(event, "out").Inc()
	if !c.enqueue(payload) {
		monitoring.IMDroppedEvents.Inc()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(c.maxSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.Principal.UserID))
			}
			break
		}

		if !c.limiter.Allow() {
			monitoring.IMDroppedEvents.Inc()
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			logger.Log.Debug("Ignoring malformed frame", zap.Uint("userId", c.Principal.UserID))
			continue
		}
		monitoring.IMMessageCounter.WithLabelValues(env.Event, "in").Inc() // 记录上行消息

		ctx, cancel := context.WithTimeout(c.Hub.ctx, c.timeout)
		c.handler.HandleEvent(ctx, c, env)
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每个事件单独一帧，客户端按帧解析 JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
