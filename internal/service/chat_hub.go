package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"learnpath_backend/internal/config"
	"learnpath_backend/internal/model"
	"learnpath_backend/pkg/logger"
	"learnpath_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	shardCount    = 32
	onlineTTL     = 2 * time.Minute // 在线状态过期时间
	busChannel    = "chat_channel"
	presenceFlush = 500 * time.Millisecond
	presenceBeat  = 1 * time.Minute
	subscribeMin  = 100 * time.Millisecond
	subscribeMax  = 5 * time.Second
)

// Broadcaster 向一个房间的全部本地（或跨实例）连接推送事件，不阻塞调用方
type Broadcaster interface {
	Broadcast(room Room, event string, data interface{})
}

type shard struct {
	// 同一用户可同时打开多个连接
	clients map[uint]map[*Client]struct{}
	mu      sync.RWMutex
}

type staffPool struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// PubSubMessage 跨实例总线上的载荷，Payload 为已编码的下行信封
type PubSubMessage struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

type presenceUpdate struct {
	userID uint
	online bool
}

// ChatHub 连接注册表与房间广播；Redis 为 nil 时只在本进程内投递
type ChatHub struct {
	shards [shardCount]*shard
	staff  *staffPool

	Redis      *redis.Client
	instanceID string

	limits   atomic.Pointer[config.RealtimeConfig]
	presence chan presenceUpdate

	ready      chan struct{}
	subscribed atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

func NewChatHub(rdb *redis.Client, cfg config.RealtimeConfig) *ChatHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &ChatHub{
		staff:      &staffPool{clients: make(map[*Client]struct{})},
		Redis:      rdb,
		instanceID: uuid.NewString(),
		presence:   make(chan presenceUpdate, 1024),
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{
			clients: make(map[uint]map[*Client]struct{}),
		}
	}
	h.UpdateLimits(cfg)
	return h
}

// UpdateLimits 只影响之后建立的连接
func (h *ChatHub) UpdateLimits(cfg config.RealtimeConfig) {
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 30
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 50
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 10 * time.Second
	}
	h.limits.Store(&cfg)
}

func (h *ChatHub) Limits() config.RealtimeConfig {
	return *h.limits.Load()
}

// Ready 在 Run 完成总线订阅后关闭
func (h *ChatHub) Ready() <-chan struct{} {
	return h.ready
}

func (h *ChatHub) getShard(userID uint) *shard {
	return h.shards[userID%shardCount]
}

// Attach 为已升级的连接创建客户端、加入房间并启动读写协程
func (h *ChatHub) Attach(conn *websocket.Conn, p model.Principal, handler EventHandler) *Client {
	c := newClient(h, conn, p, handler, h.Limits())
	h.Register(c)

	go c.writePump()
	go c.readPump()
	return c
}

// Register 加入个人房间；客服额外加入客服池
func (h *ChatHub) Register(c *Client) {
	// 先进客服池，个人房间可见即代表注册完成
	if c.Principal.IsStaff() {
		h.JoinStaffPool(c)
	}
	h.JoinPersonal(c)
	monitoring.IMOnlineConnections.Inc()
	h.queuePresence(c.Principal.UserID, true)
	logger.Log.Info("User connected",
		zap.Uint("userId", c.Principal.UserID),
		zap.String("role", string(c.Principal.Role)))
}

func (h *ChatHub) JoinPersonal(c *Client) {
	s := h.getShard(c.Principal.UserID)
	s.mu.Lock()
	set, ok := s.clients[c.Principal.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		s.clients[c.Principal.UserID] = set
	}
	set[c] = struct{}{}
	s.mu.Unlock()
}

func (h *ChatHub) JoinStaffPool(c *Client) {
	h.staff.mu.Lock()
	h.staff.clients[c] = struct{}{}
	h.staff.mu.Unlock()
}

// Unregister 离开所有房间并关闭发送队列，重复调用无副作用
func (h *ChatHub) Unregister(c *Client) {
	userID := c.Principal.UserID

	s := h.getShard(userID)
	s.mu.Lock()
	set, ok := s.clients[userID]
	_, member := set[c]
	if member {
		delete(set, c)
	}
	remaining := len(set)
	if ok && remaining == 0 {
		delete(s.clients, userID)
	}
	s.mu.Unlock()

	h.staff.mu.Lock()
	delete(h.staff.clients, c)
	h.staff.mu.Unlock()

	if !member {
		return
	}
	c.close()
	monitoring.IMOnlineConnections.Dec()
	if remaining == 0 {
		h.queuePresence(userID, false)
	}
	logger.Log.Info("User disconnected", zap.Uint("userId", userID))
}

func (h *ChatHub) queuePresence(userID uint, online bool) {
	if h.Redis == nil {
		return
	}
	select {
	case h.presence <- presenceUpdate{userID: userID, online: online}:
	default:
		logger.Log.Warn("Presence queue full, dropping update", zap.Uint("userId", userID))
	}
}

// Broadcast 编码一次，多实例时经 Redis 总线分发，否则直接本地投递
func (h *ChatHub) Broadcast(room Room, event string, data interface{}) {
	payload, err := encodeEnvelope(event, data)
	if err != nil {
		logger.Log.Error("Encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	monitoring.IMMessageCounter.WithLabelValues(event, "out").Inc() // 记录下行消息

	// 总线订阅完成前本实例收不到自己的发布，先本地投递
	if h.Redis != nil && h.subscribed.Load() {
		msg, _ := json.Marshal(PubSubMessage{Room: room.Key(), Payload: payload})
		err := h.Redis.Publish(h.ctx, busChannel, msg).Err()
		if err == nil {
			return
		}
		logger.Log.Warn("Redis publish failed, delivering locally", zap.String("room", room.Key()), zap.Error(err))
	}
	h.deliverLocal(room, payload)
}

func (h *ChatHub) members(room Room) []*Client {
	switch room.Kind {
	case RoomPersonal:
		s := h.getShard(room.UserID)
		s.mu.RLock()
		defer s.mu.RUnlock()
		return lo.Keys(s.clients[room.UserID])
	case RoomStaffPool:
		h.staff.mu.RLock()
		defer h.staff.mu.RUnlock()
		return lo.Keys(h.staff.clients)
	}
	return nil
}

func (h *ChatHub) deliverLocal(room Room, payload []byte) int {
	delivered := 0
	for _, c := range h.members(room) {
		if c.enqueue(payload) {
			delivered++
		} else {
			monitoring.IMDroppedEvents.Inc()
			logger.Log.Debug("Dropped event for slow client",
				zap.Uint("userId", c.Principal.UserID), zap.String("room", room.Key()))
		}
	}
	return delivered
}

// ConnectionCount 本实例上某用户的连接数
func (h *ChatHub) ConnectionCount(userID uint) int {
	s := h.getShard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[userID])
}

func (h *ChatHub) StaffPoolSize() int {
	h.staff.mu.RLock()
	defer h.staff.mu.RUnlock()
	return len(h.staff.clients)
}

func (h *ChatHub) IsUserOnline(userID uint) bool {
	// 查本地分片
	if h.ConnectionCount(userID) > 0 {
		return true
	}
	if h.Redis == nil {
		return false
	}

	// 查 Redis (多实例部署)
	n, err := h.Redis.Exists(h.ctx, onlineKey(userID)).Result()
	return err == nil && n > 0
}

// onlineKey 是一个哈希，每个持有该用户连接的实例占一个字段
func onlineKey(userID uint) string {
	return fmt.Sprintf("user:online:%d", userID)
}

// Run 订阅跨实例总线并批量写入在线状态；单实例模式下只等待停止
func (h *ChatHub) Run() {
	if h.Redis == nil {
		close(h.ready)
		<-h.ctx.Done()
		return
	}

	pubsub := h.Redis.Subscribe(h.ctx, busChannel)
	defer pubsub.Close()
	if !h.awaitSubscription(pubsub) {
		return
	}
	h.subscribed.Store(true)
	close(h.ready)
	go h.consumeBus(pubsub.Channel())

	// 批量处理状态更新
	ticker := time.NewTicker(presenceFlush)
	// 状态续期定时器 (Heartbeat)
	heartbeatTicker := time.NewTicker(presenceBeat)
	defer func() {
		ticker.Stop()
		heartbeatTicker.Stop()
	}()

	var pending []presenceUpdate
	for {
		select {
		case <-h.ctx.Done():
			return
		case u := <-h.presence:
			pending = append(pending, u)
		case <-heartbeatTicker.C:
			// 为本地在线用户批量续期
			h.refreshOnlineStatus()
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			h.flushPresence(pending)
			pending = pending[:0]
		}
	}
}

// awaitSubscription 等待订阅确认，失败时退避重试直到 hub 停止
func (h *ChatHub) awaitSubscription(pubsub *redis.PubSub) bool {
	backoff := subscribeMin
	for {
		_, err := pubsub.Receive(h.ctx)
		if err == nil {
			return true
		}
		if h.ctx.Err() != nil {
			return false
		}
		logger.Log.Warn("Subscribe chat channel failed, retrying",
			zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-h.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > subscribeMax {
			backoff = subscribeMax
		}
	}
}

func (h *ChatHub) consumeBus(ch <-chan *redis.Message) {
	for msg := range ch {
		var psMsg PubSubMessage
		if err := json.Unmarshal([]byte(msg.Payload), &psMsg); err != nil {
			logger.Log.Error("PubSub unmarshal error", zap.Error(err))
			continue
		}
		room, err := ParseRoomKey(psMsg.Room)
		if err != nil {
			logger.Log.Warn("PubSub message for unknown room", zap.String("room", psMsg.Room))
			continue
		}
		h.deliverLocal(room, psMsg.Payload)
	}
}

func (h *ChatHub) flushPresence(updates []presenceUpdate) {
	pipe := h.Redis.Pipeline()
	for _, u := range updates {
		key := onlineKey(u.userID)
		if u.online {
			pipe.HSet(h.ctx, key, h.instanceID, time.Now().Unix())
			pipe.Expire(h.ctx, key, onlineTTL) // 增加 TTL
		} else if h.ConnectionCount(u.userID) == 0 {
			// 只移除本实例的字段，其他实例上的连接不受影响
			pipe.HDel(h.ctx, key, h.instanceID)
		}
	}
	if _, err := pipe.Exec(h.ctx); err != nil && err != redis.Nil {
		logger.Log.Error("Redis pipeline error", zap.Error(err))
	}
}

// refreshOnlineStatus 刷新当前服务器所有在线用户的过期时间
func (h *ChatHub) refreshOnlineStatus() {
	pipe := h.Redis.Pipeline()
	count := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for userID := range s.clients {
			// Redis 重启后字段会丢失，续期时一并写回
			pipe.HSet(h.ctx, onlineKey(userID), h.instanceID, time.Now().Unix())
			pipe.Expire(h.ctx, onlineKey(userID), onlineTTL)
			count++
		}
		s.mu.RUnlock()
	}
	if count > 0 {
		if _, err := pipe.Exec(h.ctx); err != nil {
			logger.Log.Warn("Refresh online status failed", zap.Error(err))
		}
		logger.Log.Debug("Refreshed online status", zap.Int("count", count))
	}
}

// Stop 关闭所有连接并清理在线状态
func (h *ChatHub) Stop() {
	h.stopOnce.Do(func() {
		logger.Log.Info("ChatHub stopping: clearing online status and closing connections...")

		var clients []*Client
		var userIDs []uint
		for i := 0; i < shardCount; i++ {
			s := h.shards[i]
			s.mu.Lock()
			for userID, set := range s.clients {
				userIDs = append(userIDs, userID)
				for c := range set {
					clients = append(clients, c)
				}
				delete(s.clients, userID)
			}
			s.mu.Unlock()
		}
		h.staff.mu.Lock()
		h.staff.clients = make(map[*Client]struct{})
		h.staff.mu.Unlock()

		for _, c := range clients {
			c.close()
		}

		if h.Redis != nil && len(userIDs) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			pipe := h.Redis.Pipeline()
			for _, userID := range userIDs {
				pipe.HDel(ctx, onlineKey(userID), h.instanceID)
			}
			pipe.Exec(ctx)
			cancel()
		}
		h.cancel()

		monitoring.IMOnlineConnections.Set(0) // 停机时清空指标
		logger.Log.Info("ChatHub stopped", zap.Int("closedConnections", len(clients)))
	})
}
