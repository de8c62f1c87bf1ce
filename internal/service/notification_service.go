package service

import (
	"context"
	"fmt"

	"learnpath_backend/internal/model"
	"learnpath_backend/pkg/logger"

	"go.uber.org/zap"
)

//go:generate go run go.uber.org/mock/mockgen -source=notification_service.go -destination=../mocks/mock_notification_store.go -package=mocks

// NotificationStore 通知持久化
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]model.Notification, int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID uint, id string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
}

type NotifyInput struct {
	RecipientID uint
	Type        string
	Title       string
	Message     string
	ChatID      string

	// LiveEvent 为空时推送 notification 事件；Payload 收到已保存的通知，保存失败时为 nil
	LiveEvent string
	Payload   func(n *model.Notification) interface{}
}

type NotificationService struct {
	Store NotificationStore
	Hub   Broadcaster
}

func NewNotificationService(store NotificationStore, hub Broadcaster) *NotificationService {
	return &NotificationService{Store: store, Hub: hub}
}

// Notify 先持久化再实时推送；持久化失败不阻止推送，错误返回给调用方记录
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*model.Notification, error) {
	n := &model.Notification{
		UserID:      in.RecipientID,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
		RelatedData: model.NotificationRelated{ChatID: in.ChatID},
	}
	var saveErr error
	if err := s.Store.Create(ctx, n); err != nil {
		saveErr = fmt.Errorf("save notification: %w", err)
		n = nil
	}

	event := in.LiveEvent
	if event == "" {
		event = EventNotification
	}
	switch {
	case in.Payload != nil:
		s.Hub.Broadcast(PersonalRoom(in.RecipientID), event, in.Payload(n))
	case n != nil:
		s.Hub.Broadcast(PersonalRoom(in.RecipientID), event, n)
	}
	return n, saveErr
}

func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, page, limit int) ([]model.Notification, int64, error) {
	return s.Store.ListByUser(ctx, userID, unreadOnly, limit, (page-1)*limit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.Store.CountUnread(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID uint, id string) (*model.Notification, error) {
	return s.Store.MarkRead(ctx, userID, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	count, err := s.Store.MarkAllRead(ctx, userID)
	if err == nil {
		logger.Log.Debug("Marked notifications read", zap.Uint("userId", userID), zap.Int64("count", count))
	}
	return count, err
}
