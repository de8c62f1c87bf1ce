package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"learnpath_backend/internal/model"
	"learnpath_backend/internal/repository"
	"learnpath_backend/internal/util"
	"learnpath_backend/pkg/logger"
	"learnpath_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChatStore 会话持久化；MutateSession 保证同一会话上的读改写串行
type ChatStore interface {
	CreateSession(ctx context.Context, s *model.ChatSession) error
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, f repository.SessionFilter, limit, offset int) ([]model.ChatSession, int64, error)
	MutateSession(ctx context.Context, id string, mutate repository.SessionMutation) (*model.ChatSession, *model.ChatMessage, error)
}

const (
	notificationTitleNewMessage = "New Message"
	maxSubjectLen               = 200
)

type ChatService struct {
	Store    ChatStore
	Notifier *NotificationService
	Hub      Broadcaster

	now func() time.Time
}

func NewChatService(store ChatStore, notifier *NotificationService, hub Broadcaster) *ChatService {
	return &ChatService{
		Store:    store,
		Notifier: notifier,
		Hub:      hub,
		now:      time.Now,
	}
}

// CreateSession 学生发起新会话并通知全体在线客服
func (s *ChatService) CreateSession(ctx context.Context, p model.Principal, subject, body string) (*model.ChatSession, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ChatService.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.Int("user.id", int(p.UserID)))

	if p.Role != model.Student {
		return nil, util.ErrPermissionDenied
	}
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return nil, util.ErrEmptySubject
	}
	if body == "" {
		return nil, util.ErrEmptyMessage
	}
	if len([]rune(subject)) > maxSubjectLen {
		subject = string([]rune(subject)[:maxSubjectLen])
	}

	session := model.NewChatSession(p, subject, body, s.now())
	if err := s.Store.CreateSession(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.session_id", session.ID))

	s.Hub.Broadcast(StaffPoolRoom(), EventNewChatRequest, NewChatRequestPayload{Session: session})
	logger.Log.Info("Chat session created",
		zap.String("sessionId", session.ID),
		zap.Uint("studentId", p.UserID))
	return session, nil
}

// SendMessage 追加消息并按角色扇出；reply 为发送者自己的连接，可为 nil（REST 调用）
func (s *ChatService) SendMessage(ctx context.Context, p model.Principal, sessionID, body string, reply Emitter) (*model.ChatMessage, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ChatService.SendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", sessionID),
		attribute.String("user.role", string(p.Role)),
	)

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, util.ErrEmptyMessage
	}

	now := s.now()
	session, msg, err := s.Store.MutateSession(ctx, sessionID, func(sess *model.ChatSession) (*model.ChatMessage, error) {
		if !sess.CanAccess(p) {
			return nil, util.ErrPermissionDenied
		}
		m, err := sess.ApplyMessage(p, body, now)
		if err != nil {
			return nil, err
		}
		return &m, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.fanOut(ctx, p, session, msg, reply)
	return msg, nil
}

// fanOut 全部推送均为尽力而为，任何一步失败都不影响已保存的消息
func (s *ChatService) fanOut(ctx context.Context, sender model.Principal, session *model.ChatSession, msg *model.ChatMessage, reply Emitter) {
	if recipient, ok := session.Counterparty(sender); ok {
		_, err := s.Notifier.Notify(ctx, NotifyInput{
			RecipientID: recipient,
			Type:        model.NotificationTypeChatResponse,
			Title:       notificationTitleNewMessage,
			Message:     fmt.Sprintf("New message in chat: %s", session.Subject),
			ChatID:      session.ID,
			LiveEvent:   EventNewMessage,
			Payload: func(n *model.Notification) interface{} {
				return NewMessagePayload{SessionID: session.ID, Message: msg, Notification: n}
			},
		})
		if err != nil {
			logger.Log.Warn("Chat notification not persisted",
				zap.String("sessionId", session.ID),
				zap.Uint("recipientId", recipient),
				zap.Error(err))
		}
	}

	if reply != nil {
		reply.Emit(EventMessageSent, MessageSentPayload{SessionID: session.ID, Message: msg})
	}

	if sender.Role == model.Student {
		s.Hub.Broadcast(StaffPoolRoom(), EventNewChatMessage, NewChatMessagePayload{
			SessionID: session.ID,
			Message:   msg,
			Session:   session,
		})
	}
}

// CloseSession 仅客服可关闭；学生个人房间与客服池都会收到 chat_closed
func (s *ChatService) CloseSession(ctx context.Context, p model.Principal, sessionID string) (*model.ChatSession, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ChatService.CloseSession")
	defer span.End()

	if !p.IsStaff() {
		return nil, util.ErrPermissionDenied
	}
	now := s.now()
	session, _, err := s.Store.MutateSession(ctx, sessionID, func(sess *model.ChatSession) (*model.ChatMessage, error) {
		return nil, sess.Close(now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload := ChatClosedPayload{SessionID: session.ID, Session: session}
	s.Hub.Broadcast(PersonalRoom(session.StudentID), EventChatClosed, payload)
	s.Hub.Broadcast(StaffPoolRoom(), EventChatClosed, payload)
	logger.Log.Info("Chat session closed", zap.String("sessionId", session.ID), zap.Uint("staffId", p.UserID))
	return session, nil
}

// ListSessions 学生只看到自己的会话，客服看到全部
func (s *ChatService) ListSessions(ctx context.Context, p model.Principal, status model.ChatStatus, page, limit int) ([]model.ChatSession, int64, error) {
	f := repository.SessionFilter{Status: status}
	if !p.IsStaff() {
		id := p.UserID
		f.StudentID = &id
	}
	return s.Store.ListSessions(ctx, f, limit, (page-1)*limit)
}

func (s *ChatService) GetSession(ctx context.Context, p model.Principal, sessionID string) (*model.ChatSession, error) {
	session, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanAccess(p) {
		return nil, util.ErrPermissionDenied
	}
	return session, nil
}
