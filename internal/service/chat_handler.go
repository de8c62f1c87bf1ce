package service

import (
	"context"
	"encoding/json"
	"errors"

	"learnpath_backend/internal/util"
	"learnpath_backend/pkg/logger"

	"go.uber.org/zap"
)

const (
	errMsgSendFailed   = "Failed to send message"
	errMsgCreateFailed = "Failed to create chat"
	errMsgClosed       = "Chat session is closed"
	errMsgEmpty        = "Message cannot be empty"
	errMsgNoSubject    = "Subject cannot be empty"
)

// ChatEventHandler 把上行事件路由到 ChatService，并把错误翻译成 error 事件
type ChatEventHandler struct {
	Chat *ChatService
}

func NewChatEventHandler(chat *ChatService) *ChatEventHandler {
	return &ChatEventHandler{Chat: chat}
}

func (h *ChatEventHandler) HandleEvent(ctx context.Context, c *Client, env Envelope) {
	switch env.Event {
	case EventSendMessage:
		var data SendMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.Emit(EventError, ErrorPayload{Message: errMsgSendFailed})
			return
		}
		_, err := h.Chat.SendMessage(ctx, c.Principal, data.SessionID, data.Message, c)
		if err != nil {
			h.reportSendError(c, data.SessionID, err)
		}

	case EventNewChat:
		var data NewChatData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.Emit(EventError, ErrorPayload{Message: errMsgCreateFailed})
			return
		}
		if _, err := h.Chat.CreateSession(ctx, c.Principal, data.Subject, data.Message); err != nil {
			h.reportCreateError(c, err)
		}

	default:
		logger.Log.Debug("Ignoring unknown event", zap.String("event", env.Event), zap.Uint("userId", c.Principal.UserID))
	}
}

func (h *ChatEventHandler) reportSendError(c *Client, sessionID string, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		// 会话不存在时静默丢弃
		logger.Log.Debug("Message for unknown session dropped",
			zap.String("sessionId", sessionID), zap.Uint("userId", c.Principal.UserID))
	case errors.Is(err, util.ErrSessionClosed):
		c.Emit(EventError, ErrorPayload{Message: errMsgClosed})
	case errors.Is(err, util.ErrEmptyMessage):
		c.Emit(EventError, ErrorPayload{Message: errMsgEmpty})
	case errors.Is(err, util.ErrPermissionDenied):
		logger.Log.Warn("Message to foreign session rejected",
			zap.String("sessionId", sessionID), zap.Uint("userId", c.Principal.UserID))
		c.Emit(EventError, ErrorPayload{Message: errMsgSendFailed})
	default:
		logger.Log.Error("Send message failed", zap.String("sessionId", sessionID), zap.Error(err))
		c.Emit(EventError, ErrorPayload{Message: errMsgSendFailed})
	}
}

func (h *ChatEventHandler) reportCreateError(c *Client, err error) {
	switch {
	case errors.Is(err, util.ErrEmptySubject):
		c.Emit(EventError, ErrorPayload{Message: errMsgNoSubject})
	case errors.Is(err, util.ErrEmptyMessage):
		c.Emit(EventError, ErrorPayload{Message: errMsgEmpty})
	case errors.Is(err, util.ErrPermissionDenied):
		c.Emit(EventError, ErrorPayload{Message: errMsgCreateFailed})
	default:
		logger.Log.Error("Create chat failed", zap.Uint("userId", c.Principal.UserID), zap.Error(err))
		c.Emit(EventError, ErrorPayload{Message: errMsgCreateFailed})
	}
}
