package service

import (
	"encoding/json"

	"learnpath_backend/internal/model"
)

// 上行事件
const (
	EventSendMessage = "send_message"
	EventNewChat     = "new_chat"
)

// 下行事件
const (
	EventMessageSent    = "message_sent"
	EventNewMessage     = "new_message"
	EventNewChatMessage = "new_chat_message"
	EventNewChatRequest = "new_chat_request"
	EventChatClosed     = "chat_closed"
	EventNotification   = "notification"
	EventError          = "error"
)

// Envelope 上行信封，Data 按事件类型延迟解码
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func encodeEnvelope(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: data})
}

type SendMessageData struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type NewChatData struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type MessageSentPayload struct {
	SessionID string             `json:"sessionId"`
	Message   *model.ChatMessage `json:"message"`
}

// NewMessagePayload 推送给对方；通知持久化失败时 Notification 为 null
type NewMessagePayload struct {
	SessionID    string              `json:"sessionId"`
	Message      *model.ChatMessage  `json:"message"`
	Notification *model.Notification `json:"notification"`
}

type NewChatMessagePayload struct {
	SessionID string             `json:"sessionId"`
	Message   *model.ChatMessage `json:"message"`
	Session   *model.ChatSession `json:"session"`
}

type NewChatRequestPayload struct {
	Session *model.ChatSession `json:"session"`
}

type ChatClosedPayload struct {
	SessionID string             `json:"sessionId"`
	Session   *model.ChatSession `json:"session"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
