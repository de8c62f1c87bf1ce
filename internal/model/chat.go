package model

import (
	"errors"
	"time"
)

type ChatStatus string

const (
	ChatStatusOpen       ChatStatus = "open"
	ChatStatusInProgress ChatStatus = "in_progress"
	ChatStatusClosed     ChatStatus = "closed"
)

func (s ChatStatus) Valid() bool {
	return s == ChatStatusOpen || s == ChatStatusInProgress || s == ChatStatusClosed
}

// ChatEvent 驱动会话状态机的事件
type ChatEvent string

const (
	ChatEventStudentMessage ChatEvent = "student_message"
	ChatEventStaffMessage   ChatEvent = "staff_message"
	ChatEventClose          ChatEvent = "close"
)

var (
	ErrSessionClosed     = errors.New("chat session is closed")
	ErrInvalidTransition = errors.New("invalid chat status transition")
)

// Transition 状态只能向前推进: open -> in_progress -> closed
func (s ChatStatus) Transition(ev ChatEvent) (ChatStatus, error) {
	switch s {
	case ChatStatusOpen:
		switch ev {
		case ChatEventStudentMessage:
			return ChatStatusOpen, nil
		case ChatEventStaffMessage:
			return ChatStatusInProgress, nil
		case ChatEventClose:
			return ChatStatusClosed, nil
		}
	case ChatStatusInProgress:
		switch ev {
		case ChatEventStudentMessage, ChatEventStaffMessage:
			return ChatStatusInProgress, nil
		case ChatEventClose:
			return ChatStatusClosed, nil
		}
	case ChatStatusClosed:
		return s, ErrSessionClosed
	}
	return s, ErrInvalidTransition
}

// ChatSession 学生与客服之间的一次支持会话
type ChatSession struct {
	UUIDBase
	StudentID      uint          `gorm:"index;not null" json:"studentId"`
	StaffID        *uint         `gorm:"index" json:"staffId"`
	Subject        string        `gorm:"size:200;not null" json:"subject"`
	Status         ChatStatus    `gorm:"type:varchar(20);index;not null;default:'open'" json:"status"`
	LastActivityAt time.Time     `gorm:"index" json:"lastActivityAt"`
	ClosedAt       *time.Time    `json:"closedAt,omitempty"`
	Messages       []ChatMessage `gorm:"foreignKey:SessionID" json:"messages"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 追加后不可修改，自增 ID 即会话内的顺序
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;type:varchar(36);not null" json:"sessionId"`
	SenderRole UserRole  `gorm:"type:varchar(20);not null" json:"sender"`
	SenderID   uint      `gorm:"index;not null" json:"senderId"`
	Body       string    `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time `json:"timestamp"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func NewChatSession(student Principal, subject, body string, now time.Time) *ChatSession {
	id := GenerateUUID()
	return &ChatSession{
		UUIDBase:       UUIDBase{ID: id},
		StudentID:      student.UserID,
		Subject:        subject,
		Status:         ChatStatusOpen,
		LastActivityAt: now,
		Messages: []ChatMessage{{
			SessionID:  id,
			SenderRole: Student,
			SenderID:   student.UserID,
			Body:       body,
			CreatedAt:  now,
		}},
	}
}

func messageEvent(sender Principal) ChatEvent {
	if sender.IsStaff() {
		return ChatEventStaffMessage
	}
	return ChatEventStudentMessage
}

// ApplyMessage 生成一条新消息并推进状态；第一个回复的客服认领会话，之后不再变更
// 返回的消息尚未写入 s.Messages，由调用方负责持久化
func (s *ChatSession) ApplyMessage(sender Principal, body string, now time.Time) (ChatMessage, error) {
	next, err := s.Status.Transition(messageEvent(sender))
	if err != nil {
		return ChatMessage{}, err
	}

	if sender.IsStaff() && s.StaffID == nil {
		staffID := sender.UserID
		s.StaffID = &staffID
	}
	s.Status = next
	s.LastActivityAt = now

	return ChatMessage{
		SessionID:  s.ID,
		SenderRole: sender.Role,
		SenderID:   sender.UserID,
		Body:       body,
		CreatedAt:  now,
	}, nil
}

func (s *ChatSession) Close(now time.Time) error {
	next, err := s.Status.Transition(ChatEventClose)
	if err != nil {
		return err
	}
	s.Status = next
	s.ClosedAt = &now
	s.LastActivityAt = now
	return nil
}

// Counterparty 返回应收到通知的对方；学生发言且尚无客服认领时返回 false
func (s *ChatSession) Counterparty(sender Principal) (uint, bool) {
	if sender.IsStaff() {
		return s.StudentID, true
	}
	if s.StaffID == nil {
		return 0, false
	}
	return *s.StaffID, true
}

// CanAccess 客服可访问所有会话，学生只能访问自己发起的会话
func (s *ChatSession) CanAccess(p Principal) bool {
	return p.IsStaff() || s.StudentID == p.UserID
}
