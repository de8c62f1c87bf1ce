package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	student = Principal{UserID: 1, Username: "sam", Role: Student}
	staffA  = Principal{UserID: 10, Username: "alice", Role: Staff}
	staffB  = Principal{UserID: 11, Username: "bob", Role: Staff}
)

func TestChatStatus_Transition(t *testing.T) {
	cases := []struct {
		from    ChatStatus
		event   ChatEvent
		want    ChatStatus
		wantErr error
	}{
		{ChatStatusOpen, ChatEventStudentMessage, ChatStatusOpen, nil},
		{ChatStatusOpen, ChatEventStaffMessage, ChatStatusInProgress, nil},
		{ChatStatusOpen, ChatEventClose, ChatStatusClosed, nil},
		{ChatStatusInProgress, ChatEventStudentMessage, ChatStatusInProgress, nil},
		{ChatStatusInProgress, ChatEventStaffMessage, ChatStatusInProgress, nil},
		{ChatStatusInProgress, ChatEventClose, ChatStatusClosed, nil},
		{ChatStatusClosed, ChatEventStudentMessage, ChatStatusClosed, ErrSessionClosed},
		{ChatStatusClosed, ChatEventStaffMessage, ChatStatusClosed, ErrSessionClosed},
		{ChatStatusClosed, ChatEventClose, ChatStatusClosed, ErrSessionClosed},
		{ChatStatus("bogus"), ChatEventClose, ChatStatus("bogus"), ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.event), func(t *testing.T) {
			got, err := tc.from.Transition(tc.event)
			assert.Equal(t, tc.want, got)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestChatSession_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("should create an open session with the student's first message", func(t *testing.T) {
		req := require.New(t)
		s := NewChatSession(student, "Algebra help", "I need help with factoring", now)

		req.NotEmpty(s.ID)
		req.Equal(ChatStatusOpen, s.Status)
		req.Nil(s.StaffID)
		req.Len(s.Messages, 1)
		req.Equal(student.UserID, s.Messages[0].SenderID)
		req.Equal(Student, s.Messages[0].SenderRole)
		req.Equal(s.ID, s.Messages[0].SessionID)
	})

	t.Run("should let the first staff reply claim the session", func(t *testing.T) {
		req := require.New(t)
		s := NewChatSession(student, "Algebra help", "I need help with factoring", now)

		msg, err := s.ApplyMessage(staffA, "Sure, what step?", now.Add(time.Minute))
		req.NoError(err)
		req.Equal(ChatStatusInProgress, s.Status)
		req.NotNil(s.StaffID)
		req.Equal(staffA.UserID, *s.StaffID)
		req.Equal(staffA.UserID, msg.SenderID)
		req.Equal(Staff, msg.SenderRole)
		req.Equal(now.Add(time.Minute), s.LastActivityAt)

		msg, err = s.ApplyMessage(staffB, "Jumping in", now.Add(2*time.Minute))
		req.NoError(err)
		req.Equal(staffA.UserID, *s.StaffID)
		req.Equal(staffB.UserID, msg.SenderID)
	})

	t.Run("should keep an unclaimed session open on student messages", func(t *testing.T) {
		req := require.New(t)
		s := NewChatSession(student, "Algebra help", "hello", now)

		_, err := s.ApplyMessage(student, "anyone?", now)
		req.NoError(err)
		req.Equal(ChatStatusOpen, s.Status)
		req.Nil(s.StaffID)
	})

	t.Run("should reject messages after close", func(t *testing.T) {
		req := require.New(t)
		s := NewChatSession(student, "Algebra help", "hello", now)
		_, err := s.ApplyMessage(staffA, "hi", now)
		req.NoError(err)

		req.NoError(s.Close(now))
		req.Equal(ChatStatusClosed, s.Status)
		req.NotNil(s.ClosedAt)

		_, err = s.ApplyMessage(student, "one more thing", now)
		req.ErrorIs(err, ErrSessionClosed)
		req.ErrorIs(s.Close(now), ErrSessionClosed)
	})
}

func TestChatSession_Counterparty(t *testing.T) {
	now := time.Now()
	s := NewChatSession(student, "Algebra help", "hello", now)

	_, ok := s.Counterparty(student)
	assert.False(t, ok, "unclaimed session has no staff counterparty")

	id, ok := s.Counterparty(staffA)
	assert.True(t, ok)
	assert.Equal(t, student.UserID, id)

	_, _ = s.ApplyMessage(staffA, "hi", now)
	id, ok = s.Counterparty(student)
	assert.True(t, ok)
	assert.Equal(t, staffA.UserID, id)
}

func TestChatSession_CanAccess(t *testing.T) {
	s := NewChatSession(student, "Algebra help", "hello", time.Now())
	other := Principal{UserID: 2, Role: Student}

	assert.True(t, s.CanAccess(student))
	assert.True(t, s.CanAccess(staffB))
	assert.False(t, s.CanAccess(other))
}
