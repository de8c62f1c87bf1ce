package service

import (
	"context"
	"errors"
	"testing"

	"learnpath_backend/internal/mocks"
	"learnpath_backend/internal/model"
	"learnpath_backend/internal/repository"
	"learnpath_backend/internal/testutil"
	"learnpath_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type chatFixture struct {
	svc     *ChatService
	hub     *recordingHub
	notes   *repository.NotificationRepository
	student model.Principal
	other   model.Principal
	staffA  model.Principal
	staffB  model.Principal
}

func newChatFixture(t *testing.T) *chatFixture {
	db := testutil.NewDB(t)
	hub := &recordingHub{}
	notes := repository.NewNotificationRepository(db)
	return &chatFixture{
		svc:     NewChatService(repository.NewChatRepository(db), NewNotificationService(notes, hub), hub),
		hub:     hub,
		notes:   notes,
		staffA:  testutil.SeedUser(t, db, "alice", model.Staff),
		staffB:  testutil.SeedUser(t, db, "bob", model.Staff),
		student: testutil.SeedUser(t, db, "sam", model.Student),
		other:   testutil.SeedUser(t, db, "olga", model.Student),
	}
}

func TestChatService_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the session and alert the staff pool", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)

		s, err := f.svc.CreateSession(ctx, f.student, "  Algebra help ", "I need help with factoring")
		req.NoError(err)
		req.Equal("Algebra help", s.Subject)
		req.Equal(model.ChatStatusOpen, s.Status)

		stored, err := f.svc.GetSession(ctx, f.student, s.ID)
		req.NoError(err)
		req.Len(stored.Messages, 1)
		req.Equal("I need help with factoring", stored.Messages[0].Body)

		sent := f.hub.to(StaffPoolRoom())
		req.Len(sent, 1)
		req.Equal(EventNewChatRequest, sent[0].event)
		req.Equal(s.ID, sent[0].data.(NewChatRequestPayload).Session.ID)
	})

	t.Run("should reject invalid input", func(t *testing.T) {
		f := newChatFixture(t)

		_, err := f.svc.CreateSession(ctx, f.staffA, "Subject", "body")
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
		_, err = f.svc.CreateSession(ctx, f.student, "   ", "body")
		assert.ErrorIs(t, err, util.ErrEmptySubject)
		_, err = f.svc.CreateSession(ctx, f.student, "Subject", "")
		assert.ErrorIs(t, err, util.ErrEmptyMessage)
		assert.Empty(t, f.hub.to(StaffPoolRoom()))
	})
}

func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should let the first staff reply claim the session and notify the student", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		s, err := f.svc.CreateSession(ctx, f.student, "Algebra help", "hello")
		req.NoError(err)
		f.hub.reset()

		reply := &recordingEmitter{}
		msg, err := f.svc.SendMessage(ctx, f.staffA, s.ID, "Sure, what step?", reply)
		req.NoError(err)
		req.Equal(model.Staff, msg.SenderRole)

		stored, err := f.svc.GetSession(ctx, f.staffA, s.ID)
		req.NoError(err)
		req.Equal(model.ChatStatusInProgress, stored.Status)
		req.Equal(f.staffA.UserID, *stored.StaffID)

		toStudent := f.hub.to(PersonalRoom(f.student.UserID))
		req.Len(toStudent, 1)
		req.Equal(EventNewMessage, toStudent[0].event)
		payload := toStudent[0].data.(NewMessagePayload)
		req.Equal(s.ID, payload.SessionID)
		req.NotNil(payload.Notification)
		req.Equal(model.NotificationTypeChatResponse, payload.Notification.Type)
		req.Equal(s.ID, payload.Notification.RelatedData.ChatID)
		req.Equal("New message in chat: Algebra help", payload.Notification.Message)

		req.Len(reply.events, 1)
		req.Equal(EventMessageSent, reply.events[0].event)
		req.Empty(f.hub.to(StaffPoolRoom()), "staff replies are not echoed to the pool")

		unread, err := f.notes.CountUnread(ctx, f.student.UserID)
		req.NoError(err)
		req.EqualValues(1, unread)
	})

	t.Run("should not notify anyone for a student message on an unclaimed session", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		s, err := f.svc.CreateSession(ctx, f.student, "Algebra help", "hello")
		req.NoError(err)
		f.hub.reset()

		reply := &recordingEmitter{}
		_, err = f.svc.SendMessage(ctx, f.student, s.ID, "anyone there?", reply)
		req.NoError(err)

		req.Empty(f.hub.to(PersonalRoom(f.staffA.UserID)))
		pool := f.hub.to(StaffPoolRoom())
		req.Len(pool, 1)
		req.Equal(EventNewChatMessage, pool[0].event)
		req.Equal(model.ChatStatusOpen, pool[0].data.(NewChatMessagePayload).Session.Status)
		req.Len(reply.events, 1)
	})

	t.Run("should keep the first claimant when another staff replies", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		s, err := f.svc.CreateSession(ctx, f.student, "Algebra help", "hello")
		req.NoError(err)
		_, err = f.svc.SendMessage(ctx, f.staffA, s.ID, "hi", nil)
		req.NoError(err)
		_, err = f.svc.SendMessage(ctx, f.staffB, s.ID, "also here", nil)
		req.NoError(err)
		f.hub.reset()

		_, err = f.svc.SendMessage(ctx, f.student, s.ID, "thanks", nil)
		req.NoError(err)

		toA := f.hub.to(PersonalRoom(f.staffA.UserID))
		req.Len(toA, 1)
		req.Equal(EventNewMessage, toA[0].event)
		req.Empty(f.hub.to(PersonalRoom(f.staffB.UserID)))
		req.Len(f.hub.to(StaffPoolRoom()), 1)

		stored, err := f.svc.GetSession(ctx, f.student, s.ID)
		req.NoError(err)
		req.Len(stored.Messages, 4)
		req.Equal(f.staffA.UserID, *stored.StaffID)
	})

	t.Run("should reject messages that cannot be applied", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		s, err := f.svc.CreateSession(ctx, f.student, "Algebra help", "hello")
		req.NoError(err)
		f.hub.reset()

		_, err = f.svc.SendMessage(ctx, f.student, s.ID, "   ", nil)
		req.ErrorIs(err, util.ErrEmptyMessage)

		_, err = f.svc.SendMessage(ctx, f.student, "missing", "hello", nil)
		req.ErrorIs(err, util.ErrSessionNotFound)

		_, err = f.svc.SendMessage(ctx, f.other, s.ID, "let me in", nil)
		req.ErrorIs(err, util.ErrPermissionDenied)

		_, err = f.svc.CloseSession(ctx, f.staffA, s.ID)
		req.NoError(err)
		f.hub.reset()

		reply := &recordingEmitter{}
		_, err = f.svc.SendMessage(ctx, f.student, s.ID, "one more thing", reply)
		req.ErrorIs(err, util.ErrSessionClosed)
		req.Empty(reply.events)
		req.Empty(f.hub.sent)

		stored, err := f.svc.GetSession(ctx, f.student, s.ID)
		req.NoError(err)
		req.Len(stored.Messages, 1)
	})
}

func TestChatService_NotificationFailure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	db := testutil.NewDB(t)
	hub := &recordingHub{}
	store := mocks.NewMockNotificationStore(ctrl)
	svc := NewChatService(repository.NewChatRepository(db), NewNotificationService(store, hub), hub)
	staff := testutil.SeedUser(t, db, "alice", model.Staff)
	student := testutil.SeedUser(t, db, "sam", model.Student)

	s, err := svc.CreateSession(ctx, student, "Algebra help", "hello")
	req.NoError(err)

	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(1)

	reply := &recordingEmitter{}
	msg, err := svc.SendMessage(ctx, staff, s.ID, "on it", reply)
	req.NoError(err, "a lost notification does not fail the message")
	req.NotNil(msg)

	toStudent := hub.to(PersonalRoom(student.UserID))
	req.Len(toStudent, 1)
	req.Nil(toStudent[0].data.(NewMessagePayload).Notification)
	req.Len(reply.events, 1)
	req.Equal(EventMessageSent, reply.events[0].event)
}

func TestChatService_CloseSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newChatFixture(t)
	s, err := f.svc.CreateSession(ctx, f.student, "Algebra help", "hello")
	req.NoError(err)

	_, err = f.svc.CloseSession(ctx, f.student, s.ID)
	req.ErrorIs(err, util.ErrPermissionDenied)
	f.hub.reset()

	closed, err := f.svc.CloseSession(ctx, f.staffB, s.ID)
	req.NoError(err)
	req.Equal(model.ChatStatusClosed, closed.Status)
	req.NotNil(closed.ClosedAt)

	toStudent := f.hub.to(PersonalRoom(f.student.UserID))
	req.Len(toStudent, 1)
	req.Equal(EventChatClosed, toStudent[0].event)
	req.Len(f.hub.to(StaffPoolRoom()), 1)

	_, err = f.svc.CloseSession(ctx, f.staffA, s.ID)
	req.ErrorIs(err, util.ErrSessionClosed)
}

func TestChatService_ListSessions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newChatFixture(t)

	mine, err := f.svc.CreateSession(ctx, f.student, "Mine", "hello")
	req.NoError(err)
	_, err = f.svc.CreateSession(ctx, f.other, "Theirs", "hello")
	req.NoError(err)

	list, total, err := f.svc.ListSessions(ctx, f.student, "", 1, 20)
	req.NoError(err)
	req.EqualValues(1, total)
	req.Equal(mine.ID, list[0].ID)

	_, total, err = f.svc.ListSessions(ctx, f.staffA, "", 1, 20)
	req.NoError(err)
	req.EqualValues(2, total)

	_, total, err = f.svc.ListSessions(ctx, f.staffA, model.ChatStatusClosed, 1, 20)
	req.NoError(err)
	req.EqualValues(0, total)

	_, err = f.svc.GetSession(ctx, f.other, mine.ID)
	req.ErrorIs(err, util.ErrPermissionDenied)
}
