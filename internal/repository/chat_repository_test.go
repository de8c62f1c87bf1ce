package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"learnpath_backend/internal/model"
	"learnpath_backend/internal/testutil"
	"learnpath_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAs(p model.Principal, body string) SessionMutation {
	return func(s *model.ChatSession) (*model.ChatMessage, error) {
		msg, err := s.ApplyMessage(p, body, time.Now())
		if err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

func TestChatRepository_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewChatRepository(db)

	student := testutil.SeedUser(t, db, "sam", model.Student)
	staffA := testutil.SeedUser(t, db, "alice", model.Staff)
	staffB := testutil.SeedUser(t, db, "bob", model.Staff)

	s := model.NewChatSession(student, "Algebra help", "I need help with factoring", time.Now())
	require.NoError(t, repo.CreateSession(ctx, s))

	t.Run("should persist the session with its first message", func(t *testing.T) {
		req := require.New(t)
		got, err := repo.GetSession(ctx, s.ID)
		req.NoError(err)
		req.Equal(model.ChatStatusOpen, got.Status)
		req.Len(got.Messages, 1)
		req.Equal(student.UserID, got.Messages[0].SenderID)
	})

	t.Run("should bind the first staff responder", func(t *testing.T) {
		req := require.New(t)
		got, msg, err := repo.MutateSession(ctx, s.ID, appendAs(staffA, "Sure, what step?"))
		req.NoError(err)
		req.NotNil(msg)
		req.NotZero(msg.ID)
		req.Equal(model.ChatStatusInProgress, got.Status)
		req.Equal(staffA.UserID, *got.StaffID)
		req.Len(got.Messages, 2)
	})

	t.Run("should keep the binding on a reply from another staff member", func(t *testing.T) {
		req := require.New(t)
		got, msg, err := repo.MutateSession(ctx, s.ID, appendAs(staffB, "Let me add something"))
		req.NoError(err)
		req.Equal(staffA.UserID, *got.StaffID)
		req.Equal(staffB.UserID, msg.SenderID)
		req.Len(got.Messages, 3)
		req.Equal(staffB.UserID, got.Messages[2].SenderID)

		reloaded, err := repo.GetSession(ctx, s.ID)
		req.NoError(err)
		req.Equal(staffA.UserID, *reloaded.StaffID)
	})

	t.Run("should reject appends after close and leave messages untouched", func(t *testing.T) {
		req := require.New(t)
		closed, msg, err := repo.MutateSession(ctx, s.ID, func(sess *model.ChatSession) (*model.ChatMessage, error) {
			return nil, sess.Close(time.Now())
		})
		req.NoError(err)
		req.Nil(msg)
		req.Equal(model.ChatStatusClosed, closed.Status)
		req.NotNil(closed.ClosedAt)

		_, _, err = repo.MutateSession(ctx, s.ID, appendAs(student, "wait"))
		req.ErrorIs(err, util.ErrSessionClosed)

		reloaded, err := repo.GetSession(ctx, s.ID)
		req.NoError(err)
		req.Len(reloaded.Messages, 3)
	})

	t.Run("should report a missing session", func(t *testing.T) {
		req := require.New(t)
		_, err := repo.GetSession(ctx, "does-not-exist")
		req.ErrorIs(err, util.ErrSessionNotFound)

		_, _, err = repo.MutateSession(ctx, "does-not-exist", appendAs(student, "hi"))
		req.ErrorIs(err, util.ErrSessionNotFound)
	})
}

func TestChatRepository_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewChatRepository(db)

	student := testutil.SeedUser(t, db, "sam", model.Student)
	staff := testutil.SeedUser(t, db, "alice", model.Staff)

	s := model.NewChatSession(student, "Sets", "hello", time.Now())
	require.NoError(t, repo.CreateSession(ctx, s))

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := student
			if i%2 == 0 {
				sender = staff
			}
			_, _, err := repo.MutateSession(ctx, s.ID, appendAs(sender, "msg"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, n+1)
	for i := 1; i < len(got.Messages); i++ {
		require.Greater(t, got.Messages[i].ID, got.Messages[i-1].ID)
	}
}

// 行锁只在 MySQL 上真正生效；SQLite 测试库是单连接，事务天然串行
func TestChatRepository_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewChatRepository(db)

	student := testutil.SeedUser(t, db, "sam", model.Student)
	staff := []model.Principal{
		testutil.SeedUser(t, db, "alice", model.Staff),
		testutil.SeedUser(t, db, "bob", model.Staff),
		testutil.SeedUser(t, db, "carol", model.Staff),
	}

	s := model.NewChatSession(student, "Limits", "help", time.Now())
	require.NoError(t, repo.CreateSession(ctx, s))

	var wg sync.WaitGroup
	for _, p := range staff {
		wg.Add(1)
		go func(p model.Principal) {
			defer wg.Done()
			_, _, err := repo.MutateSession(ctx, s.ID, appendAs(p, "on it"))
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	got, err := repo.GetSession(ctx, s.ID)
	req := require.New(t)
	req.NoError(err)
	req.Len(got.Messages, len(staff)+1)
	req.Equal(model.ChatStatusInProgress, got.Status)

	// 第一条提交的客服消息决定归属
	first := got.Messages[1]
	req.Equal(model.Staff, first.SenderRole)
	req.NotNil(got.StaffID)
	req.Equal(first.SenderID, *got.StaffID)
}

func TestChatRepository_ListSessions(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewChatRepository(db)

	sam := testutil.SeedUser(t, db, "sam", model.Student)
	kim := testutil.SeedUser(t, db, "kim", model.Student)

	base := time.Now()
	for i, p := range []model.Principal{sam, sam, kim} {
		s := model.NewChatSession(p, "topic", "hello", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateSession(ctx, s))
	}

	req := require.New(t)
	all, total, err := repo.ListSessions(ctx, SessionFilter{}, 10, 0)
	req.NoError(err)
	req.EqualValues(3, total)
	req.Len(all, 3)
	req.Equal(kim.UserID, all[0].StudentID, "most recent activity first")

	own, total, err := repo.ListSessions(ctx, SessionFilter{StudentID: &sam.UserID}, 10, 0)
	req.NoError(err)
	req.EqualValues(2, total)
	for _, s := range own {
		req.Equal(sam.UserID, s.StudentID)
		req.Len(s.Messages, 1)
	}

	open, total, err := repo.ListSessions(ctx, SessionFilter{Status: model.ChatStatusClosed}, 10, 0)
	req.NoError(err)
	req.Zero(total)
	req.Empty(open)
}
