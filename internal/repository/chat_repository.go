package repository

import (
	"context"
	"errors"
	"fmt"

	"learnpath_backend/internal/model"
	"learnpath_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatRepository struct {
	DB *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{DB: db}
}

// SessionFilter StudentID 为空时不按学生过滤（客服视角）
type SessionFilter struct {
	StudentID *uint
	Status    model.ChatStatus
}

// SessionMutation 在行锁内修改会话；返回非 nil 的消息会在同一事务中追加
type SessionMutation func(s *model.ChatSession) (*model.ChatMessage, error)

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("chat_messages.id ASC")
}

// CreateSession 会话与首条消息一起写入
func (r *ChatRepository) CreateSession(ctx context.Context, s *model.ChatSession) error {
	if err := r.DB.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := r.DB.WithContext(ctx).Preload("Messages", orderedMessages).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	return &s, nil
}

func (r *ChatRepository) ListSessions(ctx context.Context, f SessionFilter, limit, offset int) ([]model.ChatSession, int64, error) {
	var sessions []model.ChatSession
	var total int64

	db := r.DB.WithContext(ctx).Model(&model.ChatSession{})
	if f.StudentID != nil {
		db = db.Where("student_id = ?", *f.StudentID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Preload("Messages", orderedMessages).
		Order("last_activity_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error

	return sessions, total, err
}

// MutateSession 加行锁读取会话 -> 执行 mutate -> 保存状态与新消息，整个过程在一个事务里，
// 并发追加同一会话时后到者等待锁释放，不会覆盖彼此的消息
func (r *ChatRepository) MutateSession(ctx context.Context, id string, mutate SessionMutation) (*model.ChatSession, *model.ChatMessage, error) {
	var session model.ChatSession
	var appended *model.ChatMessage

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		msg, err := mutate(&session)
		if err != nil {
			return err
		}

		if msg != nil {
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
			appended = msg
		}

		if err := tx.Model(&model.ChatSession{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"staff_id":         session.StaffID,
			"status":           session.Status,
			"last_activity_at": session.LastActivityAt,
			"closed_at":        session.ClosedAt,
		}).Error; err != nil {
			return err
		}

		return orderedMessages(tx).Where("session_id = ?", session.ID).Find(&session.Messages).Error
	})
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) || errors.Is(err, model.ErrSessionClosed) ||
			errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, util.ErrPermissionDenied) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("mutate chat session %s: %w", id, err)
	}

	return &session, appended, nil
}
