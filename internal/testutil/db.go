// Package testutil 测试辅助：内存 SQLite 数据库与登录主体
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"learnpath_backend/internal/model"
	"learnpath_backend/pkg/database"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 每个测试独立的内存库；单连接保证同一事务内的锁语义一致
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedUser 直接写入一个用户并返回对应的 Principal
func SeedUser(t *testing.T, db *gorm.DB, username string, role model.UserRole) model.Principal {
	t.Helper()

	u := &model.User{Username: username, Email: username + "@learnpath.test", Password: "x", Role: role}
	require.NoError(t, db.Create(u).Error)
	return model.Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}
