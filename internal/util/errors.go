package util

import (
	"errors"

	"learnpath_backend/internal/model"
)

var (
	ErrUnauthenticated      = errors.New("authentication error")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailRegistered      = errors.New("username or email already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionNotFound      = errors.New("chat session not found")
	ErrSessionClosed        = model.ErrSessionClosed
	ErrEmptyMessage         = errors.New("message body is required")
	ErrEmptySubject         = errors.New("subject is required")
	ErrNotificationNotFound = errors.New("notification not found")
)
