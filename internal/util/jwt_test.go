package util

import (
	"testing"
	"time"

	"learnpath_backend/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestParseJWT(t *testing.T) {
	user := &model.User{BaseModel: model.BaseModel{ID: 7}, Username: "sam", Role: model.Student}

	t.Run("should return claims for a valid token", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateJWT(user, testSecret, time.Hour)
		req.NoError(err)

		claims, err := ParseJWT(token, testSecret)
		req.NoError(err)
		req.Equal(model.Principal{UserID: 7, Username: "sam", Role: model.Student}, claims.Principal())
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateJWT(user, testSecret, -time.Minute)
		req.NoError(err)

		_, err = ParseJWT(token, testSecret)
		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateJWT(user, "other-secret", time.Hour)
		req.NoError(err)

		_, err = ParseJWT(token, testSecret)
		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject a missing token", func(t *testing.T) {
		_, err := ParseJWT("", testSecret)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("should reject a token without expiry", func(t *testing.T) {
		req := require.New(t)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 7, Role: model.Student}).SignedString([]byte(testSecret))
		req.NoError(err)

		_, err = ParseJWT(token, testSecret)
		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject an unknown role", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateJWT(&model.User{BaseModel: model.BaseModel{ID: 7}, Role: "root"}, testSecret, time.Hour)
		req.NoError(err)

		_, err = ParseJWT(token, testSecret)
		req.ErrorIs(err, ErrUnauthenticated)
	})
}
