package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dermassist/internal/model"
	"dermassist/internal/pkg/jwtutil"
	"dermassist/internal/repository/memory"
)

func newAuth() *AuthService {
	svc := NewAuthService(memory.NewUserStore(), "test-secret", time.Hour)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newAuth()

	reg, err := svc.Register(ctx, RegisterInput{Username: "ana", Email: " Ana@Example.com ", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", reg.User.Email)
	assert.Equal(t, "ana", reg.User.DisplayName)
	assert.Equal(t, model.SkinUnknown, reg.User.SkinType)
	assert.NotEqual(t, "correct-horse", reg.User.PasswordHash)
	assert.Nil(t, reg.User.LastLoginAt)

	claims, err := jwtutil.ParseToken("test-secret", reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	for _, identifier := range []string{"ana", "ANA@example.com"} {
		login, err := svc.Login(ctx, LoginInput{Identifier: identifier, Password: "correct-horse"})
		require.NoError(t, err, identifier)
		assert.Equal(t, reg.User.ID, login.User.ID)
		require.NotNil(t, login.User.LastLoginAt)
		assert.Equal(t, svc.now(), *login.User.LastLoginAt)
	}

	stored, err := svc.GetUserByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)

	_, err = svc.Login(ctx, LoginInput{Identifier: "ana", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.Login(ctx, LoginInput{Identifier: "bob", Password: "whatever1"})
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.Login(ctx, LoginInput{Identifier: "  ", Password: "whatever1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"short password", RegisterInput{Username: "ana", Email: "ana@example.com", Password: "short"}},
		{"bad email", RegisterInput{Username: "ana", Email: "not-an-email", Password: "long-enough"}},
		{"at in username", RegisterInput{Username: "ana@home", Email: "ana@example.com", Password: "long-enough"}},
		{"short display name", RegisterInput{Username: "ana", Email: "ana@example.com", Password: "long-enough", DisplayName: "A"}},
		{"unknown skin type", RegisterInput{Username: "ana", Email: "ana@example.com", Password: "long-enough", SkinType: "scaly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAuth().Register(ctx, tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	ctx := context.Background()
	svc := newAuth()

	reg, err := svc.Register(ctx, RegisterInput{
		Username: "ana", Email: "ana@example.com", Password: "long-enough",
		DisplayName: "Ana Lima", SkinType: "Sensitive",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima", reg.User.DisplayName)
	assert.Equal(t, model.SkinSensitive, reg.User.SkinType)

	_, err = svc.Register(ctx, RegisterInput{Username: "ana", Email: "other@example.com", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = svc.Register(ctx, RegisterInput{Username: "bob", Email: "ANA@example.com", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestGetUserByID(t *testing.T) {
	ctx := context.Background()
	svc := newAuth()
	reg, err := svc.Register(ctx, RegisterInput{Username: "ana", Email: "ana@example.com", Password: "long-enough"})
	require.NoError(t, err)

	u, err := svc.GetUserByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ana", u.Username)

	u, err = svc.GetUserByID(ctx, reg.User.ID+1)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = svc.GetUserByID(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
