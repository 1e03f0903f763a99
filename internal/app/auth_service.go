package app

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dermassist/internal/model"
	"dermassist/internal/pkg/jwtutil"
)

const (
	minPasswordLen    = 8
	minDisplayNameLen = 2
)

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
	RecordLogin(ctx context.Context, id uint, at time.Time) error
}

type AuthService struct {
	users     UserStore
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	SkinType    string
}

// LoginInput identifies the account by username or email address.
type LoginInput struct {
	Identifier string
	Password   string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(users UserStore, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	user, password, err := newUserFromInput(input)
	if err != nil {
		return nil, err
	}

	taken, err := s.users.GetByUsername(ctx, user.Username)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, ErrUsernameExists
	}
	if taken, err = s.users.GetByEmail(ctx, user.Email); err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}
	user.PasswordHash = string(hash)
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.issueToken(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
		return nil, ErrInvalidCredential
	}

	at := s.now()
	if err := s.users.RecordLogin(ctx, user.ID, at); err != nil {
		log.Printf("record login for user %d failed: %v", user.ID, err)
	} else {
		user.LastLoginAt = &at
	}
	return s.issueToken(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(ctx, id)
}

func (s *AuthService) issueToken(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.tokenTTL, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func newUserFromInput(input RegisterInput) (*model.User, string, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || strings.Contains(username, "@") {
		return nil, "", fmt.Errorf("%w: username must be set and must not contain '@'", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(input.Email))
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(input.Password) < minPasswordLen {
		return nil, "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = username
	} else if len([]rune(displayName)) < minDisplayNameLen {
		return nil, "", fmt.Errorf("%w: display name must be at least %d characters", ErrInvalidInput, minDisplayNameLen)
	}
	skinType, ok := model.ParseSkinType(strings.ToLower(strings.TrimSpace(input.SkinType)))
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown skin type %q", ErrInvalidInput, input.SkinType)
	}

	return &model.User{
		Username:    username,
		Email:       strings.ToLower(addr.Address),
		DisplayName: displayName,
		SkinType:    skinType,
	}, input.Password, nil
}
