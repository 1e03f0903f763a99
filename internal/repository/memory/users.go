package memory

import (
	"context"
	"sync"
	"time"

	"dermassist/internal/model"
	"dermassist/internal/repository"
)

// UserStore is the in-memory counterpart of repository.UserRepository.
type UserStore struct {
	mu     sync.RWMutex
	nextID uint
	byID   map[uint]model.User
}

func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[uint]model.User)}
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	s.byID[user.ID] = *user
	return nil
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return s.lookup(func(u *model.User) bool { return u.Username == username })
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return s.lookup(func(u *model.User) bool { return u.Email == email })
}

func (s *UserStore) GetByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.byID[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *UserStore) RecordLogin(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	s.byID[id] = u
	return nil
}

func (s *UserStore) lookup(match func(*model.User) bool) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if match(&u) {
			return &u, nil
		}
	}
	return nil, nil
}
