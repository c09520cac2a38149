package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

// MemoryUserStore implements domain.UserRepository in memory.
type MemoryUserStore struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

// ResolveUser upserts a user keyed by email. Repeated calls with the same email
// return the same user record.
func (s *MemoryUserStore) ResolveUser(_ context.Context, email, name string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if user, ok := s.byEmail[email]; ok {
		if name != "" && user.Name != name {
			user.Name = name
		}
		user.UpdatedAt = now
		c := *user
		return &c, nil
	}

	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user

	c := *user
	return &c, nil
}

func (s *MemoryUserStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, serrors.ErrUserNotFound
	}
	c := *user
	return &c, nil
}
