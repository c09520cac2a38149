package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

// MemorySessionStore implements domain.SessionRepository backed by ttlcache,
// keyed by the hash of the token value.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions *ttlcache.Cache[string, *domain.Session]
	users    domain.UserRepository
}

// NewMemorySessionStore creates a session store. The user repository is needed
// to resolve the owning user for bearer lookups.
func NewMemorySessionStore(users domain.UserRepository) *MemorySessionStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	go cache.Start()

	return &MemorySessionStore{
		sessions: cache,
		users:    users,
	}
}

func (s *MemorySessionStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	s.sessions.Set(HashToken(session.Token), &stored, time.Until(session.ExpiresAt))

	return nil
}

func (s *MemorySessionStore) FindUserByActiveSessionToken(ctx context.Context, token string) (*domain.User, error) {
	s.mu.Lock()
	item := s.sessions.Get(HashToken(token))
	if item == nil {
		s.mu.Unlock()
		return nil, serrors.ErrSessionNotFound
	}
	session := item.Value()
	if !session.Active(time.Now().UTC()) {
		s.mu.Unlock()
		return nil, serrors.ErrSessionNotFound
	}
	userID := session.UserID
	s.mu.Unlock()

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}
	return user, nil
}

func (s *MemorySessionStore) RevokeSessionByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.sessions.Get(HashToken(token)); item != nil {
		item.Value().IsRevoked = true
	}
	return nil
}

// Close stops the background eviction goroutine.
func (s *MemorySessionStore) Close() {
	s.sessions.Stop()
}
