package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

// expiredRetention keeps sessions readable past their deadline so a late poll
// reports expired instead of an unknown device code.
const expiredRetention = time.Hour

// MemoryDeviceStore implements domain.DeviceAuthorizationRepository backed by
// ttlcache. A single mutex covers all mutations, which makes every transition a
// compare-and-set: the status is re-checked under the lock before it changes.
type MemoryDeviceStore struct {
	mu        sync.Mutex
	sessions  *ttlcache.Cache[string, *domain.DeviceSession] // keyed by device code
	userCodes map[string]string                              // user code -> device code, non-terminal sessions only
}

// NewMemoryDeviceStore creates an in-memory device session store with automatic
// eviction of long-expired entries.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.DeviceSession](),
	)
	go cache.Start()

	return &MemoryDeviceStore{
		sessions:  cache,
		userCodes: make(map[string]string),
	}
}

func copySession(s *domain.DeviceSession) *domain.DeviceSession {
	c := *s
	return &c
}

// SaveDeviceSession stores a new session, rejecting user codes that still refer
// to a non-terminal session so the caller can re-roll.
func (s *MemoryDeviceStore) SaveDeviceSession(_ context.Context, session *domain.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deviceCode, ok := s.userCodes[session.UserCode]; ok {
		if existing, found := s.getLocked(deviceCode); found {
			if !existing.EffectiveStatus(time.Now().UTC()).IsTerminal() {
				return serrors.ErrUserCodeConflict
			}
		}
		// Stale index entry, the session was evicted or is terminal.
		delete(s.userCodes, session.UserCode)
	}

	stored := copySession(session)
	ttl := time.Until(stored.ExpiresAt) + expiredRetention
	s.sessions.Set(stored.DeviceCode, stored, ttl)
	s.userCodes[stored.UserCode] = stored.DeviceCode

	return nil
}

func (s *MemoryDeviceStore) getLocked(deviceCode string) (*domain.DeviceSession, bool) {
	item := s.sessions.Get(deviceCode)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// GetDeviceSessionByDeviceCode returns a copy of the stored session.
func (s *MemoryDeviceStore) GetDeviceSessionByDeviceCode(_ context.Context, deviceCode string) (*domain.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.getLocked(deviceCode)
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	return copySession(session), nil
}

// GetDeviceSessionByUserCode resolves a user code to its session. Sessions past
// their deadline are still returned so callers can report expiry rather than an
// unknown code.
func (s *MemoryDeviceStore) GetDeviceSessionByUserCode(_ context.Context, userCode string) (*domain.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, serrors.ErrUserCodeNotFound
	}
	session, ok := s.getLocked(deviceCode)
	if !ok {
		delete(s.userCodes, userCode)
		return nil, serrors.ErrUserCodeNotFound
	}
	return copySession(session), nil
}

// ApproveDeviceSession transitions pending -> approved under the lock.
func (s *MemoryDeviceStore) ApproveDeviceSession(_ context.Context, userCode, subject string) (*domain.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	session, ok := s.getLocked(deviceCode)
	if !ok {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	if session.Status != domain.DeviceSessionStatusPending || time.Now().UTC().After(session.ExpiresAt) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}

	session.Status = domain.DeviceSessionStatusApproved
	session.Subject = subject

	return copySession(session), nil
}

// DenyDeviceSession transitions pending -> denied under the lock.
func (s *MemoryDeviceStore) DenyDeviceSession(_ context.Context, userCode string) (*domain.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	session, ok := s.getLocked(deviceCode)
	if !ok {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	if session.Status != domain.DeviceSessionStatusPending || time.Now().UTC().After(session.ExpiresAt) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}

	session.Status = domain.DeviceSessionStatusDenied
	delete(s.userCodes, userCode)

	return copySession(session), nil
}

// ExchangeDeviceSession transitions approved -> exchanged. Only the first
// caller wins; later callers get ErrDeviceCodeAlreadyExchanged.
func (s *MemoryDeviceStore) ExchangeDeviceSession(_ context.Context, deviceCode string) (*domain.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.getLocked(deviceCode)
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	if session.Status == domain.DeviceSessionStatusExchanged {
		return nil, serrors.ErrDeviceCodeAlreadyExchanged
	}
	if session.Status != domain.DeviceSessionStatusApproved || time.Now().UTC().After(session.ExpiresAt) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}

	session.Status = domain.DeviceSessionStatusExchanged
	delete(s.userCodes, session.UserCode)

	return copySession(session), nil
}

// RevertExchange compensates a failed credential write after a won exchange.
func (s *MemoryDeviceStore) RevertExchange(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.getLocked(deviceCode)
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}
	if session.Status != domain.DeviceSessionStatusExchanged {
		return nil
	}
	session.Status = domain.DeviceSessionStatusApproved
	s.userCodes[session.UserCode] = session.DeviceCode

	return nil
}

// MarkDeviceSessionExpired records the expired status for a session whose
// deadline has passed. No transition out of a terminal state happens. The user
// code index stays in place so late approval attempts read expired; saving a
// new session with the same code overwrites it.
func (s *MemoryDeviceStore) MarkDeviceSessionExpired(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.getLocked(deviceCode)
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}
	if session.Status.IsTerminal() {
		return nil
	}
	session.Status = domain.DeviceSessionStatusExpired

	return nil
}

// UpdateDeviceSessionLastPolledAt stamps the poll time for slow_down checks.
func (s *MemoryDeviceStore) UpdateDeviceSessionLastPolledAt(_ context.Context, deviceCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.getLocked(deviceCode)
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}
	session.LastPolledAt = at

	return nil
}

// DeleteExpiredDeviceSessions removes sessions past their deadline. ttlcache
// evicts retained entries on its own; this only drops them eagerly.
func (s *MemoryDeviceStore) DeleteExpiredDeviceSessions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var stale []string
	s.sessions.Range(func(item *ttlcache.Item[string, *domain.DeviceSession]) bool {
		if now.After(item.Value().ExpiresAt) {
			stale = append(stale, item.Key())
		}
		return true
	})
	for _, deviceCode := range stale {
		if session, ok := s.getLocked(deviceCode); ok {
			delete(s.userCodes, session.UserCode)
		}
		s.sessions.Delete(deviceCode)
	}

	return nil
}

// Close stops the background eviction goroutine.
func (s *MemoryDeviceStore) Close() {
	s.sessions.Stop()
}
