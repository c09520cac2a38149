package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

// expiredRetention keeps a session readable past its deadline so a late poll
// reports expired instead of an unknown device code.
const expiredRetention = time.Hour

// maxCASRetries bounds the optimistic WATCH loop under contention.
const maxCASRetries = 16

// DeviceStore implements domain.DeviceAuthorizationRepository on Redis.
// Transitions run inside WATCH/MULTI blocks, so each one is an optimistic
// compare-and-set scoped to a single device code.
type DeviceStore struct {
	client *redis.Client
	prefix string
}

// NewDeviceStore creates a Redis-backed device session store. The prefix
// namespaces keys when the instance is shared.
func NewDeviceStore(client *redis.Client, prefix string) *DeviceStore {
	return &DeviceStore{
		client: client,
		prefix: prefix,
	}
}

func (r *DeviceStore) deviceKey(deviceCode string) string {
	return fmt.Sprintf("%s:device:%s", r.prefix, deviceCode)
}

func (r *DeviceStore) userCodeKey(userCode string) string {
	return fmt.Sprintf("%s:usercode:%s", r.prefix, userCode)
}

func (r *DeviceStore) getByKey(ctx context.Context, c redis.Cmdable, key string) (*domain.DeviceSession, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	var session domain.DeviceSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode device session: %w", err)
	}
	return &session, nil
}

func (r *DeviceStore) writeSession(ctx context.Context, pipe redis.Cmdable, session *domain.DeviceSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode device session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt) + expiredRetention
	pipe.Set(ctx, r.deviceKey(session.DeviceCode), raw, ttl)
	return nil
}

// SaveDeviceSession stores a new session. The user-code index is claimed with
// SETNX so two sessions can never share an active user code. The claim lives
// through the retention window; a claim left by a terminal or expired session
// is taken over.
func (r *DeviceStore) SaveDeviceSession(ctx context.Context, session *domain.DeviceSession) error {
	claimTTL := time.Until(session.ExpiresAt) + expiredRetention
	claimed, err := r.client.SetNX(ctx, r.userCodeKey(session.UserCode), session.DeviceCode, claimTTL).Result()
	if err != nil {
		return err
	}
	if !claimed {
		existing, getErr := r.GetDeviceSessionByUserCode(ctx, session.UserCode)
		if getErr == nil && !existing.EffectiveStatus(time.Now().UTC()).IsTerminal() {
			return serrors.ErrUserCodeConflict
		}
		if getErr != nil && !errors.Is(getErr, serrors.ErrUserCodeNotFound) {
			return getErr
		}
		if err := r.client.Set(ctx, r.userCodeKey(session.UserCode), session.DeviceCode, claimTTL).Err(); err != nil {
			return err
		}
	}

	if err := r.writeSession(ctx, r.client, session); err != nil {
		r.client.Del(ctx, r.userCodeKey(session.UserCode))
		return err
	}
	return nil
}

func (r *DeviceStore) GetDeviceSessionByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceSession, error) {
	return r.getByKey(ctx, r.client, r.deviceKey(deviceCode))
}

func (r *DeviceStore) GetDeviceSessionByUserCode(ctx context.Context, userCode string) (*domain.DeviceSession, error) {
	deviceCode, err := r.client.Get(ctx, r.userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, serrors.ErrUserCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	session, err := r.getByKey(ctx, r.client, r.deviceKey(deviceCode))
	if err != nil {
		if errors.Is(err, serrors.ErrDeviceCodeNotFound) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}
	// Sessions past their deadline are still returned so callers can report
	// expiry rather than an unknown code.
	return session, nil
}

// transition runs mutate on the watched session and writes the result back
// atomically. mutate returns the error to surface when its precondition fails.
func (r *DeviceStore) transition(ctx context.Context, deviceCode string, mutate func(*domain.DeviceSession) error) (*domain.DeviceSession, error) {
	var updated *domain.DeviceSession

	txn := func(tx *redis.Tx) error {
		session, err := r.getByKey(ctx, tx, r.deviceKey(deviceCode))
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeSession(ctx, pipe, session)
		})
		if err != nil {
			return err
		}
		updated = session
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := r.client.Watch(ctx, txn, r.deviceKey(deviceCode))
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, re-read and retry
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, serrors.ErrStorageUnavailable
}

func (r *DeviceStore) ApproveDeviceSession(ctx context.Context, userCode, subject string) (*domain.DeviceSession, error) {
	deviceCode, err := r.client.Get(ctx, r.userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	if err != nil {
		return nil, err
	}

	session, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		if s.Status != domain.DeviceSessionStatusPending || time.Now().UTC().After(s.ExpiresAt) {
			return serrors.ErrCannotApproveDeviceSession
		}
		s.Status = domain.DeviceSessionStatusApproved
		s.Subject = subject
		return nil
	})
	if errors.Is(err, serrors.ErrDeviceCodeNotFound) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	return session, err
}

func (r *DeviceStore) DenyDeviceSession(ctx context.Context, userCode string) (*domain.DeviceSession, error) {
	deviceCode, err := r.client.Get(ctx, r.userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, serrors.ErrCannotApproveDeviceSession
	}
	if err != nil {
		return nil, err
	}

	session, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		if s.Status != domain.DeviceSessionStatusPending || time.Now().UTC().After(s.ExpiresAt) {
			return serrors.ErrCannotApproveDeviceSession
		}
		s.Status = domain.DeviceSessionStatusDenied
		return nil
	})
	if err != nil {
		if errors.Is(err, serrors.ErrDeviceCodeNotFound) {
			return nil, serrors.ErrCannotApproveDeviceSession
		}
		return nil, err
	}

	r.client.Del(ctx, r.userCodeKey(userCode))
	return session, nil
}

func (r *DeviceStore) ExchangeDeviceSession(ctx context.Context, deviceCode string) (*domain.DeviceSession, error) {
	session, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		if s.Status == domain.DeviceSessionStatusExchanged {
			return serrors.ErrDeviceCodeAlreadyExchanged
		}
		if s.Status != domain.DeviceSessionStatusApproved || time.Now().UTC().After(s.ExpiresAt) {
			return serrors.ErrCannotApproveDeviceSession
		}
		s.Status = domain.DeviceSessionStatusExchanged
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.client.Del(ctx, r.userCodeKey(session.UserCode))
	return session, nil
}

func (r *DeviceStore) RevertExchange(ctx context.Context, deviceCode string) error {
	session, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		if s.Status != domain.DeviceSessionStatusExchanged {
			return nil
		}
		s.Status = domain.DeviceSessionStatusApproved
		return nil
	})
	if err != nil {
		return err
	}

	// Restore the user-code claim unless the session expired in the meantime,
	// in which case it is unusable anyway and a negative TTL would fail the SET.
	if ttl := time.Until(session.ExpiresAt); ttl > 0 {
		if err := r.client.Set(ctx, r.userCodeKey(session.UserCode), session.DeviceCode, ttl+expiredRetention).Err(); err != nil {
			return err
		}
	}
	return nil
}

// MarkDeviceSessionExpired records the expired status. The user-code claim is
// left in place so late approval attempts read expired; its TTL bounds the
// retention and a new session with the same code takes the claim over.
func (r *DeviceStore) MarkDeviceSessionExpired(ctx context.Context, deviceCode string) error {
	_, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		if s.Status.IsTerminal() {
			return nil
		}
		s.Status = domain.DeviceSessionStatusExpired
		return nil
	})
	return err
}

func (r *DeviceStore) UpdateDeviceSessionLastPolledAt(ctx context.Context, deviceCode string, at time.Time) error {
	_, err := r.transition(ctx, deviceCode, func(s *domain.DeviceSession) error {
		s.LastPolledAt = at
		return nil
	})
	return err
}

// DeleteExpiredDeviceSessions is a no-op on Redis: key TTLs already bound the
// retention of every session and index entry.
func (r *DeviceStore) DeleteExpiredDeviceSessions(_ context.Context) error {
	return nil
}
