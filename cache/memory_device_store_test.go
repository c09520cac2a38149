package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

func newTestSession(deviceCode, userCode string, ttl time.Duration) *domain.DeviceSession {
	now := time.Now().UTC()
	return &domain.DeviceSession{
		ID:         "sess-" + deviceCode,
		DeviceCode: deviceCode,
		UserCode:   userCode,
		Scope:      "openid",
		Status:     domain.DeviceSessionStatusPending,
		ExpiresAt:  now.Add(ttl),
		Interval:   5,
		CreatedAt:  now,
	}
}

func TestMemoryDeviceStoreSaveAndLookup(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	session := newTestSession("dev-1", "AAAA-BBBB", time.Minute)
	require.NoError(t, store.SaveDeviceSession(ctx, session))

	byDevice, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-BBBB", byDevice.UserCode)

	byUser, err := store.GetDeviceSessionByUserCode(ctx, "AAAA-BBBB")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", byUser.DeviceCode)

	_, err = store.GetDeviceSessionByDeviceCode(ctx, "missing")
	assert.ErrorIs(t, err, serrors.ErrDeviceCodeNotFound)
	_, err = store.GetDeviceSessionByUserCode(ctx, "ZZZZ-ZZZZ")
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
}

func TestMemoryDeviceStoreUserCodeConflict(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))

	err := store.SaveDeviceSession(ctx, newTestSession("dev-2", "AAAA-BBBB", time.Minute))
	assert.ErrorIs(t, err, serrors.ErrUserCodeConflict)

	// A terminal session releases its user code for reuse.
	_, err = store.DenyDeviceSession(ctx, "AAAA-BBBB")
	require.NoError(t, err)
	assert.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-3", "AAAA-BBBB", time.Minute)))
}

func TestMemoryDeviceStoreReturnsCopies(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))

	got, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	got.Status = domain.DeviceSessionStatusDenied // mutating the copy must not leak in

	again, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusPending, again.Status)
}

func TestMemoryDeviceStoreApproveTransitions(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))

	approved, err := store.ApproveDeviceSession(ctx, "AAAA-BBBB", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusApproved, approved.Status)
	assert.Equal(t, "user@example.com", approved.Subject)

	// No transition out of approved via approve or deny.
	_, err = store.ApproveDeviceSession(ctx, "AAAA-BBBB", "other@example.com")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceSession)
	_, err = store.DenyDeviceSession(ctx, "AAAA-BBBB")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceSession)
}

func TestMemoryDeviceStoreExchangeSingleUse(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))

	// Exchange requires approval first.
	_, err := store.ExchangeDeviceSession(ctx, "dev-1")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceSession)

	_, err = store.ApproveDeviceSession(ctx, "AAAA-BBBB", "user@example.com")
	require.NoError(t, err)

	won, err := store.ExchangeDeviceSession(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusExchanged, won.Status)

	_, err = store.ExchangeDeviceSession(ctx, "dev-1")
	assert.ErrorIs(t, err, serrors.ErrDeviceCodeAlreadyExchanged)
}

func TestMemoryDeviceStoreRevertExchange(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))
	_, err := store.ApproveDeviceSession(ctx, "AAAA-BBBB", "user@example.com")
	require.NoError(t, err)
	_, err = store.ExchangeDeviceSession(ctx, "dev-1")
	require.NoError(t, err)

	require.NoError(t, store.RevertExchange(ctx, "dev-1"))

	// The session is approved again and a second exchange can win.
	won, err := store.ExchangeDeviceSession(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", won.Subject)
}

func TestMemoryDeviceStoreExpiredSessionStillReadable(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	session := newTestSession("dev-1", "AAAA-BBBB", -time.Minute) // already past deadline
	require.NoError(t, store.SaveDeviceSession(ctx, session))

	// Both lookups still resolve so a late poll or approval reads expired
	// instead of an unknown code.
	got, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusExpired, got.EffectiveStatus(time.Now().UTC()))

	byUser, err := store.GetDeviceSessionByUserCode(ctx, "AAAA-BBBB")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusExpired, byUser.EffectiveStatus(time.Now().UTC()))

	// Acting on the expired session is still rejected.
	_, err = store.ApproveDeviceSession(ctx, "AAAA-BBBB", "user@example.com")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceSession)
}

func TestMemoryDeviceStoreMarkExpiredIsLazy(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-1", "AAAA-BBBB", time.Minute)))
	require.NoError(t, store.MarkDeviceSessionExpired(ctx, "dev-1"))

	got, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusExpired, got.Status)

	// The user code keeps resolving to the expired session.
	byUser, err := store.GetDeviceSessionByUserCode(ctx, "AAAA-BBBB")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceSessionStatusExpired, byUser.Status)

	// Terminal states are never overwritten.
	_, err = store.ApproveDeviceSession(ctx, "AAAA-BBBB", "user@example.com")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceSession)

	// The user code is free for a fresh session, which takes over the index.
	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-2", "AAAA-BBBB", time.Minute)))
	byUser, err = store.GetDeviceSessionByUserCode(ctx, "AAAA-BBBB")
	require.NoError(t, err)
	assert.Equal(t, "dev-2", byUser.DeviceCode)
}

func TestMemoryDeviceStoreDeleteExpired(t *testing.T) {
	store := NewMemoryDeviceStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-old", "AAAA-BBBB", -time.Minute)))
	require.NoError(t, store.SaveDeviceSession(ctx, newTestSession("dev-new", "CCCC-DDDD", time.Minute)))

	require.NoError(t, store.DeleteExpiredDeviceSessions(ctx))

	_, err := store.GetDeviceSessionByDeviceCode(ctx, "dev-old")
	assert.ErrorIs(t, err, serrors.ErrDeviceCodeNotFound)
	_, err = store.GetDeviceSessionByDeviceCode(ctx, "dev-new")
	assert.NoError(t, err)
}

func TestMemorySessionStoreLifecycle(t *testing.T) {
	users := NewMemoryUserStore()
	sessions := NewMemorySessionStore(users)
	defer sessions.Close()
	ctx := context.Background()

	user, err := users.ResolveUser(ctx, "user@example.com", "User")
	require.NoError(t, err)

	record := &domain.Session{
		UserID:    user.ID,
		Token:     "tok-1",
		Scope:     "openid",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, sessions.CreateSession(ctx, record))

	got, err := sessions.FindUserByActiveSessionToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, sessions.RevokeSessionByToken(ctx, "tok-1"))
	_, err = sessions.FindUserByActiveSessionToken(ctx, "tok-1")
	assert.ErrorIs(t, err, serrors.ErrSessionNotFound)

	// Revocation stays idempotent for unknown tokens.
	assert.NoError(t, sessions.RevokeSessionByToken(ctx, "never-issued"))
}

func TestMemoryUserStoreResolveIsIdempotent(t *testing.T) {
	users := NewMemoryUserStore()
	ctx := context.Background()

	first, err := users.ResolveUser(ctx, "user@example.com", "User")
	require.NoError(t, err)
	second, err := users.ResolveUser(ctx, "user@example.com", "Renamed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	byID, err := users.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", byID.Email)
}
