package domain

import (
	"context"
	"time"
)

// DeviceAuthorizationRepository persists device sessions. Implementations must
// make every transition atomic per device code: a compare-and-set discipline so
// that racing approvals, denials, exchanges and expiry checks resolve to exactly
// one terminal outcome.
type DeviceAuthorizationRepository interface {
	// SaveDeviceSession stores a freshly generated session. It fails with
	// ErrUserCodeConflict when the user code collides with a non-terminal
	// session, so callers can re-roll.
	SaveDeviceSession(ctx context.Context, session *DeviceSession) error

	// GetDeviceSessionByDeviceCode returns the session for a device code, or
	// ErrDeviceCodeNotFound.
	GetDeviceSessionByDeviceCode(ctx context.Context, deviceCode string) (*DeviceSession, error)

	// GetDeviceSessionByUserCode returns the newest session a user code refers
	// to, or ErrUserCodeNotFound. Sessions past their deadline are included so
	// callers can report expiry rather than an unknown code.
	GetDeviceSessionByUserCode(ctx context.Context, userCode string) (*DeviceSession, error)

	// ApproveDeviceSession atomically moves a pending, unexpired session to
	// approved and records the approving subject. Returns
	// ErrCannotApproveDeviceSession when the session is not pending anymore or
	// has expired.
	ApproveDeviceSession(ctx context.Context, userCode, subject string) (*DeviceSession, error)

	// DenyDeviceSession atomically moves a pending, unexpired session to
	// denied. Same failure contract as ApproveDeviceSession.
	DenyDeviceSession(ctx context.Context, userCode string) (*DeviceSession, error)

	// ExchangeDeviceSession atomically moves an approved, unexpired session to
	// exchanged. At most one caller ever wins; the rest get
	// ErrDeviceCodeAlreadyExchanged.
	ExchangeDeviceSession(ctx context.Context, deviceCode string) (*DeviceSession, error)

	// RevertExchange moves a session back from exchanged to approved. Used only
	// to compensate a failed credential write after a won exchange; never part
	// of the externally observable state machine.
	RevertExchange(ctx context.Context, deviceCode string) error

	// MarkDeviceSessionExpired records the expired status for a session whose
	// deadline has passed. Lazy: readers must not depend on it having run.
	MarkDeviceSessionExpired(ctx context.Context, deviceCode string) error

	// UpdateDeviceSessionLastPolledAt stamps the poll time, used for slow_down
	// enforcement.
	UpdateDeviceSessionLastPolledAt(ctx context.Context, deviceCode string, at time.Time) error

	// DeleteExpiredDeviceSessions removes sessions past their deadline.
	DeleteExpiredDeviceSessions(ctx context.Context) error
}

// UserRepository is the identity slice of the datastore collaborator: exactly
// the operations token issuance and userinfo need.
type UserRepository interface {
	// ResolveUser upserts a user keyed by the stable email, never duplicating
	// one. Idempotent.
	ResolveUser(ctx context.Context, email, name string) (*User, error)

	// GetUserByID returns the user or ErrUserNotFound.
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// SessionRepository stores issued credential records.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error

	// FindUserByActiveSessionToken resolves a bearer token to its owning user,
	// rejecting revoked and expired sessions with ErrSessionNotFound.
	FindUserByActiveSessionToken(ctx context.Context, token string) (*User, error)

	// RevokeSessionByToken marks the session revoked. Missing tokens are not an
	// error; revocation is idempotent.
	RevokeSessionByToken(ctx context.Context, token string) error
}
