package domain

import "time"

// DeviceSessionStatus represents the status of a device authorization request.
type DeviceSessionStatus string

const (
	DeviceSessionStatusPending   DeviceSessionStatus = "pending"
	DeviceSessionStatusApproved  DeviceSessionStatus = "approved"
	DeviceSessionStatusDenied    DeviceSessionStatus = "denied"
	DeviceSessionStatusExpired   DeviceSessionStatus = "expired"
	DeviceSessionStatusExchanged DeviceSessionStatus = "exchanged"
)

// IsTerminal reports whether no further transition is allowed out of the status.
// Approved is not terminal: it can still move to exchanged or expired.
func (s DeviceSessionStatus) IsTerminal() bool {
	switch s {
	case DeviceSessionStatusDenied, DeviceSessionStatusExpired, DeviceSessionStatusExchanged:
		return true
	default:
		return false
	}
}

// DeviceSession holds the state of a single device authorization attempt (RFC 8628).
// The device_code is the server-only key; the user_code is what the user types on a
// secondary device to approve the attempt.
type DeviceSession struct {
	ID           string              `bson:"_id" json:"id"`
	DeviceCode   string              `bson:"device_code" json:"device_code"`
	UserCode     string              `bson:"user_code" json:"user_code"`
	Scope        string              `bson:"scope" json:"scope"`
	Status       DeviceSessionStatus `bson:"status" json:"status"`
	Subject      string              `bson:"subject,omitempty" json:"subject,omitempty"` // stable identifier of the approving user, set on approval
	ExpiresAt    time.Time           `bson:"expires_at" json:"expires_at"`
	Interval     int                 `bson:"interval" json:"interval"` // minimum seconds between polls
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	LastPolledAt time.Time           `bson:"last_polled_at,omitempty" json:"last_polled_at,omitempty"`
}

// EffectiveStatus evaluates expiry lazily: a session past its ExpiresAt reads as
// expired regardless of the stored status, unless it already reached a terminal
// state before the deadline.
func (d *DeviceSession) EffectiveStatus(now time.Time) DeviceSessionStatus {
	if d.Status.IsTerminal() {
		return d.Status
	}
	if now.After(d.ExpiresAt) {
		return DeviceSessionStatusExpired
	}
	return d.Status
}
