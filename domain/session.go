package domain

import "time"

// Session is the server-side record of an issued credential. The opaque token
// value lives in the client's local cache after issuance; the server keeps this
// revocable reference only.
type Session struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Token     string    `bson:"token" json:"token"`
	Scope     string    `bson:"scope,omitempty" json:"scope,omitempty"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	IsRevoked bool      `bson:"is_revoked,omitempty" json:"is_revoked,omitempty"`
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}
