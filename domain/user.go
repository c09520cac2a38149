package domain

import "time"

// User represents a user in the system. Users are resolved lazily by a stable
// key (email) when an approved device session is exchanged; credential checks
// (password, social login) happen in an external identity provider.
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Email     string    `bson:"email" json:"email"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
