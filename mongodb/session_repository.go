package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
)

// SessionRepository implements domain.SessionRepository on MongoDB. Tokens are
// stored hashed; a TTL index prunes expired records.
type SessionRepository struct {
	sessions *mongo.Collection
	users    domain.UserRepository
}

func NewSessionRepository(ctx context.Context, db *mongo.Database, users domain.UserRepository) (*SessionRepository, error) {
	repo := &SessionRepository{
		sessions: db.Collection(SessionsCollection),
		users:    users,
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.sessions.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, err
	}

	return repo, nil
}

// sessionDoc mirrors domain.Session but stores the token hash instead of the
// raw value. The raw token leaves the server only in the exchange response.
type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	TokenHash string    `bson:"token_hash"`
	Scope     string    `bson:"scope,omitempty"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
	IsRevoked bool      `bson:"is_revoked,omitempty"`
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	doc := sessionDoc{
		ID:        session.ID,
		UserID:    session.UserID,
		TokenHash: hashToken(session.Token),
		Scope:     session.Scope,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
		IsRevoked: session.IsRevoked,
	}

	_, err := r.sessions.InsertOne(ctx, doc)
	return err
}

func (r *SessionRepository) FindUserByActiveSessionToken(ctx context.Context, token string) (*domain.User, error) {
	filter := bson.M{
		"token_hash": hashToken(token),
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"is_revoked": bson.M{"$ne": true},
	}

	var doc sessionDoc
	if err := r.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrSessionNotFound
		}
		return nil, err
	}

	user, err := r.users.GetUserByID(ctx, doc.UserID)
	if err != nil {
		if errors.Is(err, serrors.ErrUserNotFound) {
			return nil, serrors.ErrSessionNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *SessionRepository) RevokeSessionByToken(ctx context.Context, token string) error {
	filter := bson.M{"token_hash": hashToken(token)}
	update := bson.M{"$set": bson.M{"is_revoked": true}}

	_, err := r.sessions.UpdateOne(ctx, filter, update)
	return err
}
