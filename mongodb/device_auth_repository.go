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

// DeviceAuthRepository implements domain.DeviceAuthorizationRepository on
// MongoDB. Transitions use FindOneAndUpdate with a status filter, so each one
// is a single atomic compare-and-set scoped to one document.
type DeviceAuthRepository struct {
	deviceAuth *mongo.Collection
}

func NewDeviceAuthRepository(ctx context.Context, db *mongo.Database) (*DeviceAuthRepository, error) {
	repo := &DeviceAuthRepository{
		deviceAuth: db.Collection(DeviceAuthCollectionName),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "device_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_code", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
	}
	if _, err := repo.deviceAuth.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, err
	}

	return repo, nil
}

func nonTerminalStatuses() bson.A {
	return bson.A{
		domain.DeviceSessionStatusPending,
		domain.DeviceSessionStatusApproved,
	}
}

// SaveDeviceSession stores a new device session. The user code must not be in
// use by another non-terminal, unexpired session.
func (r *DeviceAuthRepository) SaveDeviceSession(ctx context.Context, session *domain.DeviceSession) error {
	count, err := r.deviceAuth.CountDocuments(ctx, bson.M{
		"user_code":  session.UserCode,
		"status":     bson.M{"$in": nonTerminalStatuses()},
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return serrors.ErrUserCodeConflict
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err = r.deviceAuth.InsertOne(ctx, session)
	return err
}

func (r *DeviceAuthRepository) GetDeviceSessionByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceSession, error) {
	var result domain.DeviceSession

	err := r.deviceAuth.FindOne(ctx, bson.M{"device_code": deviceCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, err
	}

	return &result, nil
}

// GetDeviceSessionByUserCode resolves a user code to its newest session.
// Expired sessions are included so callers can report expiry rather than an
// unknown code; a reused code resolves to the latest claim.
func (r *DeviceAuthRepository) GetDeviceSessionByUserCode(ctx context.Context, userCode string) (*domain.DeviceSession, error) {
	var result domain.DeviceSession
	opt := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := r.deviceAuth.FindOne(ctx, bson.M{"user_code": userCode}, opt).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ApproveDeviceSession atomically flips a pending, unexpired session to
// approved and records the approving subject. The filter guarantees exactly one
// of two racing approvals wins; the loser sees no matching document.
func (r *DeviceAuthRepository) ApproveDeviceSession(ctx context.Context, userCode, subject string) (*domain.DeviceSession, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     domain.DeviceSessionStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":  domain.DeviceSessionStatusApproved,
			"subject": subject,
		},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceSession
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApproveDeviceSession
		}
		return nil, err
	}

	return &updatedDoc, nil
}

// DenyDeviceSession atomically flips a pending, unexpired session to denied.
func (r *DeviceAuthRepository) DenyDeviceSession(ctx context.Context, userCode string) (*domain.DeviceSession, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     domain.DeviceSessionStatusPending,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.DeviceSessionStatusDenied},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceSession
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApproveDeviceSession
		}
		return nil, err
	}

	return &updatedDoc, nil
}

// ExchangeDeviceSession atomically flips an approved, unexpired session to
// exchanged. Concurrent exchanges resolve to a single winner; every other
// caller gets ErrDeviceCodeAlreadyExchanged once the status shows exchanged.
func (r *DeviceAuthRepository) ExchangeDeviceSession(ctx context.Context, deviceCode string) (*domain.DeviceSession, error) {
	filter := bson.M{
		"device_code": deviceCode,
		"expires_at":  bson.M{"$gt": time.Now().UTC()},
		"status":      domain.DeviceSessionStatusApproved,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.DeviceSessionStatusExchanged},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceSession
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err == nil {
		return &updatedDoc, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// The CAS missed: distinguish replay from the other failure modes.
	current, getErr := r.GetDeviceSessionByDeviceCode(ctx, deviceCode)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == domain.DeviceSessionStatusExchanged {
		return nil, serrors.ErrDeviceCodeAlreadyExchanged
	}
	return nil, serrors.ErrCannotApproveDeviceSession
}

// RevertExchange compensates a failed credential write after a won exchange.
func (r *DeviceAuthRepository) RevertExchange(ctx context.Context, deviceCode string) error {
	filter := bson.M{
		"device_code": deviceCode,
		"status":      domain.DeviceSessionStatusExchanged,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.DeviceSessionStatusApproved},
	}
	_, err := r.deviceAuth.UpdateOne(ctx, filter, update)
	return err
}

// MarkDeviceSessionExpired records the expired status, never overwriting a
// terminal state.
func (r *DeviceAuthRepository) MarkDeviceSessionExpired(ctx context.Context, deviceCode string) error {
	filter := bson.M{
		"device_code": deviceCode,
		"status":      bson.M{"$in": nonTerminalStatuses()},
	}
	update := bson.M{
		"$set": bson.M{"status": domain.DeviceSessionStatusExpired},
	}
	_, err := r.deviceAuth.UpdateOne(ctx, filter, update)
	return err
}

func (r *DeviceAuthRepository) UpdateDeviceSessionLastPolledAt(ctx context.Context, deviceCode string, at time.Time) error {
	filter := bson.M{"device_code": deviceCode}
	update := bson.M{"$set": bson.M{"last_polled_at": at}}

	result, err := r.deviceAuth.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

func (r *DeviceAuthRepository) DeleteExpiredDeviceSessions(ctx context.Context) error {
	filter := bson.M{
		"expires_at": bson.M{"$lte": time.Now().UTC()},
	}
	_, err := r.deviceAuth.DeleteMany(ctx, filter)
	return err
}
