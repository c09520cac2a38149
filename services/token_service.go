package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/genauth-dev/genauth/api"
	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
	applog "github.com/genauth-dev/genauth/log"
)

const sessionTokenBytes = 32

// generateSessionToken returns an opaque URL-safe bearer token value.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenService mints credentials for approved device sessions and resolves
// bearer tokens back to users.
type TokenService struct {
	userRepo    domain.UserRepository
	sessionRepo domain.SessionRepository
	tokenTTL    time.Duration
	logger      applog.Logger
}

// NewTokenService creates a new TokenService.
func NewTokenService(
	userRepo domain.UserRepository,
	sessionRepo domain.SessionRepository,
	tokenTTL time.Duration,
	logger applog.Logger,
) *TokenService {
	return &TokenService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

// IssueForDeviceSession mints a credential for an exchanged device session.
// The caller must have won the exchange CAS already; the session carries the
// approving subject. Identity resolution is an idempotent upsert keyed by that
// subject, so repeated logins never duplicate a user.
func (s *TokenService) IssueForDeviceSession(ctx context.Context, session *domain.DeviceSession) (*api.TokenResponse, error) {
	if session.Status != domain.DeviceSessionStatusExchanged {
		return nil, fmt.Errorf("device session %q is not exchangeable", session.Status)
	}
	if session.Subject == "" {
		return nil, errors.New("device session has no approving subject")
	}

	user, err := s.userRepo.ResolveUser(ctx, session.Subject, "")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve user: %w", serrors.ErrStorageUnavailable, err)
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now().UTC()
	record := &domain.Session{
		UserID:    user.ID,
		Token:     token,
		Scope:     session.Scope,
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
	if err := s.sessionRepo.CreateSession(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: failed to create session record: %w", serrors.ErrStorageUnavailable, err)
	}

	s.logger.Info(ctx, "credential issued", map[string]interface{}{
		"user_id":    user.ID,
		"expires_at": record.ExpiresAt,
	})

	return &api.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		Scope:       session.Scope,
		ExpiresIn:   int(s.tokenTTL.Seconds()),
	}, nil
}

// UserByToken resolves an access token to its owning user, rejecting revoked
// and expired sessions.
func (s *TokenService) UserByToken(ctx context.Context, token string) (*domain.User, error) {
	user, err := s.sessionRepo.FindUserByActiveSessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, serrors.ErrSessionNotFound) {
			return nil, serrors.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to resolve session token: %w", err)
	}
	return user, nil
}

// RevokeToken invalidates the server-side session record for a token.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	return s.sessionRepo.RevokeSessionByToken(ctx, token)
}
