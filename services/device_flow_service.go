package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genauth-dev/genauth/api"
	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
	applog "github.com/genauth-dev/genauth/log"
)

// Constants for the device authorization flow.
const (
	deviceCodeLength    = 32                                // device_code length in bytes, hex encoded
	userCodeLength      = 8                                 // characters in the user_code
	userCodeCharset     = "BCDFGHJKLMNPQRSTVWXYZ0123456789" // unambiguous alphabet, no 0/O or 1/I lookalikes
	userCodeChunkSize   = 4                                 // "ABCD-EFGH" grouping
	userCodeMaxAttempts = 10                                // re-rolls before giving up on a collision streak
)

// generateDeviceCode returns a secure random device code, hex encoded.
func generateDeviceCode() (string, error) {
	b := make([]byte, deviceCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateUserCode generates a short human-typable code from the unambiguous
// charset, chunked with a hyphen for readability.
func generateUserCode() (string, error) {
	b := make([]byte, userCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := 0; i < userCodeLength; i++ {
		b[i] = userCodeCharset[int(b[i])%len(userCodeCharset)]
	}

	var result strings.Builder
	for i, char := range b {
		if i > 0 && i%userCodeChunkSize == 0 {
			result.WriteString("-")
		}
		result.WriteByte(char)
	}
	return result.String(), nil
}

// DeviceFlowService owns the device authorization state machine: it issues
// codes, handles approval and denial by an authenticated user, and drives the
// poll/exchange endpoint.
type DeviceFlowService struct {
	deviceRepo   domain.DeviceAuthorizationRepository
	tokenService *TokenService
	ttl          time.Duration
	pollInterval time.Duration
	scope        string
	baseURL      string
	logger       applog.Logger
}

// NewDeviceFlowService creates a new DeviceFlowService.
func NewDeviceFlowService(
	deviceRepo domain.DeviceAuthorizationRepository,
	tokenService *TokenService,
	ttl time.Duration,
	pollInterval time.Duration,
	scope string,
	baseURL string,
	logger applog.Logger,
) *DeviceFlowService {
	return &DeviceFlowService{
		deviceRepo:   deviceRepo,
		tokenService: tokenService,
		ttl:          ttl,
		pollInterval: pollInterval,
		scope:        scope,
		baseURL:      baseURL,
		logger:       logger,
	}
}

// InitiateDeviceAuthorization creates a new device session and returns the
// codes the client needs (RFC 8628, Section 3.2). User codes are re-rolled on
// collision with an active session.
func (s *DeviceFlowService) InitiateDeviceAuthorization(ctx context.Context, scope string) (*api.DeviceAuthResponse, error) {
	if scope == "" {
		scope = s.scope
	}

	deviceCode, err := generateDeviceCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device_code: %w", err)
	}

	now := time.Now().UTC()
	session := &domain.DeviceSession{
		ID:         uuid.NewString(),
		DeviceCode: deviceCode,
		Scope:      scope,
		Status:     domain.DeviceSessionStatusPending,
		ExpiresAt:  now.Add(s.ttl),
		Interval:   int(s.pollInterval.Seconds()),
		CreatedAt:  now,
	}

	for attempt := 0; ; attempt++ {
		session.UserCode, err = generateUserCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate user_code: %w", err)
		}

		err = s.deviceRepo.SaveDeviceSession(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, serrors.ErrUserCodeConflict) {
			return nil, fmt.Errorf("failed to save device session: %w", err)
		}
		if attempt+1 >= userCodeMaxAttempts {
			return nil, fmt.Errorf("could not find a free user_code after %d attempts", userCodeMaxAttempts)
		}
		s.logger.Debug(ctx, "user_code collision, re-rolling", map[string]interface{}{"attempt": attempt + 1})
	}

	s.logger.Info(ctx, "device authorization initiated", map[string]interface{}{
		"user_code":  session.UserCode,
		"expires_at": session.ExpiresAt,
	})

	verificationURI := fmt.Sprintf("%s/device", s.baseURL)

	return &api.DeviceAuthResponse{
		DeviceCode:              session.DeviceCode,
		UserCode:                session.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", verificationURI, session.UserCode),
		ExpiresIn:               int(s.ttl.Seconds()),
		Interval:                session.Interval,
	}, nil
}

// ApproveDeviceSession marks the session behind a user code as approved by the
// given subject. Only pending, unexpired sessions can be approved.
func (s *DeviceFlowService) ApproveDeviceSession(ctx context.Context, userCode, subject string) (*domain.DeviceSession, error) {
	session, err := s.deviceRepo.GetDeviceSessionByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, serrors.ErrUserCodeNotFound) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up user code: %w", err)
	}

	now := time.Now().UTC()
	if now.After(session.ExpiresAt) {
		_ = s.deviceRepo.MarkDeviceSessionExpired(ctx, session.DeviceCode)
		return nil, serrors.ErrDeviceFlowTokenExpired
	}
	if session.Status != domain.DeviceSessionStatusPending {
		return nil, serrors.ErrCannotApproveDeviceSession
	}

	updated, err := s.deviceRepo.ApproveDeviceSession(ctx, userCode, subject)
	if err != nil {
		if errors.Is(err, serrors.ErrCannotApproveDeviceSession) {
			return nil, serrors.ErrCannotApproveDeviceSession
		}
		return nil, fmt.Errorf("failed to approve device session: %w", err)
	}

	s.logger.Info(ctx, "device session approved", map[string]interface{}{
		"user_code": userCode,
		"subject":   subject,
	})

	return updated, nil
}

// DenyDeviceSession marks the session behind a user code as denied.
func (s *DeviceFlowService) DenyDeviceSession(ctx context.Context, userCode string) (*domain.DeviceSession, error) {
	session, err := s.deviceRepo.GetDeviceSessionByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, serrors.ErrUserCodeNotFound) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up user code: %w", err)
	}

	now := time.Now().UTC()
	if now.After(session.ExpiresAt) {
		_ = s.deviceRepo.MarkDeviceSessionExpired(ctx, session.DeviceCode)
		return nil, serrors.ErrDeviceFlowTokenExpired
	}
	if session.Status != domain.DeviceSessionStatusPending {
		return nil, serrors.ErrCannotApproveDeviceSession
	}

	updated, err := s.deviceRepo.DenyDeviceSession(ctx, userCode)
	if err != nil {
		if errors.Is(err, serrors.ErrCannotApproveDeviceSession) {
			return nil, serrors.ErrCannotApproveDeviceSession
		}
		return nil, fmt.Errorf("failed to deny device session: %w", err)
	}

	s.logger.Info(ctx, "device session denied", map[string]interface{}{"user_code": userCode})

	return updated, nil
}

// ExchangeDeviceCode drives the token endpoint for the device_code grant
// (RFC 8628, Sections 3.4 and 3.5). It maps the session state to the poll
// outcome: pending sessions report authorization_pending (or slow_down when
// polled too fast), approved sessions are exchanged exactly once for a
// credential, and every terminal state surfaces its own error.
func (s *DeviceFlowService) ExchangeDeviceCode(ctx context.Context, deviceCode string) (*api.TokenResponse, error) {
	session, err := s.deviceRepo.GetDeviceSessionByDeviceCode(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, serrors.ErrDeviceCodeNotFound) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up device code: %w", err)
	}

	now := time.Now().UTC()

	// Lazy expiry: the stored status is advisory once the deadline passed.
	if session.EffectiveStatus(now) == domain.DeviceSessionStatusExpired {
		if session.Status != domain.DeviceSessionStatusExpired {
			_ = s.deviceRepo.MarkDeviceSessionExpired(ctx, deviceCode)
		}
		return nil, serrors.ErrDeviceFlowTokenExpired
	}

	switch session.Status {
	case domain.DeviceSessionStatusPending:
		if !session.LastPolledAt.IsZero() && now.Sub(session.LastPolledAt) < time.Duration(session.Interval)*time.Second {
			return nil, serrors.ErrSlowDown
		}
		if pollErr := s.deviceRepo.UpdateDeviceSessionLastPolledAt(ctx, deviceCode, now); pollErr != nil {
			s.logger.Warn(ctx, "failed to update last polled at", map[string]interface{}{"error": pollErr.Error()})
		}
		return nil, serrors.ErrAuthorizationPending

	case domain.DeviceSessionStatusApproved:
		// CAS first: exactly one exchange wins even under concurrent calls.
		won, err := s.deviceRepo.ExchangeDeviceSession(ctx, deviceCode)
		if err != nil {
			if errors.Is(err, serrors.ErrDeviceCodeAlreadyExchanged) {
				return nil, serrors.ErrDeviceCodeAlreadyExchanged
			}
			if errors.Is(err, serrors.ErrCannotApproveDeviceSession) {
				// Raced with expiry between the read and the CAS.
				return nil, serrors.ErrDeviceFlowTokenExpired
			}
			return nil, fmt.Errorf("failed to exchange device session: %w", err)
		}

		tokenResponse, tokenErr := s.tokenService.IssueForDeviceSession(ctx, won)
		if tokenErr != nil {
			// Compensate the reservation so the approved session stays usable
			// and no half-issued credential exists.
			if revertErr := s.deviceRepo.RevertExchange(ctx, deviceCode); revertErr != nil {
				s.logger.Error(ctx, "failed to revert exchange after issuance failure", revertErr,
					map[string]interface{}{"device_code": deviceCode})
			}
			return nil, fmt.Errorf("failed to issue credential: %w", tokenErr)
		}

		s.logger.Info(ctx, "device session exchanged", map[string]interface{}{"subject": won.Subject})
		return tokenResponse, nil

	case domain.DeviceSessionStatusDenied:
		return nil, serrors.ErrDeviceFlowAccessDenied

	case domain.DeviceSessionStatusExchanged:
		return nil, serrors.ErrDeviceCodeAlreadyExchanged

	case domain.DeviceSessionStatusExpired:
		return nil, serrors.ErrDeviceFlowTokenExpired

	default:
		return nil, fmt.Errorf("unexpected device session status %q", session.Status)
	}
}

// CleanupExpired removes device sessions past their deadline. Called by the
// server janitor loop.
func (s *DeviceFlowService) CleanupExpired(ctx context.Context) error {
	return s.deviceRepo.DeleteExpiredDeviceSessions(ctx)
}
