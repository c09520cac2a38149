// Package echo exposes the device authorization flow over HTTP.
package echo

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/genauth-dev/genauth/api"
	"github.com/genauth-dev/genauth/domain"
	serrors "github.com/genauth-dev/genauth/errors"
	"github.com/genauth-dev/genauth/services"
)

// deviceCodeGrantType is the grant_type value for the device flow (RFC 8628).
const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceAuthAPI holds the HTTP handlers of the device authorization flow.
type DeviceAuthAPI struct {
	flowService  *services.DeviceFlowService
	tokenService *services.TokenService
	healthCheck  func(ctx context.Context) error
}

// NewDeviceAuthAPI initializes the device authorization API. healthCheck may be
// nil when the storage backend has no meaningful ping.
func NewDeviceAuthAPI(
	flowService *services.DeviceFlowService,
	tokenService *services.TokenService,
	healthCheck func(ctx context.Context) error,
) *DeviceAuthAPI {
	return &DeviceAuthAPI{
		flowService:  flowService,
		tokenService: tokenService,
		healthCheck:  healthCheck,
	}
}

// RegisterRoutes registers the device flow routes.
func (a *DeviceAuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth2/device/code", a.DeviceCodeHandler)
	e.POST("/oauth2/device/token", a.DeviceTokenHandler)
	e.POST("/oauth2/device/approve", a.ApproveHandler)
	e.POST("/oauth2/device/deny", a.DenyHandler)
	e.GET("/oauth2/userinfo", a.UserInfoHandler)
	e.POST("/oauth2/revoke", a.RevokeHandler)
	e.GET("/healthz", a.HealthHandler)
}

// DeviceCodeHandler starts a new device authorization session.
func (a *DeviceAuthAPI) DeviceCodeHandler(c echo.Context) error {
	scope := c.FormValue("scope")

	resp, err := a.flowService.InitiateDeviceAuthorization(c.Request().Context(), scope)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initiate device authorization")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("failed to initiate device authorization"))
	}

	return c.JSON(http.StatusOK, resp)
}

// DeviceTokenHandler is the poll/exchange endpoint. Pending sessions answer
// authorization_pending; approved ones are exchanged exactly once for a token.
func (a *DeviceAuthAPI) DeviceTokenHandler(c echo.Context) error {
	grantType := c.FormValue("grant_type")
	deviceCode := c.FormValue("device_code")

	if grantType != deviceCodeGrantType {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("unsupported grant_type"))
	}
	if deviceCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("device_code is required"))
	}

	resp, err := a.flowService.ExchangeDeviceCode(c.Request().Context(), deviceCode)
	if err != nil {
		return a.deviceFlowError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// deviceFlowError maps service errors onto OAuth2 error bodies.
func (a *DeviceAuthAPI) deviceFlowError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, serrors.ErrAuthorizationPending):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.AuthorizationPending,
			Description: "user has not yet approved the device",
		})
	case errors.Is(err, serrors.ErrSlowDown):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.SlowDown,
			Description: "polling faster than the advised interval",
		})
	case errors.Is(err, serrors.ErrDeviceFlowAccessDenied):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.AccessDenied,
			Description: "the user denied the authorization request",
		})
	case errors.Is(err, serrors.ErrDeviceFlowTokenExpired):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.ExpiredToken,
			Description: "the device code has expired",
		})
	case errors.Is(err, serrors.ErrDeviceCodeAlreadyExchanged):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.AlreadyExchanged,
			Description: "the device code was already exchanged",
		})
	case errors.Is(err, serrors.ErrDeviceCodeNotFound):
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("unknown device_code"))
	default:
		log.Error().Err(err).Msg("Device token exchange failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("device token exchange failed"))
	}
}

// authenticate resolves the bearer token on the request to a user.
func (a *DeviceAuthAPI) authenticate(c echo.Context) (*domain.User, error) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return nil, serrors.ErrUnauthenticated
	}
	return a.tokenService.UserByToken(c.Request().Context(), token)
}

// ApproveHandler transitions a pending session to approved. The approving
// principal must authenticate with a valid bearer token.
func (a *DeviceAuthAPI) ApproveHandler(c echo.Context) error {
	user, err := a.authenticate(c)
	if err != nil {
		if errors.Is(err, serrors.ErrUnauthenticated) {
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthenticated("a valid bearer token is required to approve a device"))
		}
		log.Error().Err(err).Msg("Failed to authenticate approval request")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("authentication failed"))
	}

	userCode := strings.TrimSpace(c.FormValue("user_code"))
	if userCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code is required"))
	}

	session, err := a.flowService.ApproveDeviceSession(c.Request().Context(), userCode, user.Email)
	if err != nil {
		return a.approvalError(c, err)
	}

	return c.JSON(http.StatusOK, &api.ApprovalResponse{
		UserCode: session.UserCode,
		Status:   string(session.Status),
	})
}

// DenyHandler transitions a pending session to denied.
func (a *DeviceAuthAPI) DenyHandler(c echo.Context) error {
	_, err := a.authenticate(c)
	if err != nil {
		if errors.Is(err, serrors.ErrUnauthenticated) {
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthenticated("a valid bearer token is required to deny a device"))
		}
		log.Error().Err(err).Msg("Failed to authenticate denial request")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("authentication failed"))
	}

	userCode := strings.TrimSpace(c.FormValue("user_code"))
	if userCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code is required"))
	}

	session, err := a.flowService.DenyDeviceSession(c.Request().Context(), userCode)
	if err != nil {
		return a.approvalError(c, err)
	}

	return c.JSON(http.StatusOK, &api.ApprovalResponse{
		UserCode: session.UserCode,
		Status:   string(session.Status),
	})
}

func (a *DeviceAuthAPI) approvalError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, serrors.ErrUserCodeNotFound):
		return c.JSON(http.StatusNotFound, serrors.NewInvalidGrant("unknown or expired user_code"))
	case errors.Is(err, serrors.ErrDeviceFlowTokenExpired):
		return c.JSON(http.StatusBadRequest, &serrors.OAuth2Error{
			Code:        serrors.ExpiredToken,
			Description: "the user code has expired",
		})
	case errors.Is(err, serrors.ErrCannotApproveDeviceSession):
		return c.JSON(http.StatusConflict, serrors.NewInvalidGrant("the session is not pending"))
	default:
		log.Error().Err(err).Msg("Device approval failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("device approval failed"))
	}
}

// UserInfoHandler returns the authenticated user, backing the whoami command.
func (a *DeviceAuthAPI) UserInfoHandler(c echo.Context) error {
	user, err := a.authenticate(c)
	if err != nil {
		if errors.Is(err, serrors.ErrUnauthenticated) {
			return c.JSON(http.StatusUnauthorized, serrors.NewUnauthenticated("missing or invalid bearer token"))
		}
		log.Error().Err(err).Msg("Failed to resolve user for userinfo")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("failed to resolve user"))
	}

	return c.JSON(http.StatusOK, &api.UserInfoResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	})
}

// RevokeHandler invalidates the server-side session behind the bearer token.
// Revocation is idempotent: an unknown token still answers 200.
func (a *DeviceAuthAPI) RevokeHandler(c echo.Context) error {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return c.JSON(http.StatusUnauthorized, serrors.NewUnauthenticated("missing bearer token"))
	}

	if err := a.tokenService.RevokeToken(c.Request().Context(), token); err != nil {
		log.Error().Err(err).Msg("Failed to revoke session token")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("failed to revoke token"))
	}

	return c.NoContent(http.StatusOK)
}

// HealthHandler pings the storage backend.
func (a *DeviceAuthAPI) HealthHandler(c echo.Context) error {
	if a.healthCheck != nil {
		if err := a.healthCheck(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
