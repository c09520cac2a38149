// Package client implements the CLI side of the device authorization flow:
// starting a session, polling for approval and talking to the userinfo and
// revocation endpoints.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/genauth-dev/genauth/api"
	serrors "github.com/genauth-dev/genauth/errors"
)

const (
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	requestTimeout = 15 * time.Second

	// transientRetryLimit bounds consecutive network failures during polling
	// before the flow gives up.
	transientRetryLimit = 5

	// slowDownBackoff is added to the poll interval after a slow_down answer,
	// per RFC 8628 Section 3.5.
	slowDownBackoff = 5 * time.Second
)

// Terminal poll outcomes surfaced to the command layer.
var (
	ErrAccessDenied     = serrors.ErrDeviceFlowAccessDenied
	ErrExpired          = serrors.ErrDeviceFlowTokenExpired
	ErrAlreadyExchanged = serrors.ErrDeviceCodeAlreadyExchanged
	ErrUnauthenticated  = serrors.ErrUnauthenticated
)

// Client talks to the genauth server.
type Client struct {
	http *resty.Client
}

// New creates a client for the given server base URL.
func New(serverURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(requestTimeout)

	return &Client{http: httpClient}
}

// decodeOAuthError maps an OAuth2 error body onto the matching sentinel.
func decodeOAuthError(body []byte) error {
	var oauthErr serrors.OAuth2Error
	if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Code == "" {
		return fmt.Errorf("unexpected error response: %s", string(body))
	}

	switch oauthErr.Code {
	case serrors.AuthorizationPending:
		return serrors.ErrAuthorizationPending
	case serrors.SlowDown:
		return serrors.ErrSlowDown
	case serrors.AccessDenied:
		return ErrAccessDenied
	case serrors.ExpiredToken:
		return ErrExpired
	case serrors.AlreadyExchanged:
		return ErrAlreadyExchanged
	case serrors.Unauthenticated:
		return ErrUnauthenticated
	default:
		return &oauthErr
	}
}

// StartDeviceAuthorization requests a new device session.
func (c *Client) StartDeviceAuthorization(ctx context.Context) (*api.DeviceAuthResponse, error) {
	var authResp api.DeviceAuthResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{}).
		SetResult(&authResp).
		Post("/oauth2/device/code")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serrors.ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return nil, decodeOAuthError(resp.Body())
	}

	return &authResp, nil
}

// PollToken performs a single poll/exchange attempt for the device code.
func (c *Client) PollToken(ctx context.Context, deviceCode string) (*api.TokenResponse, error) {
	var tokenResp api.TokenResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":  deviceCodeGrantType,
			"device_code": deviceCode,
		}).
		SetResult(&tokenResp).
		Post("/oauth2/device/token")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serrors.ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return nil, decodeOAuthError(resp.Body())
	}

	return &tokenResp, nil
}

// WaitForApproval polls the token endpoint until the session reaches a
// terminal state. It never polls faster than the server-advised interval,
// backs off further on slow_down, retries transient network errors a bounded
// number of times and stops once the session TTL has elapsed even if the
// server is unresponsive.
func (c *Client) WaitForApproval(ctx context.Context, auth *api.DeviceAuthResponse) (*api.TokenResponse, error) {
	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Duration(auth.ExpiresIn) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	transientFailures := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrExpired
			}
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		tokenResp, err := c.PollToken(ctx, auth.DeviceCode)
		switch {
		case err == nil:
			return tokenResp, nil
		case errors.Is(err, serrors.ErrAuthorizationPending):
			transientFailures = 0
		case errors.Is(err, serrors.ErrSlowDown):
			transientFailures = 0
			interval += slowDownBackoff
		case errors.Is(err, serrors.ErrTransientNetwork):
			transientFailures++
			if transientFailures >= transientRetryLimit {
				return nil, fmt.Errorf("giving up after %d consecutive network errors: %w", transientFailures, err)
			}
		default:
			// denied, expired, already exchanged, or a server error
			return nil, err
		}
	}
}

// UserInfo returns the user owning the bearer token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*api.UserInfoResponse, error) {
	var userResp api.UserInfoResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&userResp).
		Get("/oauth2/userinfo")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serrors.ErrTransientNetwork, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrUnauthenticated
	}
	if resp.IsError() {
		return nil, decodeOAuthError(resp.Body())
	}

	return &userResp, nil
}

// Revoke invalidates the server-side session for the token. Callers treat
// failures as non-fatal; the local token file is cleared regardless.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Post("/oauth2/revoke")
	if err != nil {
		return fmt.Errorf("%w: %w", serrors.ErrTransientNetwork, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusUnauthorized {
		return decodeOAuthError(resp.Body())
	}
	return nil
}
