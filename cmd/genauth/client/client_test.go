package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genauth-dev/genauth/api"
	serrors "github.com/genauth-dev/genauth/errors"
)

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(serrors.OAuth2Error{Code: code})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestStartDeviceAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth2/device/code", r.URL.Path)
		writeJSON(w, api.DeviceAuthResponse{
			DeviceCode:      "dev-1",
			UserCode:        "ABCD-EFGH",
			VerificationURI: "http://example.com/device",
			ExpiresIn:       1800,
			Interval:        5,
		})
	}))
	defer srv.Close()

	auth, err := New(srv.URL).StartDeviceAuthorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-1", auth.DeviceCode)
	assert.Equal(t, "ABCD-EFGH", auth.UserCode)
	assert.Equal(t, 5, auth.Interval)
}

func TestPollTokenOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		errorCode string
		wantErr   error
	}{
		{"pending", http.StatusBadRequest, serrors.AuthorizationPending, serrors.ErrAuthorizationPending},
		{"slow down", http.StatusBadRequest, serrors.SlowDown, serrors.ErrSlowDown},
		{"denied", http.StatusBadRequest, serrors.AccessDenied, ErrAccessDenied},
		{"expired", http.StatusBadRequest, serrors.ExpiredToken, ErrExpired},
		{"already exchanged", http.StatusBadRequest, serrors.AlreadyExchanged, ErrAlreadyExchanged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/oauth2/device/token", r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, deviceCodeGrantType, r.PostFormValue("grant_type"))
				assert.Equal(t, "dev-1", r.PostFormValue("device_code"))
				writeOAuthError(w, tc.status, tc.errorCode)
			}))
			defer srv.Close()

			_, err := New(srv.URL).PollToken(context.Background(), "dev-1")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestWaitForApprovalSucceedsAfterPending(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeOAuthError(w, http.StatusBadRequest, serrors.AuthorizationPending)
			return
		}
		writeJSON(w, api.TokenResponse{AccessToken: "tok", TokenType: "Bearer", ExpiresIn: 3600})
	}))
	defer srv.Close()

	auth := &api.DeviceAuthResponse{DeviceCode: "dev-1", ExpiresIn: 60, Interval: 1}

	token, err := New(srv.URL).WaitForApproval(context.Background(), auth)
	require.NoError(t, err)
	assert.Equal(t, "tok", token.AccessToken)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForApprovalDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusBadRequest, serrors.AccessDenied)
	}))
	defer srv.Close()

	auth := &api.DeviceAuthResponse{DeviceCode: "dev-1", ExpiresIn: 60, Interval: 1}

	_, err := New(srv.URL).WaitForApproval(context.Background(), auth)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestWaitForApprovalExpiresAtDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusBadRequest, serrors.AuthorizationPending)
	}))
	defer srv.Close()

	// Session TTL shorter than one poll interval, so the deadline fires first.
	auth := &api.DeviceAuthResponse{DeviceCode: "dev-1", ExpiresIn: 1, Interval: 2}

	_, err := New(srv.URL).WaitForApproval(context.Background(), auth)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestWaitForApprovalGivesUpOnNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // every poll now fails to connect

	auth := &api.DeviceAuthResponse{DeviceCode: "dev-1", ExpiresIn: 120, Interval: 1}

	_, err := New(srv.URL).WaitForApproval(context.Background(), auth)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrTransientNetwork)
}

func TestWaitForApprovalHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusBadRequest, serrors.AuthorizationPending)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	auth := &api.DeviceAuthResponse{DeviceCode: "dev-1", ExpiresIn: 60, Interval: 1}

	_, err := New(srv.URL).WaitForApproval(ctx, auth)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/userinfo", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good-token" {
			writeOAuthError(w, http.StatusUnauthorized, serrors.Unauthenticated)
			return
		}
		writeJSON(w, api.UserInfoResponse{ID: "user-1", Email: "user@example.com", Name: "User"})
	}))
	defer srv.Close()

	c := New(srv.URL)

	user, err := c.UserInfo(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)

	_, err = c.UserInfo(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRevoke(t *testing.T) {
	var revoked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/revoke", r.URL.Path)
		revoked.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).Revoke(context.Background(), "tok"))
	assert.True(t, revoked.Load())
}

func TestRevokeToleratesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusUnauthorized, serrors.Unauthenticated)
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL).Revoke(context.Background(), "stale"))
}
