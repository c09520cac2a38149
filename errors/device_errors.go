package errors

import "errors"

// Sentinel errors for the device authorization flow. Services map these onto
// OAuth2Error wire bodies at the API boundary.
var (
	ErrDeviceCodeNotFound         = errors.New("device code not found")
	ErrUserCodeNotFound           = errors.New("user code not found")
	ErrUserCodeConflict           = errors.New("user code already in use")
	ErrCannotApproveDeviceSession = errors.New("device session cannot be approved")
	ErrAuthorizationPending       = errors.New("authorization pending")
	ErrSlowDown                   = errors.New("polling too frequently")
	ErrDeviceFlowAccessDenied     = errors.New("access denied by user")
	ErrDeviceFlowTokenExpired     = errors.New("device code expired")
	ErrDeviceCodeAlreadyExchanged = errors.New("device code already exchanged")
	ErrUserNotFound               = errors.New("user not found")
	ErrSessionNotFound            = errors.New("session not found")
	ErrUnauthenticated            = errors.New("not authenticated")
	ErrTransientNetwork           = errors.New("transient network error")
	ErrStorageUnavailable         = errors.New("storage unavailable")
)
