package errors

import "fmt"

// OAuth2Error represents a standardized OAuth 2.0 error response body.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 / RFC 8628 error codes
const (
	InvalidRequest       = "invalid_request"
	InvalidGrant         = "invalid_grant"
	AccessDenied         = "access_denied"
	ExpiredToken         = "expired_token"
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	AlreadyExchanged     = "already_exchanged"
	ServerError          = "server_error"
	Unauthenticated      = "unauthenticated"
)

func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
	}
}

func NewUnauthenticated(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        Unauthenticated,
		Description: description,
	}
}
