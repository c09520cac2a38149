// Package api defines the wire models of the device authorization protocol.
package api

// DeviceAuthResponse is the response from the device authorization endpoint.
// See RFC 8628, Section 3.2.
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`         // lifetime in seconds of the device_code and user_code
	Interval                int    `json:"interval,omitempty"` // minimum polling interval in seconds
}

// TokenResponse represents an OAuth 2.0 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UserInfoResponse is returned from the userinfo endpoint.
type UserInfoResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// ApprovalResponse acknowledges an approve or deny action on a user code.
type ApprovalResponse struct {
	UserCode string `json:"user_code"`
	Status   string `json:"status"`
}
