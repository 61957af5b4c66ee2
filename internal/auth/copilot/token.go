package copilot

import (
	"time"

	"golang.org/x/oauth2"
)

// LoginState is a step of the device-code login.
type LoginState string

const (
	StateInit                  LoginState = "INIT"
	StateAwaitingAuthorization LoginState = "AWAITING_AUTHORIZATION"
	StatePolling               LoginState = "POLLING"
	StateTokenObtained         LoginState = "TOKEN_OBTAINED"
	StateExpired               LoginState = "EXPIRED"
	StateError                 LoginState = "ERROR"
	StateCredentialExchange    LoginState = "CREDENTIAL_EXCHANGE"
	StateSuccess               LoginState = "SUCCESS"
	StateNoAccess              LoginState = "NO_ACCESS"
)

// DeviceFlow represents the response from the device authorization endpoint.
type DeviceFlow struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// AccessToken is the GitHub OAuth token obtained by polling.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// OAuth2 returns the token in the "token <value>" authorization scheme the GitHub API
// accepts for OAuth app tokens.
func (t *AccessToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.AccessToken, TokenType: "token"}
}

// CopilotToken is the completion credential exchanged for an AccessToken.
type CopilotToken struct {
	Token string `json:"token"`
	// ExpiresAt is a Unix timestamp in seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Expiry returns ExpiresAt as a UTC time.
func (t *CopilotToken) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0).UTC()
}

// pollResponse is either an access token or an error code such as
// "authorization_pending".
type pollResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// LoginResult records how far a login got and what it produced.
type LoginResult struct {
	State       LoginState    `json:"state"`
	Flow        *DeviceFlow   `json:"flow,omitempty"`
	AccessToken *AccessToken  `json:"-"`
	Token       *CopilotToken `json:"token,omitempty"`
}
