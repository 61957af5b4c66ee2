package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copilot-import/copilot-import/internal/config"
	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/logging"
	"github.com/copilot-import/copilot-import/internal/metrics"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	GrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// IssuesURL is printed next to unexpected responses.
	IssuesURL = "https://github.com/copilot-import/copilot-import/issues"

	defaultInterval = 5 * time.Second
	slowDownStep    = 5 * time.Second
)

// CopilotAuth runs the GitHub device-code login and the Copilot credential exchange.
type CopilotAuth struct {
	httpClient *http.Client
	cfg        config.AuthConfig
	tokenEnv   string
	console    *logging.Console
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	openURL    func(url string) error
}

// Option customizes a CopilotAuth.
type Option func(*CopilotAuth)

// WithConsole sends operator output to c instead of stdout.
func WithConsole(c *logging.Console) Option {
	return func(ca *CopilotAuth) { ca.console = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(ca *CopilotAuth) { ca.now = now }
}

// WithSleep replaces the polling sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(ca *CopilotAuth) { ca.sleep = sleep }
}

// WithBrowser replaces the browser launcher.
func WithBrowser(open func(url string) error) Option {
	return func(ca *CopilotAuth) { ca.openURL = open }
}

// NewCopilotAuth creates a new CopilotAuth instance.
func NewCopilotAuth(cfg *config.Config, opts ...Option) *CopilotAuth {
	ca := &CopilotAuth{
		httpClient: cfg.HTTPClient(),
		cfg:        cfg.Auth,
		tokenEnv:   cfg.TokenEnv,
		console:    logging.Stdout(),
		now:        time.Now,
		sleep:      sleepContext,
		openURL:    browser.OpenURL,
	}
	if ca.tokenEnv == "" {
		ca.tokenEnv = config.DefaultTokenEnv
	}
	if cfg.Auth.NoBrowser {
		ca.openURL = nil
	}
	for _, opt := range opts {
		opt(ca)
	}
	return ca
}

// Login runs every step and prints the outcome. A login that expires or an account
// without Copilot access is reported through the result state, not as an error.
func (ca *CopilotAuth) Login(ctx context.Context) (res *LoginResult, err error) {
	res = &LoginResult{State: StateInit}
	defer func() { metrics.RecordLogin(string(res.State)) }()

	ca.console.Println("Initializing a login session...")
	flow, err := ca.InitiateDeviceFlow(ctx)
	if err != nil {
		res.State = StateError
		return res, err
	}
	res.Flow = flow
	res.State = StateAwaitingAuthorization

	ca.console.Printf("YOUR DEVICE AUTHORIZATION CODE IS: %s", ca.console.Highlight(flow.UserCode))
	ca.console.Printf("Input the code to %s in order to authenticate.\n", flow.VerificationURI)
	ca.openBrowser(flow.VerificationURI)

	res.State = StatePolling
	accessToken, state, err := ca.PollForToken(ctx, flow)
	res.State = state
	if err != nil {
		return res, err
	}
	if accessToken == nil {
		ca.console.Println("Failed to log in")
		return res, nil
	}
	res.AccessToken = accessToken

	res.State = StateCredentialExchange
	token, err := ca.ExchangeCopilotToken(ctx, accessToken)
	if err != nil {
		res.State = StateError
		return res, err
	}
	if token == nil {
		res.State = StateNoAccess
		ca.console.Println("Failed to fetch copilot token")
		return res, nil
	}
	res.Token = token
	res.State = StateSuccess

	ca.console.Printf("Successfully obtained copilot token!\n")
	ca.console.Printf("YOUR TOKEN: %s", ca.console.Highlight(token.Token))
	ca.console.Printf("EXPIRES AT: %s\n", token.Expiry().Format(time.RFC3339))
	ca.console.Println("You can add the token to your environment e.g. with")
	ca.console.Printf("export %s=%s", ca.tokenEnv, token.Token)
	return res, nil
}

// InitiateDeviceFlow starts the OAuth 2.0 device authorization flow.
func (ca *CopilotAuth) InitiateDeviceFlow(ctx context.Context) (*DeviceFlow, error) {
	status, body, err := ca.send(ctx, http.MethodPost, ca.cfg.DeviceCodeURL, map[string]string{
		"client_id": ca.cfg.ClientID,
		"scope":     ca.cfg.Scope,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		ca.unhandled(status, body)
		return nil, apperrors.HTTP("device authorization failed", status, body)
	}

	var flow DeviceFlow
	if err := json.Unmarshal(body, &flow); err != nil || flow.DeviceCode == "" {
		ca.unhandled(status, body)
		return nil, apperrors.HTTP("device authorization returned no device code", status, body)
	}
	return &flow, nil
}

// PollForToken waits for the user to authorize flow. It returns StateTokenObtained with
// the token, StateExpired with neither token nor error once the session expires, or
// StateError with the failure.
func (ca *CopilotAuth) PollForToken(ctx context.Context, flow *DeviceFlow) (*AccessToken, LoginState, error) {
	interval := time.Duration(flow.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	expiry := ca.now().Add(time.Duration(flow.ExpiresIn) * time.Second)
	ca.console.Printf("Polling for login session status until %s", expiry.Format(time.RFC3339))

	payload := map[string]string{
		"client_id":   ca.cfg.ClientID,
		"device_code": flow.DeviceCode,
		"grant_type":  GrantType,
	}
	for {
		if err := ca.sleep(ctx, interval); err != nil {
			return nil, StateError, err
		}

		status, body, err := ca.send(ctx, http.MethodPost, ca.cfg.TokenURL, payload, nil)
		if err != nil {
			return nil, StateError, fmt.Errorf("token polling request failed: %w", err)
		}
		var resp pollResponse
		if status < 200 || status >= 300 || json.Unmarshal(body, &resp) != nil {
			ca.unhandled(status, body)
			return nil, StateError, apperrors.HTTP("token polling failed", status, body)
		}

		switch {
		case resp.Error != "":
			ca.console.Printf("Polling for login session status: %s", resp.Error)
			if resp.Error == "slow_down" {
				interval += slowDownStep
			}
		case resp.AccessToken == "":
			ca.unhandled(status, body)
			return nil, StateError, apperrors.HTTP("token polling returned neither a token nor an error", status, body)
		default:
			return &AccessToken{
				AccessToken: resp.AccessToken,
				TokenType:   resp.TokenType,
				Scope:       resp.Scope,
			}, StateTokenObtained, nil
		}

		if !ca.now().Before(expiry) {
			return nil, StateExpired, nil
		}
	}
}

// ExchangeCopilotToken trades an access token for a completion credential. Any
// non-200 status means the account has no access: hints are printed and nil is
// returned without an error.
func (ca *CopilotAuth) ExchangeCopilotToken(ctx context.Context, token *AccessToken) (*CopilotToken, error) {
	status, body, err := ca.send(ctx, http.MethodGet, ca.cfg.CopilotTokenURL, nil, token.OAuth2())
	if err != nil {
		return nil, fmt.Errorf("copilot token request failed: %w", err)
	}
	if status != http.StatusOK {
		ca.console.Println("It looks like you don't have access to Copilot, or we've hit some other error.")
		ca.console.Printf("Normally an account that has no access to Copilot will see a 404 error.\n")
		ca.logFailure(status, body)
		return nil, nil
	}

	var ct CopilotToken
	if err := json.Unmarshal(body, &ct); err != nil {
		return nil, fmt.Errorf("failed to parse copilot token response: %w", err)
	}
	return &ct, nil
}

func (ca *CopilotAuth) openBrowser(url string) {
	if ca.openURL == nil {
		return
	}
	if err := ca.openURL(url); err != nil {
		log.Debugf("open browser: %v", err)
		ca.console.Println("Failed to open a browser")
	}
}

func (ca *CopilotAuth) send(ctx context.Context, method, url string, payload any, cred *oauth2.Token) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cred != nil {
		cred.SetAuthHeader(req)
	}

	resp, err := ca.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("copilot auth: close response body error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (ca *CopilotAuth) unhandled(status int, body []byte) {
	ca.console.Println("Unhandled error occurred")
	ca.logFailure(status, body)
}

func (ca *CopilotAuth) logFailure(status int, body []byte) {
	ca.console.Printf("Response status code: %d", status)
	ca.console.Printf("Response content:\n\n%s\n", string(body))
	ca.console.Printf("If you believe this is a bug, open an issue at %s", IssuesURL)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
