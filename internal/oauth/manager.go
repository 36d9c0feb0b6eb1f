package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const (
	// Google OAuth endpoints.
	AuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL = "https://oauth2.googleapis.com/token"

	DefaultUserInfoEndpoint  = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultTokenInfoEndpoint = "https://www.googleapis.com/oauth2/v1/tokeninfo"

	// DefaultCodeAssistEndpoint is the Google Cloud Code Assist API host,
	// per spec §6.
	DefaultCodeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
)

// DefaultScopes are the Google Cloud scopes requested by the external
// enrolment flow; the proxy itself never requests consent, only refreshes.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"openid",
}

type projectDetector interface {
	ListProjects(ctx context.Context, accessToken string) ([]ProjectInfo, error)
	GetUserEmail(ctx context.Context, accessToken string) (string, error)
	EnableRequiredAPIs(ctx context.Context, accessToken, projectID string) error
}

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// Manager refreshes Google OAuth tokens and talks to the Code Assist
// discovery/onboarding endpoints. The interactive authorization-code flow
// used once per account at enrolment time is an external collaborator and
// is not implemented here.
type Manager struct {
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client
	mu           sync.Mutex

	detectorFactory   func() projectDetector
	oauthEndpoint     oauth2.Endpoint
	tokenURL          string
	userInfoEndpoint  string
	tokenInfoEndpoint string
	codeAssistURL     string
	now               func() time.Time
}

// NewManager creates a new OAuth manager.
func NewManager(clientID, clientSecret string, opts ...ManagerOption) *Manager {
	m := &Manager{
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       append([]string(nil), DefaultScopes...),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		detectorFactory: func() projectDetector {
			return NewProjectDetector()
		},
		oauthEndpoint:     google.Endpoint,
		tokenURL:          TokenURL,
		userInfoEndpoint:  DefaultUserInfoEndpoint,
		tokenInfoEndpoint: DefaultTokenInfoEndpoint,
		codeAssistURL:     DefaultCodeAssistEndpoint,
		now:               time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithProjectDetectorFactory overrides the project detector factory.
func WithProjectDetectorFactory(factory func() projectDetector) ManagerOption {
	return func(m *Manager) {
		if factory != nil {
			m.detectorFactory = factory
		}
	}
}

// WithTokenURL overrides the token refresh endpoint.
func WithTokenURL(tokenURL string) ManagerOption {
	return func(m *Manager) {
		if tokenURL != "" {
			m.tokenURL = tokenURL
		}
	}
}

// WithCodeAssistURL overrides the Code Assist API host (tests).
func WithCodeAssistURL(endpoint string) ManagerOption {
	return func(m *Manager) {
		if endpoint != "" {
			m.codeAssistURL = endpoint
		}
	}
}

// WithNowFunc overrides the clock used for time calculations (testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func (m *Manager) clientCredentialsFor(creds *Credentials) (clientID, clientSecret string, err error) {
	clientID, clientSecret = creds.ClientID, creds.ClientSecret
	if clientID == "" {
		clientID = m.clientID
	}
	if clientSecret == "" {
		clientSecret = m.clientSecret
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return "", "", fmt.Errorf("oauth client credentials not configured")
	}
	return clientID, clientSecret, nil
}

// RefreshToken exchanges creds' refresh token for a new access token,
// mutating creds in place. Per spec §4.2, the caller is expected to hold
// the pool's lease mutex across this call so two concurrent leases of the
// same expired account never race two refreshes. The client id/secret
// come from the account file itself, falling back to the manager's
// defaults only when the account omits them.
func (m *Manager) RefreshToken(ctx context.Context, creds *Credentials) error {
	if creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	clientID, clientSecret, err := m.clientCredentialsFor(creds)
	if err != nil {
		return err
	}

	data := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	tokenURL := creds.TokenURI
	if tokenURL == "" {
		tokenURL = m.tokenURL
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(body), "invalid_grant") {
			return &NonRetryableError{Err: fmt.Errorf("token refresh rejected: %s", string(body))}
		}
		return fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	creds.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		creds.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.ExpiresIn > 0 {
		creds.ExpiresAt = m.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	log.WithField("project_id", creds.ProjectID).Debug("oauth token refreshed")
	return nil
}

// NonRetryableError wraps a refresh failure that should permanently mark
// the account dead (invalid_grant), per spec §4.2.
type NonRetryableError struct{ Err error }

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// LoadCodeAssistResponse is the subset of the loadCodeAssist response the
// proxy needs: the current tier (if any) and the cloud project id.
type LoadCodeAssistResponse struct {
	CloudaicompanionProject string `json:"cloudaicompanionProject"`
	CurrentTier             *struct {
		ID string `json:"id"`
	} `json:"currentTier"`
}

// LoadCodeAssist calls loadCodeAssist to discover the account's project id
// and onboarding tier, per spec §4.2/§6.
func (m *Manager) LoadCodeAssist(ctx context.Context, accessToken string, metadata map[string]any) (*LoadCodeAssistResponse, error) {
	var out LoadCodeAssistResponse
	if err := m.postCodeAssist(ctx, accessToken, "loadCodeAssist", map[string]any{"metadata": metadata}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// onboardUserResponse mirrors the long-running-operation shape onboardUser
// returns while tier provisioning is still in progress.
type onboardUserResponse struct {
	Done     bool `json:"done"`
	Response *struct {
		CloudaicompanionProject struct {
			ID string `json:"id"`
		} `json:"cloudaicompanionProject"`
	} `json:"response"`
}

// OnboardUser polls onboardUser until done=true or the context is done,
// returning the discovered project id. Per spec §4.2, callers poll up to
// 120s at 2s intervals; the caller supplies that bound via ctx.
func (m *Manager) OnboardUser(ctx context.Context, accessToken, tierID string, metadata map[string]any, pollInterval time.Duration) (string, error) {
	payload := map[string]any{
		"tierId":   tierID,
		"metadata": metadata,
	}

	// rate.Limiter paces the poll loop at one request per pollInterval,
	// allowing the first poll through immediately (burst of 1).
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}

		var out onboardUserResponse
		if err := m.postCodeAssist(ctx, accessToken, "onboardUser", payload, &out); err != nil {
			return "", err
		}
		if out.Done {
			if out.Response == nil || out.Response.CloudaicompanionProject.ID == "" {
				return "", fmt.Errorf("onboardUser completed without a project id")
			}
			return out.Response.CloudaicompanionProject.ID, nil
		}
	}
}

func (m *Manager) postCodeAssist(ctx context.Context, accessToken, action string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", action, err)
	}

	endpoint := strings.TrimRight(m.codeAssistURL, "/") + "/v1internal:" + action
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", "gemini-oauth-proxy/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d: %s", action, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

// GetUserProjects lists projects accessible by the given access token.
func (m *Manager) GetUserProjects(ctx context.Context, accessToken string) ([]ProjectInfo, error) {
	return m.detectorFactory().ListProjects(ctx, accessToken)
}

// GetUserEmail retrieves the user's email using the access token.
func (m *Manager) GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	return m.detectorFactory().GetUserEmail(ctx, accessToken)
}

// EnableAPIs enables required Google APIs for a project.
func (m *Manager) EnableAPIs(ctx context.Context, accessToken, projectID string) error {
	return m.detectorFactory().EnableRequiredAPIs(ctx, accessToken, projectID)
}

// GetUserProfile retrieves detailed user profile information.
func (m *Manager) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", m.userInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get user profile: %d %s", resp.StatusCode, string(body))
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}

	return &profile, nil
}

// ValidateToken checks if an access token is still valid.
func (m *Manager) ValidateToken(ctx context.Context, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, fmt.Errorf("access token is required")
	}

	u, err := url.Parse(m.tokenInfoEndpoint)
	if err != nil {
		return false, fmt.Errorf("failed to parse token info endpoint: %w", err)
	}
	query := u.Query()
	query.Set("access_token", accessToken)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
