package lavviebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Client defaults and limits.
const (
	// DefaultBaseURL is the production PurrSong cloud.
	DefaultBaseURL = "https://api.purrsong.com"

	// DefaultTimeout bounds each individual request.
	DefaultTimeout = 8 * time.Second

	loginPath   = "/v1/auth/login"
	devicesPath = "/v1/devices"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20

	// errorSnippetLen is how much of an unexpected body is kept in errors.
	errorSnippetLen = 200
)

// Credentials identify one PurrSong account.
type Credentials struct {
	Email    string
	Password string
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// BaseURL is the cloud root. Default: DefaultBaseURL.
	BaseURL string

	// Timeout bounds every request. Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient is used when set. Otherwise each Client gets its own
	// transport, so closing a session really drops its connections.
	HTTPClient *http.Client

	// Now supplies snapshot fetch times. Default: time.Now.
	Now func() time.Time
}

// Client is one authenticated session with the PurrSong cloud.
//
// Thread Safety:
//   - Methods may be called concurrently; the token is guarded by a mutex.
//     Callers that need at most one fetch in flight must enforce it themselves.
type Client struct {
	creds         Credentials
	baseURL       string
	timeout       time.Duration
	httpClient    *http.Client
	ownsTransport bool
	now           func() time.Time

	mu     sync.Mutex
	token  string
	closed bool
}

// NewClient creates a session for the given account. No request is made
// until Login or FetchSnapshot is called.
func NewClient(creds Credentials, opts Options) *Client {
	c := &Client{
		creds:      creds,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib guarantees type
		c.httpClient = &http.Client{Transport: transport}
		c.ownsTransport = true
	}
	return c
}

// Login authenticates and caches the session token.
//
// Returns:
//   - string: The cloud's account (user) identifier
//   - error: Wraps ErrAuth, ErrRateLimit or ErrTransport
func (c *Client) Login(ctx context.Context) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	body, err := json.Marshal(loginRequest{Email: c.creds.Email, Password: c.creds.Password})
	if err != nil {
		return "", fmt.Errorf("%w: encoding login: %w", ErrTransport, err)
	}

	resp, err := c.do(ctx, http.MethodPost, loginPath, "", body)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(resp, &lr); err != nil {
		return "", fmt.Errorf("%w: parsing login response: %w", ErrTransport, err)
	}
	if lr.Token == "" {
		return "", fmt.Errorf("%w: login response missing token", ErrTransport)
	}

	c.mu.Lock()
	c.token = lr.Token
	c.mu.Unlock()

	return lr.UserID, nil
}

// FetchSnapshot retrieves every device on the account.
//
// A cached token is reused. If the cloud answers 401 to a cached token the
// token is dropped and exactly one fresh login is attempted before ErrAuth
// is returned.
//
// An empty device list is returned as an empty Snapshot, not an error;
// deciding whether that is acceptable is the caller's job.
func (c *Client) FetchSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	token, fresh, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := c.fetch(ctx, token)
	if err == nil || fresh || !errors.Is(err, ErrAuth) {
		return snap, err
	}

	// Cached token expired server-side.
	c.ClearToken()
	if token, _, err = c.ensureToken(ctx); err != nil {
		return nil, err
	}
	return c.fetch(ctx, token)
}

// ClearToken forgets the cached token so the next call logs in again.
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Close ends the session. Later calls fail with ErrSessionClosed.
// Closing twice is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.token = ""
	c.mu.Unlock()

	if c.ownsTransport {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: %w", ErrTransport, ErrSessionClosed)
	}
	return nil
}

// ensureToken returns the cached token, logging in first if there is none.
// fresh reports whether the token was obtained by this call.
func (c *Client) ensureToken(ctx context.Context) (token string, fresh bool, err error) {
	if err := c.checkOpen(); err != nil {
		return "", false, err
	}

	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	if token != "" {
		return token, false, nil
	}

	if _, err := c.Login(ctx); err != nil {
		return "", false, err
	}

	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, true, nil
}

func (c *Client) fetch(ctx context.Context, token string) (*snapshot.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, devicesPath, token, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}

	var dr devicesResponse
	if err := json.Unmarshal(resp, &dr); err != nil {
		return nil, fmt.Errorf("%w: parsing devices: %w", ErrTransport, err)
	}
	return snapshot.New(dr.toData(), c.now()), nil
}

// do performs one bounded request and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path, token string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// classifyStatus maps an HTTP status to a gateway error kind.
func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuth, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimit, code)
	default:
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > errorSnippetLen {
			snippet = snippet[:errorSnippetLen]
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrTransport, code, snippet)
	}
}
