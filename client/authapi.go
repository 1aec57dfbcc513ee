package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds every auth API call.
const DefaultRequestTimeout = 10 * time.Second

// User is the public profile returned by the auth API.
type User struct {
	ID         string    `json:"_id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Credentials is the login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupDetails is the signup form.
type SignupDetails struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthAPI is the server's auth surface as seen by the session controller.
type AuthAPI interface {
	Check(ctx context.Context) (User, error)
	Login(ctx context.Context, c Credentials) (User, error)
	Signup(ctx context.Context, d SignupDetails) (User, error)
	Logout(ctx context.Context) error
}

// HTTPAuthAPI talks to /api/auth/* over HTTP. It keeps the session both as a
// bearer token and in a cookie jar.
type HTTPAuthAPI struct {
	base     *url.URL
	hc       *http.Client
	platform string

	mu    sync.RWMutex
	token string
}

// NewHTTPAuthAPI returns a client for the server at baseURL. hc may be nil;
// a client with a cookie jar and DefaultRequestTimeout is used then.
func NewHTTPAuthAPI(baseURL string, hc *http.Client) (*HTTPAuthAPI, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url must be http or https, got %q", baseURL)
	}
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Jar: jar, Timeout: DefaultRequestTimeout}
	}
	return &HTTPAuthAPI{base: u, hc: hc, platform: "cli"}, nil
}

// BaseURL returns the server base URL.
func (a *HTTPAuthAPI) BaseURL() *url.URL {
	cp := *a.base
	return &cp
}

// Jar returns the cookie jar shared with the websocket transport. May be nil.
func (a *HTTPAuthAPI) Jar() http.CookieJar { return a.hc.Jar }

// Token returns the current bearer token, or "".
func (a *HTTPAuthAPI) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// SetToken installs a token obtained elsewhere, e.g. from a saved session.
func (a *HTTPAuthAPI) SetToken(tok string) {
	a.mu.Lock()
	a.token = strings.TrimSpace(tok)
	a.mu.Unlock()
}

type authResponse struct {
	User
	Session struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"session"`
}

func (a *HTTPAuthAPI) Check(ctx context.Context) (User, error) {
	var u User
	if err := a.do(ctx, http.MethodGet, "/api/auth/check", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (a *HTTPAuthAPI) Login(ctx context.Context, c Credentials) (User, error) {
	body := struct {
		Credentials
		Platform string `json:"platform"`
	}{c, a.platform}
	return a.authenticate(ctx, "/api/auth/login", body)
}

func (a *HTTPAuthAPI) Signup(ctx context.Context, d SignupDetails) (User, error) {
	body := struct {
		SignupDetails
		Platform string `json:"platform"`
	}{d, a.platform}
	return a.authenticate(ctx, "/api/auth/signup", body)
}

// Logout revokes the session. The local token is dropped even when the call fails.
func (a *HTTPAuthAPI) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	a.SetToken("")
	return err
}

func (a *HTTPAuthAPI) authenticate(ctx context.Context, path string, body any) (User, error) {
	var out authResponse
	if err := a.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return User{}, err
	}
	a.SetToken(out.Session.Token)
	return out.User, nil
}

func (a *HTTPAuthAPI) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
		}
		rd = bytes.NewReader(b)
	}

	u := a.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := a.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), API: apiErr}
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w: %w", op, ErrUnexpected, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		e.Code = body.Error.Code
		e.Message = body.Error.Message
		if e.Message == "" {
			e.Message = body.Message
		}
	}
	if e.Message == "" && status >= 500 {
		e.Message = "Server error. Please try again later."
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ AuthAPI = (*HTTPAuthAPI)(nil)

