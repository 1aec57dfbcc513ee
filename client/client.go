// Package client is the Go client for a Parley server: session checks,
// login and logout over the auth API, and the presence connection that
// follows the session.
//
// A Client holds no global state. Create one per account.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Config configures a Client. Only BaseURL is required.
type Config struct {
	// BaseURL is the server's http(s) origin, e.g. http://127.0.0.1:3000.
	BaseURL string

	// WebsocketURL overrides the default BaseURL + "/ws".
	WebsocketURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Listener   Listener

	Reconnect      ReconnectPolicy
	DialTimeout    time.Duration
	RequestTimeout time.Duration

	MinCheckInterval  time.Duration
	RateLimitCooldown time.Duration
}

// Client drives an auth session and its presence connection.
type Client struct {
	api     *HTTPAuthAPI
	conn    *ConnectionManager
	session *SessionController
	timeout time.Duration
}

// New builds a Client from cfg. Nothing is sent until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	api, err := NewHTTPAuthAPI(cfg.BaseURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}

	wsURL := cfg.WebsocketURL
	if wsURL == "" {
		wsURL = WebsocketURL(api.BaseURL())
	}
	dialer := &WSDialer{URL: wsURL, Token: api.Token, Jar: api.Jar()}

	c := &Client{api: api, timeout: cfg.RequestTimeout}
	c.conn = NewConnectionManager(dialer, ConnectionOptions{
		Policy:            cfg.Reconnect,
		DialTimeout:       cfg.DialTimeout,
		Listener:          cfg.Listener,
		Logger:            cfg.Logger,
		OnUnauthenticated: func() { c.session.SessionInvalidated() },
		OnSessionEnded: func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			_ = c.session.Revalidate(ctx)
		},
	})
	c.session = NewSessionController(api, c.conn, SessionOptions{
		MinCheckInterval:  cfg.MinCheckInterval,
		RateLimitCooldown: cfg.RateLimitCooldown,
		Listener:          cfg.Listener,
		Logger:            cfg.Logger,
	})
	return c, nil
}

func (c *Client) CheckAuth(ctx context.Context) error { return c.session.CheckAuth(ctx) }

func (c *Client) Login(ctx context.Context, creds Credentials) (User, error) {
	return c.session.Login(ctx, creds)
}

func (c *Client) Signup(ctx context.Context, d SignupDetails) (User, error) {
	return c.session.Signup(ctx, d)
}

func (c *Client) Logout(ctx context.Context) error { return c.session.Logout(ctx) }

func (c *Client) Snapshot() Snapshot { return c.session.Snapshot() }

// OnlineUsers returns the latest online set, sorted.
func (c *Client) OnlineUsers() []string { return c.conn.Online() }

func (c *Client) ConnState() ConnState { return c.conn.State() }

// Sync asks the server to resend the online set.
func (c *Client) Sync(ctx context.Context) error { return c.conn.Sync(ctx) }

// SetToken installs a previously issued session token.
func (c *Client) SetToken(tok string) { c.api.SetToken(tok) }

// Token returns the current session token.
func (c *Client) Token() string { return c.api.Token() }

// Close drops the presence connection. The server session is left intact.
func (c *Client) Close() {
	c.conn.Disconnect()
}
