// Package app wires the Parley server runtime: config, logging, stores, HTTP
// routes and the presence gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/presence"
	"parley/cmd/security/password"
)

// App is the Parley server runtime.
type App struct {
	cfg Config
	log Logger

	stores stores

	promReg *prometheus.Registry
	nc      *nats.Conn

	registry *presence.Registry
	gateway  *presence.Gateway
	auth     *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, st stores) (*App, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ensureSigningKey(cfg, &sessCfg, log); err != nil {
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(sessCfg, st.sessions, tokens)

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	users := identity.NewService(st.users, identity.NewHasher(pwCfg), log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := presence.NewMetrics(promReg)
	reg := presence.NewRegistry(log, metrics)
	reg.AddObserver(metrics)

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = presence.DialNATS(cfg.NATSURL, "parley", log)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		reg.AddObserver(presence.NewNATSPublisher(nc, cfg.NATSSubject, log))
		log.Info("nats.enabled", "subject", cfg.NATSSubject)
	}

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), users, sessions, authapi.WithSessionHooks(reg))
	if err != nil {
		reg.Close()
		if nc != nil {
			nc.Close()
		}
		return nil, err
	}

	gw := presence.NewGateway(log, reg, auth.Guard(), metrics, presence.GatewayConfigFromEnv())

	return &App{
		cfg:      cfg,
		log:      log,
		stores:   st,
		promReg:  promReg,
		nc:       nc,
		registry: reg,
		gateway:  gw,
		auth:     auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.stores.dbEnabled(),
		"nats_enabled", a.nc != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked websocket connections are invisible to srv.Shutdown.
	a.gateway.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	a.registry.Close()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("nats.drain.fail", "err", err)
		}
	}
	a.stores.Close()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
