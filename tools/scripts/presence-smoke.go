// Package main provides a CI-friendly presence smoke test for a running Parley server.
//
// It validates:
//   - signup of two fresh accounts over the auth API
//   - websocket handshake with the presence subprotocol
//   - both clients converge on the same two-member online set
//   - logout of the first account removes it from the second client's view
//   - the logged-out client ends anonymous with its connection closed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"parley/client"
)

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:3000", "Server base URL")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	ctx := context.Background()
	run := strings.ToLower(ulid.Make().String())

	a := mustSignup(ctx, *baseURL, "alpha", run, *timeout)
	defer a.c.Close()
	b := mustSignup(ctx, *baseURL, "bravo", run, *timeout)
	defer b.c.Close()
	logf(*verbose, "signed up %s=%s %s=%s", a.name, a.id, b.name, b.id)

	mustConverge(a, *timeout, a.id, b.id)
	mustConverge(b, *timeout, a.id, b.id)
	logf(*verbose, "both clients see %s,%s", a.id, b.id)

	stepCtx, cancel := context.WithTimeout(ctx, *timeout)
	err := a.c.Logout(stepCtx)
	cancel()
	if err != nil {
		fatalf("logout %s: %v", a.name, err)
	}

	mustConverge(b, *timeout, b.id)
	if s := a.c.Snapshot(); s.State != client.AuthAnonymous {
		fatalf("%s after logout: state=%v want=%v", a.name, s.State, client.AuthAnonymous)
	}
	if st := a.c.ConnState(); st != client.ConnIdle {
		fatalf("%s after logout: connection=%v want=%v", a.name, st, client.ConnIdle)
	}
	if got := a.c.OnlineUsers(); len(got) != 0 {
		fatalf("%s after logout: online view not cleared: %v", a.name, got)
	}

	fmt.Println("OK")
}

type smokeClient struct {
	name string
	id   string
	c    *client.Client
}

func mustSignup(ctx context.Context, baseURL, name, run string, stepTimeout time.Duration) *smokeClient {
	c, err := client.New(client.Config{BaseURL: baseURL})
	if err != nil {
		fatalf("client %s: %v", name, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	u, err := c.Signup(stepCtx, client.SignupDetails{
		FullName: "Smoke " + name,
		Email:    fmt.Sprintf("smoke-%s-%s@example.com", name, run),
		Password: "smoke-" + run,
	})
	if err != nil {
		var rl *client.RateLimitError
		if errors.As(err, &rl) {
			fatalf("signup %s: rate limited, retry after %s", name, rl.RetryAfter)
		}
		fatalf("signup %s: %v", name, err)
	}
	if u.ID == "" {
		fatalf("signup %s: response missing _id", name)
	}
	return &smokeClient{name: name, id: u.ID, c: c}
}

func mustConverge(sc *smokeClient, stepTimeout time.Duration, want ...string) {
	slices.Sort(want)
	deadline := time.Now().Add(stepTimeout)
	for {
		got := sc.c.OnlineUsers()
		if slices.Equal(got, want) {
			return
		}
		if st := sc.c.ConnState(); st == client.ConnFailed {
			fatalf("%s: connection failed while waiting for %v", sc.name, want)
		}
		if time.Now().After(deadline) {
			fatalf("%s: online=%v want=%v (connection=%v)", sc.name, got, want, sc.c.ConnState())
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func logf(verbose bool, format string, args ...any) {
	if !verbose {
		return
	}
	fmt.Printf(format+"\n", args...)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
