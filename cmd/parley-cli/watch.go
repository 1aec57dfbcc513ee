package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parley/client"
	v1 "parley/shared/contracts/presence/v1"
)

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay online and print the online set as it changes",
		Long: `Connects with the saved session and prints every change to the set
of online users until interrupted. The session is re-checked periodically;
the command exits when it ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ended := make(chan string, 1)
			endWith := func(reason string) {
				select {
				case ended <- reason:
				default:
				}
			}

			l := client.ListenerFuncs{
				Connected: func(e client.ConnectedEvent) {
					success("Online as %s (connection %s)", e.Identity, e.ConnectionID)
				},
				OnlineSetChanged: func(e client.OnlineSetChangedEvent) {
					info("[%s] online (%d): %s", time.Now().Format(time.TimeOnly), len(e.Identities), strings.Join(e.Identities, ", "))
				},
				Disconnected: func(e client.DisconnectedEvent) {
					switch {
					case !e.Terminal:
						warn("Connection lost (%s), reconnect attempt %d", describeClose(e), e.Attempt)
					case e.Code == v1.CloseSessionReplaced:
						endWith("Signed in from another connection")
					case e.Code == v1.CloseLoggedOut:
						endWith("Logged out")
					case e.Attempt > 0:
						endWith("Could not reconnect")
					}
				},
				AuthState: func(s client.Snapshot) {
					if s.State == client.AuthAnonymous {
						endWith("Session ended")
					}
				},
			}

			c, err := newClient(l)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := checkOnce(ctx, c); err != nil {
				return err
			}
			if c.Snapshot().State != client.AuthAuthenticated {
				return errors.New("not signed in; run parley-cli login first")
			}

			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case reason := <-ended:
					warn("%s", reason)
					return nil
				case <-t.C:
					_ = checkOnce(ctx, c)
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "check-interval", 30*time.Second, "How often to re-check the session")

	return cmd
}

func checkOnce(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	err := c.CheckAuth(ctx)
	if errors.Is(err, client.ErrTimeout) {
		return fmt.Errorf("server did not answer in time: %w", err)
	}
	return nil
}

func describeClose(e client.DisconnectedEvent) string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Code != 0 {
		return fmt.Sprintf("code %d", e.Code)
	}
	return "network error"
}
