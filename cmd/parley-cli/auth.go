package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"parley/client"
)

const requestTimeout = 15 * time.Second

func signupCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and save its session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			u, err := c.Signup(ctx, client.SignupDetails{FullName: name, Email: email, Password: pw})
			if err != nil {
				return authFailure(err, "Signup failed. Please try again.")
			}
			if err := saveToken(sessionFile, c.Token()); err != nil {
				return err
			}
			success("Account created successfully!")
			printUser(u)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when empty)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			u, err := c.Login(ctx, client.Credentials{Email: email, Password: pw})
			if err != nil {
				return authFailure(err, "Login failed. Please try again.")
			}
			if err := saveToken(sessionFile, c.Token()); err != nil {
				return err
			}
			success("Logged in successfully")
			printUser(u)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show whether the saved session is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			err = c.CheckAuth(ctx)
			s := c.Snapshot()
			switch {
			case s.State == client.AuthAuthenticated:
				success("Signed in")
				printUser(*s.User)
				return nil
			case errors.Is(err, client.ErrRateLimited):
				warn("Too many requests. Next check allowed at %s", s.NextCheckAt.Format(time.Kitchen))
				return nil
			case errors.Is(err, client.ErrTimeout):
				return fmt.Errorf("server did not answer in time: %w", err)
			default:
				warn("Not signed in")
				return nil
			}
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			logoutErr := c.Logout(ctx)
			if err := removeToken(sessionFile); err != nil {
				return err
			}
			if logoutErr != nil {
				errorMsg("Error logging out")
				return logoutErr
			}
			success("Logged out successfully")
			return nil
		},
	}
}

func authFailure(err error, fallback string) error {
	msg := client.ServerMessage(err)
	if msg == "" {
		msg = fallback
	}
	errorMsg("%s", msg)
	return err
}

func printUser(u client.User) {
	info("id:    %s", u.ID)
	info("name:  %s", u.FullName)
	info("email: %s", u.Email)
}
