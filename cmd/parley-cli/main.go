package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	serverURL   string
	sessionFile string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley-cli",
		Short: "Command-line client for a Parley server",
		Long: `parley-cli signs in to a Parley server and follows who is online.

The session token is saved to a file so later commands reuse it.

Examples:
  parley-cli signup --name "Ada Lovelace" --email ada@example.com
  parley-cli login --email ada@example.com
  parley-cli watch
  parley-cli logout`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PARLEY_URL", "http://127.0.0.1:3000"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session-file", defaultSessionFile(), "Where the session token is stored")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log client internals to stderr")

	rootCmd.AddCommand(
		signupCmd(),
		loginCmd(),
		checkCmd(),
		logoutCmd(),
		watchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
