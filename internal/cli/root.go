// Package cli is the clipshare command line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clipshare/pkg/client"
	"clipshare/pkg/state/logger"
)

var rootCmd = &cobra.Command{
	Use:   "clipshare",
	Short: "Share clipboard snippets and files between your devices",
	Long: `clipshare talks to a clipshare server: it uploads files and pasted
text, and streams whatever your other devices share.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := "warn"
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			level = "debug"
		}
		logger.Init(level)
	},
}

// Execute runs the command named on the command line.
func Execute(version, commit string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringP("credentials", "c", "", "credentials file (default is $HOME/.config/clipshare/session.yaml)")
}

// session resumes the saved login.
func session(cmd *cobra.Command, opts client.Options) (*client.Session, *Credentials, error) {
	path, err := credentialsPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	creds, err := LoadCredentials(path)
	if err != nil {
		return nil, nil, err
	}
	opts.BaseURL = creds.Server
	opts.Codec = creds.Codec
	s, err := client.Resume(opts, creds.Token, creds.User, creds.Expires)
	if err != nil {
		return nil, nil, err
	}
	return s, creds, nil
}
