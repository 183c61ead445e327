package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clipshare/pkg/client"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().String("server", "http://localhost:8080", "clipshare server URL")
	loginCmd.Flags().StringP("user", "u", "", "user id")
	loginCmd.Flags().String("signature", "", "user signature issued by your backend (prompted when omitted)")
	loginCmd.Flags().String("codec", "", "websocket push codec: json or msgpack")
	_ = loginCmd.MarkFlagRequired("user")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a session and save its token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		server, _ := cmd.Flags().GetString("server")
		user, _ := cmd.Flags().GetString("user")
		sig, _ := cmd.Flags().GetString("signature")
		codec, _ := cmd.Flags().GetString("codec")
		if sig == "" {
			var err error
			if sig, err = promptSignature(); err != nil {
				return err
			}
		}

		s, err := client.Login(cmd.Context(), client.Options{BaseURL: server, UserID: user, Signature: sig, Codec: codec})
		if err != nil {
			return err
		}
		path, err := credentialsPath(cmd)
		if err != nil {
			return err
		}
		creds := &Credentials{Server: server, User: s.User(), Token: s.Token(), Expires: s.Expires(), Codec: codec}
		if err := SaveCredentials(creds, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s until %s\n", s.User(), s.Expires().Local().Format("Jan 2 15:04"))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the saved session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := credentialsPath(cmd)
		if err != nil {
			return err
		}
		s, _, err := session(cmd, client.Options{})
		if err != nil {
			return err
		}
		logoutErr := s.Logout(cmd.Context())
		if err := os.Remove(path); err != nil {
			return err
		}
		return logoutErr
	},
}

// promptSignature reads the signature without echo when stdin is a
// terminal, or one line from stdin otherwise.
func promptSignature() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Signature: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read signature: %w", err)
	}
	return strings.TrimSpace(line), nil
}
