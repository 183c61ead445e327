package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Credentials is what login leaves behind for the other commands.
type Credentials struct {
	Server  string    `yaml:"server"`
	User    string    `yaml:"user"`
	Token   string    `yaml:"token"`
	Expires time.Time `yaml:"expires"`
	Codec   string    `yaml:"codec,omitempty"`
}

var errNotLoggedIn = errors.New("not logged in, run `clipshare login` first")

func credentialsPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("credentials"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "clipshare", "session.yaml"), nil
}

func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if c.Token == "" || c.Server == "" {
		return nil, errNotLoggedIn
	}
	if !c.Expires.IsZero() && time.Now().After(c.Expires) {
		return nil, fmt.Errorf("session expired at %s, log in again", c.Expires.Format(time.RFC3339))
	}
	return &c, nil
}

func SaveCredentials(c *Credentials, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
