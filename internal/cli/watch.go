package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"clipshare/pkg/client"
	"clipshare/pkg/envelope"
)

func init() {
	rootCmd.AddCommand(watchCmd, listCmd)
	watchCmd.Flags().String("download", "", "save shared files into this directory")
	listCmd.Flags().Int("limit", 0, "maximum number of items")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print items as your devices share them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, _, err := session(cmd, client.Options{})
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("download")
		out := cmd.OutOrStdout()
		err = s.Subscribe(cmd.Context(), func(ctx context.Context, it envelope.Item) error {
			printItem(out, it)
			if f, ok := it.(envelope.FileLink); ok && dir != "" {
				return download(ctx, s, f, dir)
			}
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print recent items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, _, err := session(cmd, client.Options{})
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		items, err := s.Items(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, it := range items {
			printItem(cmd.OutOrStdout(), it)
		}
		return nil
	},
}

func download(ctx context.Context, s *client.Session, f envelope.FileLink, dir string) error {
	rc, err := s.Open(ctx, f)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// the name comes from another device; keep only its last element
	dst, err := os.Create(filepath.Join(dir, filepath.Base(filepath.Clean("/"+f.Name))))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, rc); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
