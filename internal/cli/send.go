package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clipshare/pkg/client"
	"clipshare/pkg/envelope"
	"clipshare/pkg/sequencer"
)

func init() {
	rootCmd.AddCommand(sendCmd, pasteCmd)
	sendCmd.Flags().Bool("ws", false, "send every file over one websocket, in order")
}

var sendCmd = &cobra.Command{
	Use:   "send FILE...",
	Short: "Upload files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := session(cmd, client.Options{})
		if err != nil {
			return err
		}
		if ws, _ := cmd.Flags().GetBool("ws"); ws {
			return sendWS(cmd.Context(), s, args, cmd.OutOrStdout())
		}
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			it, err := s.UploadFile(cmd.Context(), filepath.Base(path), fileType(path), f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			printItem(cmd.OutOrStdout(), it)
		}
		return nil
	},
}

// wsSender is the part of a session sendWS drives.
type wsSender interface {
	Send(ctx context.Context, name, typ string, body []byte) *sequencer.Future[struct{}]
	Close(ctx context.Context) error
}

// sendWS reads every file first, then queues them all on the session's
// websocket before waiting, so the server stores them in argument order.
// The socket is always drained and closed before returning.
func sendWS(ctx context.Context, s wsSender, paths []string, out io.Writer) error {
	bodies := make([][]byte, 0, len(paths))
	for _, path := range paths {
		body, err := os.ReadFile(path)
		if err != nil {
			return errors.Join(err, s.Close(ctx))
		}
		bodies = append(bodies, body)
	}

	futures := make([]*sequencer.Future[struct{}], 0, len(paths))
	for i, path := range paths {
		futures = append(futures, s.Send(ctx, filepath.Base(path), fileType(path), bodies[i]))
	}
	var errs []error
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", paths[i], err))
			continue
		}
		fmt.Fprintf(out, "sent %s\n", filepath.Base(paths[i]))
	}
	errs = append(errs, s.Close(ctx))
	return errors.Join(errs...)
}

var pasteCmd = &cobra.Command{
	Use:   "paste [TEXT]",
	Short: "Share text, from the argument or piped on stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text string
		switch {
		case len(args) == 1:
			text = args[0]
		case term.IsTerminal(int(os.Stdin.Fd())):
			return errors.New("nothing to paste: pass TEXT or pipe it on stdin")
		default:
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(b)
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("nothing to paste")
		}
		s, _, err := session(cmd, client.Options{})
		if err != nil {
			return err
		}
		it, err := s.UploadClipboard(cmd.Context(), text)
		if err != nil {
			return err
		}
		printItem(cmd.OutOrStdout(), it)
		return nil
	},
}

func fileType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func printItem(w io.Writer, it envelope.Item) {
	when := humanize.Time(it.CreatedAt())
	switch v := it.(type) {
	case envelope.Clipboard:
		fmt.Fprintf(w, "[%s] clipboard (%s): %s\n", v.ID, when, v.Body)
	case envelope.FileLink:
		fmt.Fprintf(w, "[%s] file %s, %s, %s (%s)\n", v.ID, v.Name, v.Type, humanize.IBytes(uint64(v.Size)), when)
	}
}
