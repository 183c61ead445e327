package frontend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"clipshare/pkg/envelope"
)

func writtenIDs(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	er := envelope.NewEventReader(bytes.NewReader(buf.Bytes()))
	var ids []string
	for {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			return ids
		}
		require.NoError(t, err)
		it, err := envelope.Decode(ev.Data)
		require.NoError(t, err)
		ids = append(ids, it.ItemID())
	}
}

func TestSSESinkWritesItemsPublishedOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	sink := &sseSink{w: bufio.NewWriter(&buf)}
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, envelope.Clipboard{ID: "0000000000000002", Body: "b"}))
	require.NoError(t, sink.Send(ctx, envelope.Clipboard{ID: "0000000000000001", Body: "a"}))
	require.Equal(t, []string{"0000000000000002", "0000000000000001"}, writtenIDs(t, &buf))
}

func TestSSESinkSkipsLiveCopyOfHistory(t *testing.T) {
	var buf bytes.Buffer
	sink := &sseSink{w: bufio.NewWriter(&buf)}
	ctx := context.Background()

	require.NoError(t, sink.sendHistory(ctx, envelope.Clipboard{ID: "0000000000000005"}))
	require.NoError(t, sink.Send(ctx, envelope.Clipboard{ID: "0000000000000005"}))
	// older than the history but never written: still delivered
	require.NoError(t, sink.Send(ctx, envelope.Clipboard{ID: "0000000000000004"}))
	require.NoError(t, sink.Send(ctx, envelope.Clipboard{ID: "0000000000000006"}))
	require.Equal(t, []string{"0000000000000005", "0000000000000004", "0000000000000006"}, writtenIDs(t, &buf))
}

func TestSSESinkRejectsWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	sink := &sseSink{w: bufio.NewWriter(&buf)}
	require.NoError(t, sink.Close())
	require.ErrorIs(t, sink.Send(context.Background(), envelope.Clipboard{ID: "0000000000000001"}), errStreamClosed)
}
