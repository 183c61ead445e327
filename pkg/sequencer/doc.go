// Package sequencer serializes operations against one shared, stateful
// channel: a push connection, a websocket, an HTTP request sequence or an
// in-memory pipe.
//
// Operations run strictly in submission order and never overlap. Each
// operation's outcome goes only to the caller that submitted it; a failed or
// panicking operation does not stop the ones queued behind it.
//
// The queue is a chain of completion signals. Submit swaps the sequencer's
// tail for a fresh signal and starts a goroutine that waits on the previous
// tail, runs the operation and then closes its own signal. The tail always
// settles to "done", whatever the operation returned.
//
//	seq := sequencer.New("ws", conn)
//	fut := sequencer.Submit(seq, ctx, func(ctx context.Context, c *websocket.Conn) (struct{}, error) {
//		if err := c.WriteJSON(header); err != nil {
//			return struct{}{}, err
//		}
//		return struct{}{}, c.WriteMessage(websocket.BinaryMessage, body)
//	})
//	_, err := fut.Wait(ctx)
//
// A sequencer has three states. It is Idle when nothing is queued and Busy
// while an operation runs or waits. It becomes Closed after Close or Fail and
// stays there. A Closed sequencer rejects new work at once with
// ErrChannelUnavailable.
package sequencer
