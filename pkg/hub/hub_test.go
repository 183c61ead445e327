package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clipshare/pkg/envelope"
)

type recordSink struct {
	mu      sync.Mutex
	ids     []string
	active  atomic.Int32
	overlap atomic.Bool
	failOn  string
	block   chan struct{}
	closed  bool
}

func (r *recordSink) Send(ctx context.Context, it envelope.Item) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	if r.block != nil {
		<-r.block
	}
	// two halves of a frame; a concurrent writer would land between them
	time.Sleep(50 * time.Microsecond)
	if it.ItemID() == r.failOn {
		return errors.New("broken pipe")
	}
	r.mu.Lock()
	r.ids = append(r.ids, it.ItemID())
	r.mu.Unlock()
	return nil
}

func (r *recordSink) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordSink) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestPublishReachesEveryConnectionOfUser(t *testing.T) {
	h := New(Options{})
	a, b, other := &recordSink{}, &recordSink{}, &recordSink{}
	subA, err := h.Subscribe("alice", a, nil)
	require.NoError(t, err)
	subB, err := h.Subscribe("alice", b, nil)
	require.NoError(t, err)
	subO, err := h.Subscribe("bob", other, nil)
	require.NoError(t, err)
	require.Equal(t, 2, h.Count("alice"))

	require.Equal(t, 2, h.Publish("alice", envelope.Clipboard{ID: "1"}))

	ctx := context.Background()
	require.NoError(t, h.Unsubscribe(ctx, subA))
	require.NoError(t, h.Unsubscribe(ctx, subB))
	require.NoError(t, h.Unsubscribe(ctx, subO))

	require.Equal(t, []string{"1"}, a.got())
	require.Equal(t, []string{"1"}, b.got())
	require.Empty(t, other.got())
	require.Equal(t, 0, h.Count("alice"))
}

func TestConcurrentPublishersNeverInterleave(t *testing.T) {
	h := New(Options{MaxPending: 10000})
	sink := &recordSink{}
	sub, err := h.Subscribe("alice", sink, nil)
	require.NoError(t, err)

	const publishers = 8
	const each = 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				h.Publish("alice", envelope.Clipboard{ID: fmt.Sprintf("%d-%03d", p, i)})
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, h.Unsubscribe(context.Background(), sub))

	got := sink.got()
	require.Len(t, got, publishers*each)
	require.False(t, sink.overlap.Load(), "two writes overlapped on one connection")

	// each publisher's items arrive in the order it published them
	last := map[byte]string{}
	for _, id := range got {
		p := id[0]
		require.Less(t, last[p], id)
		last[p] = id
	}
}

func TestGreetRunsBeforeLiveItems(t *testing.T) {
	h := New(Options{})
	sink := &recordSink{}
	release := make(chan struct{})

	sub, err := h.Subscribe("alice", sink, func(ctx context.Context, s Sink) error {
		<-release
		return s.Send(ctx, envelope.Clipboard{ID: "history"})
	})
	require.NoError(t, err)

	h.Publish("alice", envelope.Clipboard{ID: "live"})
	close(release)

	require.NoError(t, h.Unsubscribe(context.Background(), sub))
	require.Equal(t, []string{"history", "live"}, sink.got())
}

func TestStalledGreetDropsSubscriber(t *testing.T) {
	h := New(Options{WriteTimeout: 50 * time.Millisecond})
	sink := &recordSink{}

	var hadDeadline atomic.Bool
	sub, err := h.Subscribe("alice", sink, func(ctx context.Context, s Sink) error {
		// a peer that stopped reading: the write only ends with its deadline
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stalled greet kept the subscriber")
	}
	require.True(t, hadDeadline.Load())
	require.ErrorIs(t, sub.Err(), context.DeadlineExceeded)
	require.Zero(t, h.Count("alice"))
}

func TestFailedWriteDropsSubscriber(t *testing.T) {
	h := New(Options{})
	sink := &recordSink{failOn: "bad"}
	sub, err := h.Subscribe("alice", sink, nil)
	require.NoError(t, err)

	h.Publish("alice", envelope.Clipboard{ID: "bad"})

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscriber not removed after failed write")
	}
	require.EqualError(t, sub.Err(), "broken pipe")
	require.Equal(t, 0, h.Count("alice"))
	require.Equal(t, 0, h.Publish("alice", envelope.Clipboard{ID: "next"}))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := New(Options{MaxPending: 2})
	sink := &recordSink{block: make(chan struct{})}
	sub, err := h.Subscribe("alice", sink, nil)
	require.NoError(t, err)

	h.Publish("alice", envelope.Clipboard{ID: "1"})
	h.Publish("alice", envelope.Clipboard{ID: "2"})
	h.Publish("alice", envelope.Clipboard{ID: "3"})

	<-sub.Done()
	require.ErrorIs(t, sub.Err(), ErrSlowConsumer)
	close(sink.block)
}

func TestClosedHubRejectsSubscribers(t *testing.T) {
	h := New(Options{})
	sub, err := h.Subscribe("alice", &recordSink{}, nil)
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background()))
	<-sub.Done()
	require.NoError(t, sub.Err())

	_, err = h.Subscribe("alice", &recordSink{}, nil)
	require.ErrorIs(t, err, ErrHubClosed)
}
