// Package hub fans items out to every live push connection of a user.
//
// Each subscriber wraps its connection in a sequencer, so writes from
// concurrent publishers reach one connection whole and in publish order.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"clipshare/pkg/envelope"
	"clipshare/pkg/sequencer"
	"clipshare/pkg/state/logger"
)

var (
	ErrSlowConsumer = errors.New("hub: subscriber fell too far behind")
	ErrHubClosed    = errors.New("hub: closed")
)

// Sink is the write side of one push connection.
type Sink interface {
	Send(ctx context.Context, it envelope.Item) error
	Close() error
}

// Options tune delivery. Zero values pick defaults.
type Options struct {
	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration
	// MaxPending is how many writes may queue on one subscriber before it
	// is dropped.
	MaxPending int
}

const (
	defaultWriteTimeout = 10 * time.Second
	defaultMaxPending   = 256
)

type Hub struct {
	opts Options

	mu     sync.RWMutex
	users  map[string]map[uint64]*Subscriber
	closed bool

	nextID atomic.Uint64
}

func New(opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = defaultMaxPending
	}
	return &Hub{opts: opts, users: make(map[string]map[uint64]*Subscriber)}
}

// Subscriber is one registered connection.
type Subscriber struct {
	ID   uint64
	User string

	hub  *Hub
	sink Sink
	seq  *sequencer.Sequencer[Sink]

	once sync.Once
	done chan struct{}
	err  error
}

// Done is closed when the subscriber leaves the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err is why the subscriber left: nil for Unsubscribe, otherwise the write
// failure that removed it.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Send queues a write behind everything already queued for this connection.
func (s *Subscriber) Send(ctx context.Context, it envelope.Item) *sequencer.Future[struct{}] {
	return sequencer.SubmitTimeout(s.seq, ctx, s.hub.opts.WriteTimeout, s.write(it))
}

// Do queues an arbitrary operation on the connection, such as a keep-alive.
func (s *Subscriber) Do(ctx context.Context, op func(ctx context.Context, sink Sink) error) error {
	return s.seq.Do(ctx, func(ctx context.Context, sink Sink) error {
		if err := op(ctx, sink); err != nil {
			s.hub.drop(s, err)
			return err
		}
		return nil
	})
}

func (s *Subscriber) write(it envelope.Item) sequencer.Operation[Sink, struct{}] {
	return func(ctx context.Context, sink Sink) (struct{}, error) {
		if err := sink.Send(ctx, it); err != nil {
			s.hub.drop(s, err)
			return struct{}{}, err
		}
		itemsDelivered.Inc()
		return struct{}{}, nil
	}
}

// Subscribe registers sink for user. greet, when non-nil, is the first
// operation run on the connection; anything published after Subscribe
// returns is written after it. greet shares one write timeout, and a greet
// that fails or overruns it drops the subscriber.
func (h *Hub) Subscribe(user string, sink Sink, greet func(ctx context.Context, sink Sink) error) (*Subscriber, error) {
	sub := &Subscriber{
		ID:   h.nextID.Add(1),
		User: user,
		hub:  h,
		sink: sink,
		done: make(chan struct{}),
	}
	sub.seq = sequencer.New[Sink]("hub", sink)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if greet != nil {
		sequencer.SubmitTimeout(sub.seq, context.Background(), h.opts.WriteTimeout, func(ctx context.Context, sink Sink) (struct{}, error) {
			if err := greet(ctx, sink); err != nil {
				h.drop(sub, fmt.Errorf("greet: %w", err))
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
	}
	conns := h.users[user]
	if conns == nil {
		conns = make(map[uint64]*Subscriber)
		h.users[user] = conns
	}
	conns[sub.ID] = sub
	subscribers.Inc()
	logger.Debug("hub_subscribed", "user", user, "subscriber", sub.ID)
	return sub, nil
}

// Unsubscribe removes sub and waits for its queued writes to finish or ctx
// to end. It does not close the sink.
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscriber) error {
	h.remove(sub, nil)
	return sub.seq.Close(ctx)
}

// Publish queues it on every connection of user and returns how many
// connections it was queued on. It never waits for the writes.
func (h *Hub) Publish(user string, it envelope.Item) int {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.users[user]))
	for _, s := range h.users[user] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	itemsPublished.Inc()
	n := 0
	for _, s := range targets {
		if s.seq.Pending() >= h.opts.MaxPending {
			h.drop(s, ErrSlowConsumer)
			continue
		}
		if s.Send(context.Background(), it).Err() != nil {
			continue
		}
		n++
	}
	return n
}

// Count returns the number of live connections of user.
func (h *Hub) Count(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[user])
}

// Close drops every subscriber and rejects new ones.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	var all []*Subscriber
	for _, conns := range h.users {
		for _, s := range conns {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, s := range all {
		h.remove(s, nil)
		if err := s.seq.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// drop removes sub after a failed write and fails everything queued on it.
func (h *Hub) drop(sub *Subscriber, cause error) {
	if h.remove(sub, cause) {
		subscribersDropped.Inc()
		logger.Warn("hub_subscriber_dropped", "user", sub.User, "subscriber", sub.ID, "error", cause)
	}
	sub.seq.Fail(cause)
}

func (h *Hub) remove(sub *Subscriber, cause error) bool {
	h.mu.Lock()
	conns := h.users[sub.User]
	_, ok := conns[sub.ID]
	if ok {
		delete(conns, sub.ID)
		if len(conns) == 0 {
			delete(h.users, sub.User)
		}
		subscribers.Dec()
	}
	h.mu.Unlock()

	sub.once.Do(func() {
		sub.err = cause
		close(sub.done)
	})
	return ok
}
