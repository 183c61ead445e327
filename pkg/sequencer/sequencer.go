package sequencer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"clipshare/pkg/state/logger"
)

// ErrChannelUnavailable is returned for work submitted to, or still queued
// on, a sequencer whose channel was closed or failed.
var ErrChannelUnavailable = errors.New("channel unavailable")

// State is the lifecycle position of a sequencer.
type State int32

const (
	Idle State = iota
	Busy
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Operation is one unit of work against the channel. It may perform several
// sends and receives; nothing else touches the channel while it runs.
type Operation[C, T any] func(ctx context.Context, ch C) (T, error)

// Sequencer owns a channel and runs submitted operations on it one at a time.
type Sequencer[C any] struct {
	name string
	ch   C

	// ctx is cancelled with the failure cause by Fail.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	tail   chan struct{}
	closed bool
	cause  error

	pending atomic.Int64
}

// New binds a sequencer to ch. The name labels metrics and log lines and
// should identify a kind of channel rather than one connection.
func New[C any](name string, ch C) *Sequencer[C] {
	ctx, cancel := context.WithCancelCause(context.Background())
	tail := make(chan struct{})
	close(tail)
	return &Sequencer[C]{
		name:   name,
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
		tail:   tail,
	}
}

// Name returns the label given to New.
func (s *Sequencer[C]) Name() string { return s.name }

// State reports Idle, Busy or Closed.
func (s *Sequencer[C]) State() State {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Closed
	}
	if s.pending.Load() > 0 {
		return Busy
	}
	return Idle
}

// Pending is the number of operations queued or running.
func (s *Sequencer[C]) Pending() int { return int(s.pending.Load()) }

// Submit queues op behind every operation previously submitted to s and
// returns a future for op's own outcome.
//
// If ctx ends before op starts, op is skipped and the future resolves with
// ctx.Err(). Once op starts it receives a context that ends with ctx or when
// the sequencer fails.
func Submit[C, T any](s *Sequencer[C], ctx context.Context, op Operation[C, T]) *Future[T] {
	return submit(s, ctx, op, 0)
}

// SubmitTimeout is Submit with a caller-side deadline. When d elapses the
// future fails with context.DeadlineExceeded and op's context is cancelled,
// but the next operation still waits for op to actually return.
func SubmitTimeout[C, T any](s *Sequencer[C], ctx context.Context, d time.Duration, op Operation[C, T]) *Future[T] {
	return submit(s, ctx, op, d)
}

// Do runs op through the queue and waits for it.
func (s *Sequencer[C]) Do(ctx context.Context, op func(ctx context.Context, ch C) error) error {
	_, err := Submit(s, ctx, func(ctx context.Context, ch C) (struct{}, error) {
		return struct{}{}, op(ctx, ch)
	}).Wait(ctx)
	return err
}

func submit[C, T any](s *Sequencer[C], ctx context.Context, op Operation[C, T], timeout time.Duration) *Future[T] {
	s.mu.Lock()
	if s.closed {
		err := s.unavailableLocked()
		s.mu.Unlock()
		opsRejected.WithLabelValues(s.name).Inc()
		return failed[T](err)
	}
	prev := s.tail
	next := make(chan struct{})
	s.tail = next
	s.pending.Add(1)
	s.mu.Unlock()

	opsSubmitted.WithLabelValues(s.name).Inc()
	queueDepth.WithLabelValues(s.name).Inc()

	f := newFuture[T]()
	go run(s, ctx, prev, next, f, op, timeout)
	return f
}

// run is one link of the chain. It always closes next, and only after prev
// has closed, so at most one operation holds the channel.
func run[C, T any](s *Sequencer[C], ctx context.Context, prev <-chan struct{}, next chan struct{}, f *Future[T], op Operation[C, T], timeout time.Duration) {
	var zero T
	defer func() {
		s.pending.Add(-1)
		queueDepth.WithLabelValues(s.name).Dec()
		close(next)
	}()

	select {
	case <-prev:
	case <-ctx.Done():
		// tell the caller now, keep our place in the chain
		f.resolve(zero, ctx.Err())
		opsFailed.WithLabelValues(s.name).Inc()
		<-prev
		return
	case <-s.ctx.Done():
		f.resolve(zero, s.unavailable())
		opsFailed.WithLabelValues(s.name).Inc()
		<-prev
		return
	}

	if s.ctx.Err() != nil {
		f.resolve(zero, s.unavailable())
		opsFailed.WithLabelValues(s.name).Inc()
		return
	}
	if err := ctx.Err(); err != nil {
		f.resolve(zero, err)
		opsFailed.WithLabelValues(s.name).Inc()
		return
	}

	opCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
		timer := time.AfterFunc(timeout, func() { f.resolve(zero, context.DeadlineExceeded) })
		defer timer.Stop()
	}

	start := time.Now()
	v, err := invoke(s, opCtx, op)
	opDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())

	if err != nil {
		opsFailed.WithLabelValues(s.name).Inc()
	} else {
		opsCompleted.WithLabelValues(s.name).Inc()
	}
	if !f.resolve(v, err) {
		logger.Debug("sequencer_op_settled_late", "sequencer", s.name, "error", err)
	}
}

// invoke calls op, turning a panic into an error for the submitting caller.
func invoke[C, T any](s *Sequencer[C], ctx context.Context, op Operation[C, T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sequencer_op_panicked", "sequencer", s.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("sequencer %s: operation panicked: %v", s.name, r)
		}
	}()
	return op(ctx, s.ch)
}

// Close stops the sequencer accepting work and waits until everything
// already queued has settled or ctx ends. It is safe to call more than once.
func (s *Sequencer[C]) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	tail := s.tail
	s.mu.Unlock()

	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail marks the channel unusable. Queued operations that have not started
// resolve with ErrChannelUnavailable wrapping cause, the running operation's
// context is cancelled, and later submissions are rejected.
func (s *Sequencer[C]) Fail(cause error) {
	s.mu.Lock()
	s.closed = true
	if s.cause == nil {
		s.cause = cause
	}
	err := s.unavailableLocked()
	s.mu.Unlock()
	s.cancel(err)
}

// Err returns nil while the sequencer accepts work, ErrChannelUnavailable
// (wrapping the failure cause, if any) afterwards.
func (s *Sequencer[C]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}
	return s.unavailableLocked()
}

func (s *Sequencer[C]) unavailable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailableLocked()
}

func (s *Sequencer[C]) unavailableLocked() error {
	if s.cause != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, s.cause)
	}
	return ErrChannelUnavailable
}
