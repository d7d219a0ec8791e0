// Package actor runs work on a single goroutine so state transitions never race.
package actor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy is returned when the loop did not pick up the work in time.
	ErrBusy = errors.New("queue is busy processing other requests")
	// ErrSlow is returned when the work was accepted but no reply arrived in time.
	ErrSlow = errors.New("processing took too long")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("service is shutting down")
)

const (
	defaultEnqueueTimeout = 2 * time.Second
	defaultReplyTimeout   = 5 * time.Second
)

// Actor owns the goroutine that executes queued jobs one at a time.
type Actor struct {
	jobs           chan func()
	quit           chan struct{}
	done           chan struct{}
	enqueueTimeout time.Duration
	replyTimeout   time.Duration
}

// Option tunes the actor timeouts.
type Option func(*Actor)

// WithTimeouts overrides how long callers wait to enqueue and to receive a reply.
func WithTimeouts(enqueue, reply time.Duration) Option {
	return func(a *Actor) {
		a.enqueueTimeout = enqueue
		a.replyTimeout = reply
	}
}

// New launches the coordinating goroutine immediately so callers never wait for scheduling.
func New(opts ...Option) *Actor {
	a := &Actor{
		jobs:           make(chan func()),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		enqueueTimeout: defaultEnqueueTimeout,
		replyTimeout:   defaultReplyTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

func (a *Actor) loop() {
	defer close(a.done)
	for {
		select {
		case job := <-a.jobs:
			job()
		case <-a.quit:
			return
		}
	}
}

// Close stops the goroutine and waits for the running job to finish.
func (a *Actor) Close() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	<-a.done
}

type result[T any] struct {
	value T
	err   error
}

// Do runs fn on the actor goroutine and waits for its result.
func Do[T any](ctx context.Context, a *Actor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	// Buffered so the loop never blocks on a caller that already gave up.
	reply := make(chan result[T], 1)
	job := func() {
		if ctx.Err() != nil {
			reply <- result[T]{err: ctx.Err()}
			return
		}
		v, err := fn(ctx)
		reply <- result[T]{value: v, err: err}
	}

	enqueue := time.NewTimer(a.enqueueTimeout)
	defer enqueue.Stop()
	select {
	case a.jobs <- job:
	case <-a.quit:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-enqueue.C:
		return zero, ErrBusy
	}

	wait := time.NewTimer(a.replyTimeout)
	defer wait.Stop()
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-wait.C:
		return zero, ErrSlow
	}
}
