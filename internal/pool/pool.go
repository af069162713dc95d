// Package pool provides a bounded pool of reusable, closable members.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolExhausted is returned when no member became idle within MaxWait.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrPoolClosed is returned by Borrow after Close.
	ErrPoolClosed = errors.New("pool is closed")
)

// Member is anything the pool can hold. Members are compared by identity,
// so they are usually pointers.
type Member interface {
	comparable
	Close() error
}

// Factory builds a new member carrying the given serial number.
type Factory[T Member] func(ctx context.Context, serial int64) (T, error)

// Observer receives pool events. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveBorrow(wait time.Duration, err error)
	SetActive(checkedOut, idle int)
}

// Options configures pool limits.
type Options struct {
	// MaxActive caps idle plus checked-out members (default 1).
	MaxActive int
	// MaxWait bounds how long Borrow waits for a member to become idle.
	// Zero means Borrow fails immediately when the pool is at capacity.
	MaxWait time.Duration
	// Observer is optional.
	Observer Observer
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Idle       int
	CheckedOut int
	Created    int64
	MaxActive  int
}

// Pool hands out members to one caller at a time.
type Pool[T Member] struct {
	factory  Factory[T]
	serial   *atomic.Int64
	sem      *semaphore.Weighted
	opts     Options
	logger   *zap.Logger
	mu       sync.Mutex
	idle     []T
	out      map[T]struct{}
	created  atomic.Int64
	closed   bool
	observer Observer
}

// New creates a pool. serial is shared with other pools and is advanced once
// per constructed member; nil starts a private counter.
func New[T Member](serial *atomic.Int64, factory Factory[T], opts Options, logger *zap.Logger) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("pool factory is required")
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = 1
	}
	if opts.MaxWait < 0 {
		opts.MaxWait = 0
	}
	if serial == nil {
		serial = new(atomic.Int64)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[T]{
		factory:  factory,
		serial:   serial,
		sem:      semaphore.NewWeighted(int64(opts.MaxActive)),
		opts:     opts,
		logger:   logger.Named("pool"),
		out:      make(map[T]struct{}),
		observer: opts.Observer,
	}, nil
}

// Borrow returns an idle member, builds a new one while under MaxActive, or
// waits up to MaxWait for one to be returned.
func (p *Pool[T]) Borrow(ctx context.Context) (T, error) {
	var zero T
	start := time.Now()

	if p.Closed() {
		return zero, ErrPoolClosed
	}
	if err := p.acquire(ctx); err != nil {
		p.observeBorrow(time.Since(start), err)
		return zero, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		member := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.out[member] = struct{}{}
		p.mu.Unlock()
		p.observeBorrow(time.Since(start), nil)
		p.report()
		return member, nil
	}
	p.mu.Unlock()

	serial := p.serial.Add(1)
	member, err := p.factory(ctx, serial)
	if err != nil {
		p.sem.Release(1)
		p.observeBorrow(time.Since(start), err)
		return zero, fmt.Errorf("create pool member %d: %w", serial, err)
	}
	p.created.Add(1)
	p.logger.Debug("created pool member", zap.Int64("serial", serial))

	p.mu.Lock()
	p.out[member] = struct{}{}
	p.mu.Unlock()
	p.observeBorrow(time.Since(start), nil)
	p.report()
	return member, nil
}

func (p *Pool[T]) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	if p.opts.MaxWait <= 0 {
		return fmt.Errorf("%w: %d members checked out", ErrPoolExhausted, p.opts.MaxActive)
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.opts.MaxWait)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no member idle within %s", ErrPoolExhausted, p.opts.MaxWait)
	}
	return nil
}

// Return puts a borrowed member back. Members returned after Close are closed.
func (p *Pool[T]) Return(member T) error {
	p.mu.Lock()
	if _, ok := p.out[member]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("member was not borrowed from this pool")
	}
	delete(p.out, member)
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		p.closeMember(member)
		p.report()
		return nil
	}
	p.idle = append(p.idle, member)
	p.mu.Unlock()
	p.sem.Release(1)
	p.report()
	return nil
}

// Invalidate closes a borrowed member and frees its slot instead of
// returning it to the idle set.
func (p *Pool[T]) Invalidate(member T) error {
	p.mu.Lock()
	if _, ok := p.out[member]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("member was not borrowed from this pool")
	}
	delete(p.out, member)
	p.mu.Unlock()
	p.sem.Release(1)
	p.closeMember(member)
	p.report()
	return nil
}

// Close closes every idle member. Checked-out members are closed when returned.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, member := range idle {
		if err := member.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.report()
	return errors.Join(errs...)
}

// Stats returns current pool counts.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:       len(p.idle),
		CheckedOut: len(p.out),
		Created:    p.created.Load(),
		MaxActive:  p.opts.MaxActive,
	}
}

// Closed reports whether Close has been called.
func (p *Pool[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[T]) closeMember(member T) {
	if err := member.Close(); err != nil {
		p.logger.Warn("closing pool member failed", zap.Error(err))
	}
}

func (p *Pool[T]) observeBorrow(wait time.Duration, err error) {
	if p.observer != nil {
		p.observer.ObserveBorrow(wait, err)
	}
}

func (p *Pool[T]) report() {
	if p.observer == nil {
		return
	}
	s := p.Stats()
	p.observer.SetActive(s.CheckedOut, s.Idle)
}
