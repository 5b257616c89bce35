// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capacity implements the capacity-aware bounded channel: a
// single-limit MPSC queue admitting variable-weight items, backed by a
// counting semaphore so that the bound tracks memory occupancy rather
// than item count.
package capacity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sync/semaphore"
)

// ErrDisconnected is returned by Send/TrySend once the channel has been
// closed (receiver dropped), including when they race with a concurrent
// Close. Receive on a closed channel does not return it: once the
// buffered items are drained, Receive returns (nil, nil).
var ErrDisconnected = errors.New("capacity: channel disconnected")

// ErrInsufficientCapacity is returned by TrySend when admitting the item
// would require blocking.
var ErrInsufficientCapacity = errors.New("capacity: insufficient capacity")

// Weighable is an item whose admission cost may exceed one permit, e.g.
// a batch of events rather than a single one.
type Weighable interface {
	Weight() int64
}

type entry[T Weighable] struct {
	item    T
	permits int64
}

// Channel is a capacity-aware MPSC queue: many senders, one receiver,
// admission gated by a counting semaphore of total weight limit. An item
// heavier than limit is still admitted, but only once no other item is
// in flight -- see requiredPermits.
type Channel[T Weighable] struct {
	limit int64
	sem   *semaphore.Weighted

	mu     sync.Mutex
	ring   *queue.Queue // of entry[T]
	closed bool
	notify chan struct{}

	inFlight int64 // atomic, advisory only (AvailableCapacity)

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// NewChannel creates a channel admitting up to limit permits' worth of
// items in flight at once. limit must be at least 1.
func NewChannel[T Weighable](limit int64) *Channel[T] {
	if limit < 1 {
		panic("capacity: limit must be at least 1")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel[T]{
		limit:       limit,
		sem:         semaphore.NewWeighted(limit),
		ring:        queue.New(),
		notify:      make(chan struct{}),
		closeCtx:    ctx,
		closeCancel: cancel,
	}
}

// requiredPermits computes min(limit, item.Weight()): an item
// whose weight exceeds the channel's limit acquires the *entire* limit
// instead of its true weight. Acquiring every permit is only possible
// when no other item currently holds any, which is exactly the
// deadlock-avoidance contract for oversize items -- no special-casing
// is needed beyond this one computation, since the semaphore itself
// enforces "alone in the channel."
func (c *Channel[T]) requiredPermits(item T) int64 {
	w := item.Weight()
	if w < 1 {
		w = 1
	}
	if w > c.limit {
		return c.limit
	}
	return w
}

func (c *Channel[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// wakeLocked broadcasts a state change (new item, or close) to every
// goroutine blocked in Receive. Must be called with c.mu held.
func (c *Channel[T]) wakeLocked() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// Close marks the channel disconnected: pending and future Send/TrySend
// calls fail with ErrDisconnected, and Receive drains whatever remains
// queued before returning (nil, nil).
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeCancel() // wakes any Acquire blocked in Send
	c.mu.Lock()
	c.wakeLocked() // wakes any Receive blocked on an empty queue
	c.mu.Unlock()
}

// Send blocks until enough permits are available (or ctx is done, or
// the channel is closed), then enqueues item. Cancellation of a blocked
// send never leaves permits acquired: semaphore.Weighted.Acquire only
// succeeds atomically, so a cancelled Acquire holds nothing to release.
func (c *Channel[T]) Send(ctx context.Context, item T) error {
	if c.isClosed() {
		return ErrDisconnected
	}
	required := c.requiredPermits(item)

	acquireCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.closeCtx, cancel)
	err := c.sem.Acquire(acquireCtx, required)
	stop()
	cancel()

	if err != nil {
		if c.isClosed() {
			return ErrDisconnected
		}
		return ctx.Err()
	}

	atomic.AddInt64(&c.inFlight, required)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.sem.Release(required)
		atomic.AddInt64(&c.inFlight, -required)
		return ErrDisconnected
	}
	c.ring.Add(entry[T]{item: item, permits: required})
	c.wakeLocked()
	c.mu.Unlock()
	return nil
}

// TrySend is the non-blocking variant of Send: it never waits for
// permits, failing immediately with ErrInsufficientCapacity instead.
func (c *Channel[T]) TrySend(item T) error {
	if c.isClosed() {
		return ErrDisconnected
	}
	required := c.requiredPermits(item)
	if !c.sem.TryAcquire(required) {
		return ErrInsufficientCapacity
	}
	atomic.AddInt64(&c.inFlight, required)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.sem.Release(required)
		atomic.AddInt64(&c.inFlight, -required)
		return ErrDisconnected
	}
	c.ring.Add(entry[T]{item: item, permits: required})
	c.wakeLocked()
	c.mu.Unlock()
	return nil
}

// Lease wraps a dequeued item together with the permits it holds.
// Capacity is tied to real occupancy: the permits are only
// released when the consumer calls Release on the lease, not merely
// by dequeuing it from the channel.
type Lease[T Weighable] struct {
	item     T
	permits  int64
	released int32
	c        *Channel[T]
}

// Item returns the leased value.
func (l *Lease[T]) Item() T { return l.item }

// Release returns the lease's permits to the channel. Safe to call more
// than once; only the first call has effect.
func (l *Lease[T]) Release() {
	if atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		l.c.sem.Release(l.permits)
		atomic.AddInt64(&l.c.inFlight, -l.permits)
	}
}

// Receive pops the oldest queued item, blocking until one is available,
// ctx is done, or the channel is closed and drained -- in which case it
// returns (nil, nil).
func (c *Channel[T]) Receive(ctx context.Context) (*Lease[T], error) {
	for {
		c.mu.Lock()
		if c.ring.Length() > 0 {
			e := c.ring.Remove().(entry[T])
			c.mu.Unlock()
			return &Lease[T]{item: e.item, permits: e.permits, c: c}, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, nil
		}
		wake := c.notify
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// AvailableCapacity reports the currently free permit count. It is
// advisory only: it races with concurrent Send/TrySend/Lease.Release
// calls.
func (c *Channel[T]) AvailableCapacity() int64 {
	return c.limit - atomic.LoadInt64(&c.inFlight)
}
