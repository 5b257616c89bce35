// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanout implements the one-to-many dispatcher: every
// produced batch is forwarded to every registered consumer, with the
// slowest consumer dictating the producer's rate so that backpressure
// propagates upstream. Membership changes (Add/Remove/Replace) are
// processed between batches, never in the middle of one, so a Replace
// never drops a batch in flight. A non-blocking Tap observer can sit
// alongside the blocking consumers for best-effort inspection.
package fanout

import (
	"context"
)

// Sender is a single consumer's inbound channel: anything that accepts
// a batch of type T, blocking until it is admitted or ctx is done.
type Sender[T any] interface {
	Send(ctx context.Context, batch T) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc[T any] func(ctx context.Context, batch T) error

func (f SenderFunc[T]) Send(ctx context.Context, batch T) error { return f(ctx, batch) }

// TapSender is a non-blocking observer: TrySend reports whether
// the batch was accepted, and must never block the dispatch loop.
type TapSender[T any] interface {
	TrySend(batch T) bool
}

// TapSenderFunc adapts a plain function to TapSender.
type TapSenderFunc[T any] func(batch T) bool

func (f TapSenderFunc[T]) TrySend(batch T) bool { return f(batch) }

type control[T any] struct {
	op        controlOp
	name      string
	sender    Sender[T]
	tapSender TapSender[T]
	drainAck  chan struct{} // closed by Dispatcher once the replaced sender may be released
}

type controlOp int

const (
	opAdd controlOp = iota
	opRemove
	opReplace
	opAddTap
	opRemoveTap
)

type consumer[T any] struct {
	name   string
	sender Sender[T]
}

type tap[T any] struct {
	name   string
	sender TapSender[T]
}

// Dispatcher is the fan-out broadcaster. Create with New, drive one
// goroutine with Run, and feed it batches with Send from any number of
// producer goroutines (Send itself is safe to call concurrently, though
// the topology only ever wires one producer per dispatcher).
type Dispatcher[T any] struct {
	in      chan T
	ctrl    chan control[T]
	stopped chan struct{}

	consumers []consumer[T]
	taps      []tap[T]
}

// New creates a Dispatcher. inputBuffer sizes the channel producers send
// into; 0 makes every Send synchronous with Run's dispatch loop.
func New[T any](inputBuffer int) *Dispatcher[T] {
	return &Dispatcher[T]{
		in:      make(chan T, inputBuffer),
		ctrl:    make(chan control[T]),
		stopped: make(chan struct{}),
	}
}

// Send forwards batch into the dispatcher for delivery to every current
// consumer. It blocks until Run has accepted it into its dispatch loop;
// Run in turn blocks on the slowest consumer, so Send's latency is the
// slowest consumer's latency -- this is the mechanism that carries
// backpressure to the producer.
func (d *Dispatcher[T]) Send(ctx context.Context, batch T) error {
	select {
	case d.in <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return context.Canceled
	}
}

// Add registers a new blocking consumer. It will receive every batch
// dispatched strictly after this call returns: a consumer added after
// batch n receives batches strictly after n.
func (d *Dispatcher[T]) Add(ctx context.Context, name string, sender Sender[T]) error {
	return d.sendControl(ctx, control[T]{op: opAdd, name: name, sender: sender})
}

// Remove unregisters a consumer by name. A batch already being
// dispatched to it completes first; no further batches are sent to it.
func (d *Dispatcher[T]) Remove(ctx context.Context, name string) error {
	return d.sendControl(ctx, control[T]{op: opRemove, name: name})
}

// Replace swaps the sender registered under name. The new sender
// receives every subsequent batch; the old sender is released (eligible
// for shutdown by its owner) only once this call returns, guaranteeing
// no batch is ever dropped across the swap.
func (d *Dispatcher[T]) Replace(ctx context.Context, name string, sender Sender[T]) error {
	ack := make(chan struct{})
	err := d.sendControl(ctx, control[T]{op: opReplace, name: name, sender: sender, drainAck: ack})
	if err != nil {
		return err
	}
	<-ack
	return nil
}

// AddTap registers a non-blocking observer: its TrySend is attempted
// best-effort between batches and dropped silently if it would block,
// never slowing the producer.
func (d *Dispatcher[T]) AddTap(ctx context.Context, name string, sender TapSender[T]) error {
	return d.sendControl(ctx, control[T]{op: opAddTap, name: name, tapSender: sender})
}

// RemoveTap unregisters a tap observer by name.
func (d *Dispatcher[T]) RemoveTap(ctx context.Context, name string) error {
	return d.sendControl(ctx, control[T]{op: opRemoveTap, name: name})
}

func (d *Dispatcher[T]) sendControl(ctx context.Context, c control[T]) error {
	select {
	case d.ctrl <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return context.Canceled
	}
}

// Run drives the dispatch loop until ctx is done. Control messages are
// only applied between batch dispatches, never interleaved within one,
// so membership changes cannot split a single batch's delivery.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.ctrl:
			d.apply(c)
		case batch := <-d.in:
			d.dispatch(ctx, batch)
		}
	}
}

func (d *Dispatcher[T]) apply(c control[T]) {
	switch c.op {
	case opAdd:
		d.consumers = append(d.consumers, consumer[T]{name: c.name, sender: c.sender})
	case opRemove:
		d.consumers = removeByName(d.consumers, c.name)
	case opReplace:
		for i := range d.consumers {
			if d.consumers[i].name == c.name {
				d.consumers[i].sender = c.sender
				break
			}
		}
		close(c.drainAck)
	case opAddTap:
		d.taps = append(d.taps, tap[T]{name: c.name, sender: c.tapSender})
	case opRemoveTap:
		filtered := d.taps[:0]
		for _, tp := range d.taps {
			if tp.name != c.name {
				filtered = append(filtered, tp)
			}
		}
		d.taps = filtered
	}
}

func removeByName[T any](cs []consumer[T], name string) []consumer[T] {
	filtered := cs[:0]
	for _, c := range cs {
		if c.name != name {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// dispatch delivers batch to every registered consumer strictly in
// registration order (so that two sends to the same consumer are never
// reordered), blocking on each in turn -- the slowest consumer dictates
// how long dispatch takes. Taps are given a single non-blocking
// attempt after every blocking consumer has accepted the batch.
func (d *Dispatcher[T]) dispatch(ctx context.Context, batch T) {
	for _, c := range d.consumers {
		// Ignore the error: a consumer that errors or whose context is
		// done is the topology supervisor's concern (it will Remove or
		// Replace it on the next control message), not the dispatcher's.
		_ = c.sender.Send(ctx, batch)
	}
	for _, tp := range d.taps {
		tp.sender.TrySend(batch)
	}
}

// consumerNames returns the currently registered blocking consumer
// names, for tests and diagnostics. Not safe to call concurrently with
// Run; intended for use from the same goroutine driving Run or after it
// has stopped.
func (d *Dispatcher[T]) consumerNames() []string {
	names := make([]string, len(d.consumers))
	for i, c := range d.consumers {
		names[i] = c.name
	}
	return names
}
