// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flowcore/pipeline/finalization"
)

// DefaultChunkSize is the number of requests the driver buffers out of
// its input channel at once.
const DefaultChunkSize = 1024

// Driver couples an input stream of Req to a Service, settling each
// request's finalizer once its call completes and reporting telemetry.
// It is not safe for concurrent use of Run from multiple goroutines;
// callers run exactly one Driver per Service instance.
type Driver[Req Request, Resp Response] struct {
	svc       Service[Req, Resp]
	input     <-chan Req
	chunkSize int
	telemetry Telemetry
	logger    *zap.Logger
	seq       uint64
}

// Option configures a Driver.
type Option[Req Request, Resp Response] func(*Driver[Req, Resp])

func WithChunkSize[Req Request, Resp Response](n int) Option[Req, Resp] {
	return func(d *Driver[Req, Resp]) { d.chunkSize = n }
}

func WithTelemetry[Req Request, Resp Response](t Telemetry) Option[Req, Resp] {
	return func(d *Driver[Req, Resp]) { d.telemetry = t }
}

func WithLogger[Req Request, Resp Response](l *zap.Logger) Option[Req, Resp] {
	return func(d *Driver[Req, Resp]) { d.logger = l }
}

// New creates a Driver draining input into svc.
func New[Req Request, Resp Response](svc Service[Req, Resp], input <-chan Req, opts ...Option[Req, Resp]) *Driver[Req, Resp] {
	d := &Driver[Req, Resp]{
		svc:       svc,
		input:     input,
		chunkSize: DefaultChunkSize,
		telemetry: NopTelemetry{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.telemetry == nil {
		d.telemetry = NopTelemetry{}
	}
	return d
}

type completion[Resp Response] struct {
	seq        uint64
	resp       Resp
	err        error
	eventCount int
	byteSize   int
}

// Run drives the input-to-service loop until input is closed and every
// in-flight call has completed, ctx is done, or the service's readiness
// check fails fatally.
//
// Each loop iteration interleaves three branches, biased in order:
// completions, then readiness, then new input. Go's
// select has no native "biased" mode, so the ordering is approximated
// by draining every already-completed call with a non-blocking receive
// before the single blocking select that follows. Readiness and
// new-input are never simultaneously live in that select -- readiness
// is only polled while a request is pending, new input is only fetched
// while none is -- so the one remaining ambiguity is a completion
// racing against the other two inside the same select, decided by Go's
// pseudo-random tie-break rather than a hard priority.
func (d *Driver[Req, Resp]) Run(ctx context.Context) error {
	var pending []Req
	completions := make(chan completion[Resp])
	inFlight := 0
	var readyCh chan error
	input := d.input

	for {
		for {
			select {
			case c := <-completions:
				d.settle(c)
				inFlight--
				continue
			default:
			}
			break
		}

		if len(pending) == 0 && input == nil && inFlight == 0 {
			return nil
		}

		if len(pending) > 0 && readyCh == nil {
			readyCh = make(chan error, 1)
			go func() { readyCh <- d.svc.Ready(ctx) }()
		}

		var inCh <-chan Req
		if len(pending) == 0 {
			inCh = input
		}

		select {
		case c := <-completions:
			d.settle(c)
			inFlight--

		case err := <-readyCh:
			readyCh = nil
			if err != nil {
				return fmt.Errorf("driver: service not ready: %w", err)
			}
			req := pending[0]
			pending = pending[1:]
			seq := atomic.AddUint64(&d.seq, 1)
			inFlight++
			go d.call(ctx, seq, req, completions)

		case req, ok := <-inCh:
			if !ok {
				input = nil
				continue
			}
			pending = append(pending, req)
			d.fillChunk(&pending, input)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fillChunk opportunistically tops pending up to the driver's chunk
// size with whatever is immediately available on input, without
// blocking.
func (d *Driver[Req, Resp]) fillChunk(pending *[]Req, input <-chan Req) {
	for len(*pending) < d.chunkSize {
		select {
		case req, ok := <-input:
			if !ok {
				return
			}
			*pending = append(*pending, req)
		default:
			return
		}
	}
}

// call issues one request and reports its outcome on completions. The
// request's finalizer is settled here, not in Run, since out-of-order
// completion means the owning goroutine is the only place that knows
// this call's result. Finalizers carry their own identity, so
// completing out of order is harmless.
func (d *Driver[Req, Resp]) call(ctx context.Context, seq uint64, req Req, completions chan<- completion[Resp]) {
	eventCount, byteSize := req.EventCount(), req.ByteSize()
	resp, err := d.svc.Call(ctx, req)
	finalizer := req.Finalizer()
	if err != nil {
		finalizer.Update(finalization.Rejected)
		finalizer.Release()
		completions <- completion[Resp]{seq: seq, err: err, eventCount: eventCount, byteSize: byteSize}
		return
	}
	// A response carrying Rejected is a rejection even though the
	// transport call itself returned no error.
	finalizer.Update(resp.Status())
	finalizer.Release()
	completions <- completion[Resp]{seq: seq, resp: resp, eventCount: eventCount, byteSize: byteSize}
}

// settle reports telemetry for one completed call. A call error never
// terminates the driver -- only a fatal Ready error does.
func (d *Driver[Req, Resp]) settle(c completion[Resp]) {
	if c.err != nil {
		d.telemetry.CallError(c.err)
		d.logger.Warn("request call failed", zap.Uint64("seq", c.seq), zap.Error(c.err))
		return
	}
	if c.resp.Status() == finalization.Delivered {
		d.telemetry.Delivered(c.resp.EventsSent(), c.byteSize, c.resp.BytesSent())
	}
}
