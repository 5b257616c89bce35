// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver couples a stream of prepared requests to a downstream
// service abstraction that has its own readiness and concurrency
// model, settling each request's finalizer from the outcome of the
// call that carried it.
package driver

import (
	"context"

	"github.com/flowcore/pipeline/finalization"
)

// Request is one unit of work handed to a Service: a prepared,
// already-encoded call plus the bookkeeping the driver needs to settle
// finalizers and report telemetry once it completes.
type Request interface {
	// Finalizer returns the finalizer tracking this request's
	// constituent events. The driver releases it exactly once, after
	// the corresponding call completes.
	Finalizer() *finalization.EventFinalizer
	EventCount() int
	ByteSize() int
}

// Response is what a completed call yields on success.
type Response interface {
	// Status is merged into the request's finalizer. A response
	// carrying Rejected is treated as a rejection even though the
	// transport call itself returned no error.
	Status() finalization.EventStatus
	BytesSent() int
	EventsSent() int
}

// Service is the downstream abstraction the driver drains requests
// into: a readiness gate plus a call method, modeled on tower::Service's
// poll_ready/call split.
type Service[Req Request, Resp Response] interface {
	// Ready blocks until the service can accept another Call, or
	// returns a fatal error -- the driver terminates immediately on a
	// Ready error rather than retrying.
	Ready(ctx context.Context) error
	// Call issues req. It may run concurrently with other in-flight
	// calls and complete out of order relative to them; the driver does
	// not rely on call ordering.
	Call(ctx context.Context, req Req) (Resp, error)
}

// Telemetry receives the driver's per-call outcomes. A nil Telemetry is
// valid; the driver simply reports nothing.
type Telemetry interface {
	CallError(err error)
	Delivered(eventCount, byteSize, bytesSent int)
}

// NopTelemetry implements Telemetry with no-ops.
type NopTelemetry struct{}

func (NopTelemetry) CallError(error)         {}
func (NopTelemetry) Delivered(int, int, int) {}
