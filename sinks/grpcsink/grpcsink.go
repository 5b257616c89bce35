// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcsink is an example Sink whose Service drives a single
// unary gRPC method per request: a connection is established once at
// build time, readiness tracks the connection's reported state, and
// every driver.Request becomes one Invoke call. The wire protocol is
// deliberately not a reproduction of any real protocol; requests carry
// an opaque payload (length-delimited protobuf Structs by default)
// rather than a generated service's messages.
package grpcsink

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/flowcore/pipeline/batch"
	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/driver"
	"github.com/flowcore/pipeline/event"
	"github.com/flowcore/pipeline/finalization"
)

// Spec configures a grpcsink instance.
type Spec struct {
	// Target is the gRPC dial target (e.g. "dns:///collector:4317").
	Target string `mapstructure:"target"`
	// Method is the fully qualified RPC method invoked for every
	// request, e.g. "/flowcore.sink.v1.Export/Export".
	Method string `mapstructure:"method"`
	// Compression selects the registered wire compressor; Level 0
	// disables compression.
	Compression CompressionConfig `mapstructure:"compression"`
	// Marshal appends one event's wire encoding to dst and returns the
	// extended slice. When nil, events are encoded as length-delimited
	// protobuf Structs (see marshal.go).
	Marshal func(dst []byte, ev event.Event) []byte `mapstructure:"-"`
	// Batch configures the sink-side accumulator applied before
	// requests are formed.
	Batch batch.Config `mapstructure:"-"`
	// Telemetry receives per-call outcomes, e.g. a *netreport.Reporter
	// backed by prometheus counters. Defaults to driver.NopTelemetry.
	Telemetry driver.Telemetry `mapstructure:"-"`
}

// Builder constructs grpcsink component instances.
var Builder component.BuilderFunc = build

func build(ctx context.Context, name string, spec any, deps component.Deps) (component.Handle, error) {
	s, ok := spec.(*Spec)
	if !ok {
		return component.Handle{}, fmt.Errorf("grpcsink: unexpected spec type %T", spec)
	}
	if deps.Input == nil {
		return component.Handle{}, fmt.Errorf("grpcsink %q: needs an input wired", name)
	}
	if s.Method == "" {
		return component.Handle{}, fmt.Errorf("grpcsink %q: method is required", name)
	}

	dialOpts := []grpc.DialOption{grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{}))}
	if s.Compression.Level > 0 {
		c := newZstdCompressor(s.Compression.Level)
		c.register()
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.UseCompressor(c.Name())))
	}

	conn, err := grpc.Dial(s.Target, dialOpts...)
	if err != nil {
		return component.Handle{}, fmt.Errorf("grpcsink %q: dial %s: %w", name, s.Target, err)
	}

	telemetry := s.Telemetry
	if telemetry == nil {
		telemetry = driver.NopTelemetry{}
	}

	svc := &service{conn: conn, method: s.Method}
	sk := &sink{name: name, spec: *s, deps: deps, svc: svc, logger: zap.NewNop(), telemetry: telemetry}

	return component.Handle{
		Run:         sk.run,
		Healthcheck: sk.healthcheck,
	}, nil
}

// rawCodec is a passthrough grpc codec: messages are already-encoded
// []byte and are neither marshaled nor unmarshaled further, since
// grpcsink exchanges opaque payloads rather than generated messages.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("grpcsink: rawCodec cannot marshal %T", v)
	}
	return b.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("grpcsink: rawCodec cannot unmarshal into %T", v)
	}
	b.data = append([]byte(nil), data...)
	return nil
}

type rawMessage struct{ data []byte }

// request implements driver.Request for one grpcsink call.
type request struct {
	payload    []byte
	finalizer  *finalization.EventFinalizer
	eventCount int
}

func (r *request) Finalizer() *finalization.EventFinalizer { return r.finalizer }
func (r *request) EventCount() int                         { return r.eventCount }
func (r *request) ByteSize() int                           { return len(r.payload) }

// response implements driver.Response. grpcsink's opaque RPC contract
// has no application-level status beyond success/failure of the call
// itself, so every successful call reports Delivered.
type response struct {
	bytesSent  int
	eventsSent int
}

func (r *response) Status() finalization.EventStatus { return finalization.Delivered }
func (r *response) BytesSent() int                   { return r.bytesSent }
func (r *response) EventsSent() int                  { return r.eventsSent }

// service implements driver.Service[*request, *response] over a single
// *grpc.ClientConn.
type service struct {
	conn   *grpc.ClientConn
	method string
}

func (s *service) Ready(ctx context.Context) error {
	state := s.conn.GetState()
	if state == connectivity.Ready || state == connectivity.Idle {
		return nil
	}
	s.conn.Connect()
	if !s.conn.WaitForStateChange(ctx, state) {
		return ctx.Err()
	}
	if s.conn.GetState() == connectivity.TransientFailure {
		return fmt.Errorf("grpcsink: connection in transient failure")
	}
	return nil
}

func (s *service) Call(ctx context.Context, req *request) (*response, error) {
	reply := new(rawMessage)
	if err := s.conn.Invoke(ctx, s.method, &rawMessage{data: req.payload}, reply); err != nil {
		return nil, err
	}
	return &response{bytesSent: len(req.payload), eventsSent: req.eventCount}, nil
}

type sink struct {
	name      string
	spec      Spec
	deps      component.Deps
	svc       *service
	logger    *zap.Logger
	telemetry driver.Telemetry
}

// run is the sink task: events drawn from
// Input are coalesced by a batch.Batcher before each accumulated group
// becomes one driver.Request, amortizing RPC overhead across many
// events the way a production gRPC exporter batches before sending.
func (sk *sink) run(ctx context.Context) error {
	requests := make(chan *request)
	drv := driver.New[*request, *response](sk.svc, requests,
		driver.WithLogger[*request, *response](sk.logger),
		driver.WithTelemetry[*request, *response](sk.telemetry))

	errCh := make(chan error, 1)
	go func() { errCh <- drv.Run(ctx) }()

	bat := batch.New(sk.spec.Batch)
	go func() {
		defer bat.Shutdown()
		for {
			lease, err := sk.deps.Input.Receive(ctx)
			if err != nil || lease == nil {
				return
			}
			b := lease.Item()
			lease.Release()
			for _, ev := range b.Events {
				if bat.Add(ctx, ev) != nil {
					return
				}
			}
		}
	}()

	for flushed := range bat.Out() {
		payload := sk.marshal(flushed.Events)
		finalizer := settleInto(flushed.Finalizers)
		select {
		case requests <- &request{payload: payload, finalizer: finalizer, eventCount: len(flushed.Events)}:
		case <-ctx.Done():
			close(requests)
			return ctx.Err()
		case driverErr := <-errCh:
			close(requests)
			return driverErr
		}
	}
	// The batcher has flushed everything: close the request stream and
	// wait for the driver to settle its remaining in-flight calls.
	close(requests)
	return <-errCh
}

// settleInto returns a synthetic EventFinalizer that, once the driver
// settles it (one Update followed by one Release), propagates
// the merged status onto every finalizer in fset and releases them.
// This bridges batch.Batch's per-group FinalizerSet to driver.Request's
// single-finalizer contract.
func settleInto(fset *finalization.FinalizerSet) *finalization.EventFinalizer {
	notifier, statusCh := finalization.NewBatchNotifier()
	finalizer := finalization.NewEventFinalizer(notifier)
	notifier.Done()
	go func() {
		status := <-statusCh
		fset.Update(status)
		fset.Release()
	}()
	return finalizer
}

func (sk *sink) marshal(events []event.Event) []byte {
	var out []byte
	for _, ev := range events {
		if sk.spec.Marshal != nil {
			out = sk.spec.Marshal(out, ev)
			continue
		}
		out = appendEventFrame(out, ev)
	}
	return out
}

func (sk *sink) healthcheck(ctx context.Context) error {
	if sk.svc.conn.GetState() == connectivity.TransientFailure {
		return fmt.Errorf("grpcsink %q: connection unhealthy", sk.name)
	}
	return nil
}
