// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/pipeline/finalization"
)

type testRequest struct {
	id        int
	finalizer *finalization.EventFinalizer
	events    int
	bytes     int
}

func (r testRequest) Finalizer() *finalization.EventFinalizer { return r.finalizer }
func (r testRequest) EventCount() int                         { return r.events }
func (r testRequest) ByteSize() int                           { return r.bytes }

type testResponse struct {
	status     finalization.EventStatus
	bytesSent  int
	eventsSent int
}

func (r testResponse) Status() finalization.EventStatus { return r.status }
func (r testResponse) BytesSent() int                   { return r.bytesSent }
func (r testResponse) EventsSent() int                  { return r.eventsSent }

// fakeService is always ready and echoes a configurable status per call.
type fakeService struct {
	mu       sync.Mutex
	statusOf func(id int) (finalization.EventStatus, error)
	calls    int32
}

func (s *fakeService) Ready(ctx context.Context) error { return nil }

func (s *fakeService) Call(ctx context.Context, req testRequest) (testResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	status, err := s.statusOf(req.id)
	if err != nil {
		return testResponse{}, err
	}
	return testResponse{status: status, bytesSent: req.bytes, eventsSent: req.events}, nil
}

func newFinalizedRequest(id int, batch *finalization.BatchNotifier, events, bytes int) testRequest {
	return testRequest{id: id, finalizer: finalization.NewEventFinalizer(batch), events: events, bytes: bytes}
}

func TestDriverDeliversAllAndSettlesFinalizers(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	input := make(chan testRequest, 10)
	for i := 0; i < 5; i++ {
		input <- newFinalizedRequest(i, batch, 1, 10)
	}
	close(input)
	batch.Done()

	svc := &fakeService{statusOf: func(id int) (finalization.EventStatus, error) {
		return finalization.Delivered, nil
	}}

	d := New[testRequest, testResponse](svc, input)
	err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, finalization.Delivered, <-recv)
	assert.EqualValues(t, 5, svc.calls)
}

func TestDriverCallErrorRejectsButDoesNotTerminate(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	input := make(chan testRequest, 3)
	input <- newFinalizedRequest(1, batch, 1, 1)
	input <- newFinalizedRequest(2, batch, 1, 1)
	input <- newFinalizedRequest(3, batch, 1, 1)
	close(input)
	batch.Done()

	svc := &fakeService{statusOf: func(id int) (finalization.EventStatus, error) {
		if id == 2 {
			return 0, errors.New("boom")
		}
		return finalization.Delivered, nil
	}}

	var telemetryErrs int32
	tel := TelemetryFuncs{
		onError: func(err error) { atomic.AddInt32(&telemetryErrs, 1) },
	}

	d := New[testRequest, testResponse](svc, input, WithTelemetry[testRequest, testResponse](tel))
	err := d.Run(context.Background())
	require.NoError(t, err, "a per-call error must not terminate the driver")

	assert.EqualValues(t, 1, telemetryErrs)
	// request 2's error surfaces as Rejected, dominating the batch even
	// though requests 1 and 3 delivered.
	assert.Equal(t, finalization.Rejected, <-recv)
}

func TestDriverResponseRejectedOverridesOkCall(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	input := make(chan testRequest, 1)
	input <- newFinalizedRequest(1, batch, 1, 1)
	close(input)
	batch.Done()

	svc := &fakeService{statusOf: func(id int) (finalization.EventStatus, error) {
		return finalization.Rejected, nil // transport Ok, but response says Rejected
	}}

	d := New[testRequest, testResponse](svc, input)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, finalization.Rejected, <-recv)
}

// readyGateService returns readyErr from Ready immediately, to test that
// poll_ready failures terminate the driver.
type readyGateService struct {
	readyErr error
}

func (s *readyGateService) Ready(ctx context.Context) error { return s.readyErr }
func (s *readyGateService) Call(ctx context.Context, req testRequest) (testResponse, error) {
	return testResponse{status: finalization.Delivered}, nil
}

func TestDriverTerminatesOnFatalReadyError(t *testing.T) {
	input := make(chan testRequest, 1)
	input <- testRequest{id: 1, finalizer: finalization.NewEventFinalizer(nil), events: 1, bytes: 1}
	close(input)

	fatal := errors.New("service unavailable")
	svc := &readyGateService{readyErr: fatal}

	d := New[testRequest, testResponse](svc, input)
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
}

func TestDriverChunksLargeInputAndCompletesEventually(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	const n = 3000 // exceeds the default 1024 chunk size several times over
	input := make(chan testRequest, n)
	for i := 0; i < n; i++ {
		input <- newFinalizedRequest(i, batch, 1, 1)
	}
	close(input)
	batch.Done()

	svc := &fakeService{statusOf: func(id int) (finalization.EventStatus, error) {
		return finalization.Delivered, nil
	}}

	d := New[testRequest, testResponse](svc, input)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not complete a large chunked input in time")
	}
	assert.Equal(t, finalization.Delivered, <-recv)
	assert.EqualValues(t, n, svc.calls)
}

func TestDriverContextCancellation(t *testing.T) {
	input := make(chan testRequest)
	svc := &fakeService{statusOf: func(id int) (finalization.EventStatus, error) {
		return finalization.Delivered, nil
	}}
	d := New[testRequest, testResponse](svc, input)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop after context cancellation")
	}
}

// TelemetryFuncs is a lightweight Telemetry adapter for tests.
type TelemetryFuncs struct {
	onError     func(err error)
	onDelivered func(eventCount, byteSize, bytesSent int)
}

func (t TelemetryFuncs) CallError(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}

func (t TelemetryFuncs) Delivered(eventCount, byteSize, bytesSent int) {
	if t.onDelivered != nil {
		t.onDelivered(eventCount, byteSize, bytesSent)
	}
}
