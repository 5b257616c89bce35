// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/pipeline/event"
)

func logEvent() event.Event {
	return event.NewLog(event.NewLogPayload())
}

func TestBatcherFlushesOnMaxItems(t *testing.T) {
	b := New(Config{MaxItems: 3})
	ctx := context.Background()

	go func() {
		for i := 0; i < 3; i++ {
			require.NoError(t, b.Add(ctx, logEvent()))
		}
	}()

	batch := <-b.Out()
	assert.Len(t, batch.Events, 3)
	b.Shutdown()
}

func TestBatcherFlushesOnMaxAge(t *testing.T) {
	b := New(Config{MaxAge: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, logEvent()))

	select {
	case batch := <-b.Out():
		assert.Len(t, batch.Events, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for age-triggered flush")
	}
	b.Shutdown()
}

func TestBatcherFlushesOnShutdown(t *testing.T) {
	b := New(Config{MaxItems: 1000})
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, logEvent()))

	done := make(chan struct{})
	go func() {
		b.Shutdown()
		close(done)
	}()

	batch := <-b.Out()
	assert.Len(t, batch.Events, 1)
	<-done
}

func TestBatcherPartitionsIndependently(t *testing.T) {
	b := New(Config{
		MaxItems: 1,
		Partition: func(ev event.Event) string {
			return ev.Routing().Namespace
		},
	})
	ctx := context.Background()

	a := logEvent()
	a.SetRouting(event.Routing{Namespace: "a"})
	c := logEvent()
	c.SetRouting(event.Routing{Namespace: "b"})

	go func() {
		require.NoError(t, b.Add(ctx, a))
		require.NoError(t, b.Add(ctx, c))
	}()

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		batch := <-b.Out()
		seen[batch.Key] += len(batch.Events)
	}
	assert.Equal(t, 1, seen["a"])
	assert.Equal(t, 1, seen["b"])
	b.Shutdown()
}

func TestBatcherAddAfterShutdownFails(t *testing.T) {
	b := New(Config{})
	b.Shutdown()
	err := b.Add(context.Background(), logEvent())
	assert.ErrorIs(t, err, ErrShuttingDown)
}
