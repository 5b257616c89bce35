// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"testing"

	"github.com/flowcore/pipeline/finalization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSharesFinalizerButNotPayload(t *testing.T) {
	payload := NewLogPayload()
	payload.Fields.Set("msg", StringValue("hello"))
	e := NewLog(payload)

	clone := e.Clone()
	clone.Log().Fields.Set("msg", StringValue("goodbye"))

	orig, _ := e.Log().Fields.Get("msg")
	assert.Equal(t, "hello", orig.String(), "clone must not share payload storage")

	assert.Equal(t, e.Finalizer(), clone.Finalizer().AddRef(), "clone should reference the same underlying finalizer")
	clone.Finalizer().Release()
}

func TestAttachedFinalizerTracksBatch(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	payload := NewLogPayload()
	e := NewLog(payload)
	e.DropFinalizer()
	e.AttachFinalizer(finalization.NewEventFinalizer(batch))
	batch.Done()

	e.Finalizer().Update(finalization.Delivered)
	e.Finalizer().Release()

	status := <-recv
	assert.Equal(t, finalization.Delivered, status)
}

func TestDropFinalizerContributesIdentity(t *testing.T) {
	batch, recv := finalization.NewBatchNotifier()
	e1 := NewLog(NewLogPayload())
	e1.DropFinalizer()
	e1.AttachFinalizer(finalization.NewEventFinalizer(batch))

	e2 := NewLog(NewLogPayload())
	e2.DropFinalizer()
	e2.AttachFinalizer(finalization.NewEventFinalizer(batch))
	batch.Done()

	e1.DropFinalizer() // never updated, contributes Dropped (identity)
	e2.Finalizer().Update(finalization.Errored)
	e2.Finalizer().Release()

	assert.Equal(t, finalization.Errored, <-recv)
}

func TestMetricEventRoundTrip(t *testing.T) {
	m := Metric{Name: "requests", Kind: Absolute, Value: CounterValue(3)}
	e := NewMetric(m)
	require.Equal(t, ClassMetric, e.Class())
	assert.Equal(t, "requests", e.Metric().Name)
	e.DropFinalizer()
}
