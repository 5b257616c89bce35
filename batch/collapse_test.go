// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/pipeline/event"
)

func counterEvent(name string, v float64, ts time.Time) event.Event {
	m := event.Metric{Name: name, Timestamp: &ts, Kind: event.Incremental, Value: event.CounterValue(v)}
	return event.NewMetric(m)
}

// TestCollapseSums: a=1@t, a=1@t, a=1@t collapses
// to one counter a=3@t with the union of the three finalizer sets.
func TestCollapseSums(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		counterEvent("a", 1, ts),
		counterEvent("a", 1, ts),
		counterEvent("a", 1, ts),
	}

	out := Collapse(events)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Metric.Name)
	assert.Equal(t, float64(3), out[0].Metric.Value.Scalar())
	assert.Equal(t, 3, out[0].Finalizers.Len())
}

func TestCollapseKeepsDistinctSeriesSeparate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		counterEvent("a", 1, ts),
		counterEvent("b", 2, ts),
	}

	out := Collapse(events)
	require.Len(t, out, 2)
}

func TestCollapseRespectsGranularity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		counterEvent("a", 1, base),
		counterEvent("a", 1, base.Add(500*time.Millisecond)),
		counterEvent("a", 1, base.Add(2*time.Second)),
	}

	out := Collapse(events)
	require.Len(t, out, 2) // first two fall in the same second, third doesn't
}

func TestCollapseIsSortedBySeriesKey(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []event.Event{
		counterEvent("zeta", 1, ts),
		counterEvent("alpha", 1, ts),
	}

	out := Collapse(events)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Metric.Name)
	assert.Equal(t, "zeta", out[1].Metric.Name)
}
