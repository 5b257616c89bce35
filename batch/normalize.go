// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"fmt"
	"sync"

	"github.com/flowcore/pipeline/event"
)

// Normalizer converts Absolute counters/gauges to Incremental deltas
// and splits AggregatedSummary values into their component scalar
// metrics, since aggregated summaries are not themselves normalisable
// as a single delta.
//
// A Normalizer is stateful: converting an Absolute series to deltas
// requires remembering the last observed absolute value per series, so
// one Normalizer must be shared across every event belonging to the same
// series, and must not be recreated per batch.
type Normalizer struct {
	mu   sync.Mutex
	last map[string]float64
}

// NewNormalizer creates an empty Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{last: make(map[string]float64)}
}

// Normalize converts ev according to its Metric's kind and value shape.
// Non-metric events, and metric kinds that need no conversion, pass
// through unchanged as a single-element slice. The first Absolute
// observation of a series establishes the baseline and is dropped (its
// finalizer is released as Dropped, the lattice identity): there is no
// prior value yet to compute a delta against.
func (n *Normalizer) Normalize(ev event.Event) []event.Event {
	if ev.Class() != event.ClassMetric {
		return []event.Event{ev}
	}
	m := ev.Metric()
	switch m.Value.Kind() {
	case event.MetricAggregatedSummary:
		return n.splitSummary(ev, m)
	case event.MetricCounter, event.MetricGauge:
		if m.Kind == event.Absolute {
			return n.toIncremental(ev, m)
		}
	}
	return []event.Event{ev}
}

func (n *Normalizer) toIncremental(ev event.Event, m event.Metric) []event.Event {
	key := m.SeriesKey()
	n.mu.Lock()
	prev, ok := n.last[key]
	n.last[key] = m.Value.Scalar()
	n.mu.Unlock()

	if !ok {
		ev.DropFinalizer()
		return nil
	}

	delta := m.Value.Scalar() - prev
	out := m.Clone()
	out.Kind = event.Incremental
	switch m.Value.Kind() {
	case event.MetricCounter:
		out.Value = event.CounterValue(delta)
	case event.MetricGauge:
		out.Value = event.GaugeValue(delta)
	}

	res := event.NewMetric(out)
	res.AttachFinalizer(ev.Finalizer())
	res.SetRouting(ev.Routing())
	return []event.Event{res}
}

// splitSummary emits one Incremental gauge per quantile plus sum and
// count scalars, all sharing references to ev's finalizer so the
// originating batch is only credited once regardless of how many
// component metrics the split produced.
func (n *Normalizer) splitSummary(ev event.Event, m event.Metric) []event.Event {
	quantiles, count, sum := m.Value.SummaryQuantiles()
	out := make([]event.Event, 0, len(quantiles)+2)

	mk := func(suffix string, v float64) event.Event {
		mm := m.Clone()
		mm.Name = m.Name + "_" + suffix
		mm.Kind = event.Incremental
		mm.Value = event.GaugeValue(v)
		res := event.NewMetric(mm)
		res.AttachFinalizer(ev.Finalizer().AddRef())
		res.SetRouting(ev.Routing())
		return res
	}

	for _, q := range quantiles {
		out = append(out, mk(fmt.Sprintf("quantile_%g", q.Quantile), q.Value))
	}
	out = append(out, mk("sum", sum))
	out = append(out, mk("count", float64(count)))

	// The AddRef calls above each took their own reference; release the
	// original handle now that every split-out event holds its own.
	ev.DropFinalizer()
	return out
}
