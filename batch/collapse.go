// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"sort"
	"strconv"
	"time"

	"github.com/flowcore/pipeline/event"
	"github.com/flowcore/pipeline/finalization"
)

// CollapseGranularity is the timestamp truncation counters are grouped
// at before collapsing. One second matches what downstream protocols
// typically key a series on; destinations that need finer grouping
// can override it.
var CollapseGranularity = time.Second

// Collapsed is one counter surviving collapse: its value (summed across
// every contributing event sharing its series) and the union of their
// finalizers.
type Collapsed struct {
	Metric     event.Metric
	Finalizers *finalization.FinalizerSet
}

// Collapse sums counters in events that share the same (name, namespace,
// tags, timestamp truncated to CollapseGranularity) series key into one,
// merging their finalizer sets, and returns the survivors sorted by
// series key for compression friendliness.
// Events are expected to already be Metric/Counter (the batcher's
// partitioning is assumed to have routed non-counter events elsewhere);
// any other event is passed through as its own singleton entry, keyed
// uniquely so it never collapses with another.
//
// Time complexity is O(n log n) (the final sort). Extra space is O(n),
// not O(1): grouping uses a map and an order slice, both preallocated
// to the input length.
func Collapse(events []event.Event) []Collapsed {
	order := make([]string, 0, len(events))
	groups := make(map[string]*Collapsed, len(events))

	for i, ev := range events {
		if ev.Class() != event.ClassMetric || ev.Metric().Value.Kind() != event.MetricCounter {
			key := passthroughKey(i)
			fset := finalization.NewFinalizerSet()
			fset.Add(ev.Finalizer())
			order = append(order, key)
			groups[key] = &Collapsed{Metric: ev.Metric(), Finalizers: fset}
			continue
		}

		m := ev.Metric()
		key := collapseKey(m)
		g, ok := groups[key]
		if !ok {
			g = &Collapsed{Metric: m, Finalizers: finalization.NewFinalizerSet()}
			groups[key] = g
			order = append(order, key)
		} else {
			summed := g.Metric.Clone()
			summed.Value = event.CounterValue(g.Metric.Value.Scalar() + m.Value.Scalar())
			g.Metric = summed
		}
		g.Finalizers.Add(ev.Finalizer())
	}

	out := make([]Collapsed, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	sort.Slice(out, func(i, j int) bool {
		return collapseKey(out[i].Metric) < collapseKey(out[j].Metric)
	})
	return out
}

func collapseKey(m event.Metric) string {
	ts := ""
	if m.Timestamp != nil {
		ts = m.Timestamp.Truncate(CollapseGranularity).Format(time.RFC3339Nano)
	}
	return m.SeriesKey() + "\x00" + ts
}

// passthroughKey gives a non-counter event a series key that cannot
// collide with any real metric's, so it is never merged with another
// entry (collapseKey always contains a NUL byte; a decimal index never
// does, and distinct indices give distinct keys).
func passthroughKey(i int) string {
	const prefix = "\x01passthrough\x01"
	return prefix + strconv.Itoa(i)
}
