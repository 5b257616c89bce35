// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "time"

// MetricKind distinguishes whether a metric's value is a delta
// contribution (Incremental) or a point-in-time reading (Absolute).
type MetricKind int

const (
	Incremental MetricKind = iota
	Absolute
)

// MetricValueKind identifies which branch of MetricValue is populated.
type MetricValueKind int

const (
	MetricCounter MetricValueKind = iota
	MetricGauge
	MetricSet
	MetricDistribution
	MetricAggregatedHistogram
	MetricAggregatedSummary
	MetricSketch
)

// Sample is one observation in a Distribution metric value.
type Sample struct {
	Value float64
	Rate  uint32
}

// Quantile is one (quantile, value) pair in an AggregatedSummary.
type Quantile struct {
	Quantile float64
	Value    float64
}

// MetricValue is the tagged union of the seven metric value shapes.
type MetricValue struct {
	kind MetricValueKind

	scalar float64 // Counter, Gauge

	set map[string]struct{} // Set

	samples []Sample // Distribution

	bucketBounds []float64 // AggregatedHistogram
	bucketCounts []uint64  // AggregatedHistogram
	histCount    uint64
	histSum      float64

	quantiles    []Quantile // AggregatedSummary
	summaryCount uint64
	summarySum   float64

	sketch []byte // Sketch: opaque serialized sketch (e.g. DDSketch), out of scope to decode
}

func (k MetricValueKind) String() string {
	switch k {
	case MetricCounter:
		return "counter"
	case MetricGauge:
		return "gauge"
	case MetricSet:
		return "set"
	case MetricDistribution:
		return "distribution"
	case MetricAggregatedHistogram:
		return "aggregated_histogram"
	case MetricAggregatedSummary:
		return "aggregated_summary"
	case MetricSketch:
		return "sketch"
	default:
		return "unknown"
	}
}

func CounterValue(v float64) MetricValue {
	return MetricValue{kind: MetricCounter, scalar: v}
}

func GaugeValue(v float64) MetricValue {
	return MetricValue{kind: MetricGauge, scalar: v}
}

func SetValue(members map[string]struct{}) MetricValue {
	return MetricValue{kind: MetricSet, set: members}
}

func DistributionValue(samples []Sample) MetricValue {
	return MetricValue{kind: MetricDistribution, samples: samples}
}

func AggregatedHistogramValue(bounds []float64, counts []uint64, count uint64, sum float64) MetricValue {
	return MetricValue{
		kind:         MetricAggregatedHistogram,
		bucketBounds: bounds,
		bucketCounts: counts,
		histCount:    count,
		histSum:      sum,
	}
}

func AggregatedSummaryValue(quantiles []Quantile, count uint64, sum float64) MetricValue {
	return MetricValue{
		kind:         MetricAggregatedSummary,
		quantiles:    quantiles,
		summaryCount: count,
		summarySum:   sum,
	}
}

func SketchValue(serialized []byte) MetricValue {
	return MetricValue{kind: MetricSketch, sketch: serialized}
}

func (v MetricValue) Kind() MetricValueKind    { return v.kind }
func (v MetricValue) Scalar() float64          { return v.scalar }
func (v MetricValue) Set() map[string]struct{} { return v.set }
func (v MetricValue) Samples() []Sample        { return v.samples }
func (v MetricValue) HistogramBuckets() ([]float64, []uint64, uint64, float64) {
	return v.bucketBounds, v.bucketCounts, v.histCount, v.histSum
}
func (v MetricValue) SummaryQuantiles() ([]Quantile, uint64, float64) {
	return v.quantiles, v.summaryCount, v.summarySum
}
func (v MetricValue) SketchBytes() []byte { return v.sketch }

// Clone deep-copies a MetricValue.
func (v MetricValue) Clone() MetricValue {
	clone := v
	if v.set != nil {
		clone.set = make(map[string]struct{}, len(v.set))
		for k := range v.set {
			clone.set[k] = struct{}{}
		}
	}
	if v.samples != nil {
		clone.samples = append([]Sample(nil), v.samples...)
	}
	if v.bucketBounds != nil {
		clone.bucketBounds = append([]float64(nil), v.bucketBounds...)
		clone.bucketCounts = append([]uint64(nil), v.bucketCounts...)
	}
	if v.quantiles != nil {
		clone.quantiles = append([]Quantile(nil), v.quantiles...)
	}
	if v.sketch != nil {
		clone.sketch = append([]byte(nil), v.sketch...)
	}
	return clone
}

// Metric is the Metric-shaped Event payload.
type Metric struct {
	Name      string
	Namespace string
	Timestamp *time.Time
	Tags      *TagMultimap
	Kind      MetricKind
	Value     MetricValue
}

func (m Metric) Clone() Metric {
	clone := m
	if m.Timestamp != nil {
		t := *m.Timestamp
		clone.Timestamp = &t
	}
	if m.Tags != nil {
		clone.Tags = m.Tags.Clone()
	}
	clone.Value = m.Value.Clone()
	return clone
}

// SeriesKey returns the deterministic (name, namespace, tags) key used
// for counter collapse, without the timestamp component -- the
// timestamp granularity is applied by the caller (see batch.Collapse).
func (m Metric) SeriesKey() string {
	key := m.Namespace + "\x00" + m.Name + "\x00"
	if m.Tags != nil {
		key += m.Tags.SeriesKey()
	}
	return key
}
