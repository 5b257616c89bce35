// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricSeriesKeyIgnoresValue(t *testing.T) {
	tags := NewTagMultimap()
	tags.Insert("host", strPtr("a"))
	m1 := Metric{Name: "cpu", Namespace: "system", Tags: tags, Kind: Absolute, Value: GaugeValue(1)}
	m2 := Metric{Name: "cpu", Namespace: "system", Tags: tags, Kind: Absolute, Value: GaugeValue(99)}
	assert.Equal(t, m1.SeriesKey(), m2.SeriesKey())
}

func TestMetricSeriesKeyDistinguishesNamespace(t *testing.T) {
	m1 := Metric{Name: "cpu", Namespace: "a"}
	m2 := Metric{Name: "cpu", Namespace: "b"}
	assert.NotEqual(t, m1.SeriesKey(), m2.SeriesKey())
}

func TestMetricCloneIndependence(t *testing.T) {
	tags := NewTagMultimap()
	tags.Insert("host", strPtr("a"))
	m := Metric{Name: "cpu", Tags: tags, Value: CounterValue(1)}
	clone := m.Clone()
	clone.Tags.Replace("host", strPtr("b"))
	assert.Equal(t, "a", *m.Tags.Get("host")[0])
	assert.Equal(t, "b", *clone.Tags.Get("host")[0])
}

func TestAggregatedHistogramValueAccessors(t *testing.T) {
	v := AggregatedHistogramValue([]float64{1, 2, 5}, []uint64{3, 4, 5}, 12, 42.5)
	bounds, counts, count, sum := v.HistogramBuckets()
	require.Equal(t, []float64{1, 2, 5}, bounds)
	require.Equal(t, []uint64{3, 4, 5}, counts)
	assert.Equal(t, uint64(12), count)
	assert.Equal(t, 42.5, sum)
}

func TestAggregatedSummaryValueAccessors(t *testing.T) {
	v := AggregatedSummaryValue([]Quantile{{Quantile: 0.5, Value: 10}}, 100, 1000)
	quantiles, count, sum := v.SummaryQuantiles()
	require.Len(t, quantiles, 1)
	assert.Equal(t, 0.5, quantiles[0].Quantile)
	assert.Equal(t, uint64(100), count)
	assert.Equal(t, 1000.0, sum)
}

func TestMetricValueCloneDeepCopiesSlices(t *testing.T) {
	v := DistributionValue([]Sample{{Value: 1, Rate: 1}})
	clone := v.Clone()
	clone.Samples()[0].Value = 99
	assert.Equal(t, float64(1), v.Samples()[0].Value)
}
