// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package netreport

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestReporterRecordsDeliveredAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	r := metrics.For("test-sink")
	r.Delivered(10, 100, 80)
	r.CallError(errors.New("boom"))

	assert.Equal(t, float64(10), counterValue(t, metrics.eventsSent.WithLabelValues("test-sink")))
	assert.Equal(t, float64(100), counterValue(t, metrics.sentBytes.WithLabelValues("test-sink")))
	assert.Equal(t, float64(80), counterValue(t, metrics.sentWireBytes.WithLabelValues("test-sink")))
	assert.Equal(t, float64(1), counterValue(t, metrics.callErrors.WithLabelValues("test-sink")))
}

func TestReporterPerComponentIsolation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.For("a").Delivered(1, 1, 1)
	metrics.For("b").Delivered(2, 2, 2)

	assert.Equal(t, float64(1), counterValue(t, metrics.eventsSent.WithLabelValues("a")))
	assert.Equal(t, float64(2), counterValue(t, metrics.eventsSent.WithLabelValues("b")))
}
