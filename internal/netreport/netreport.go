// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package netreport adds network-level observability to a sink's
// driver.Driver: bytes sent, bytes sent on the wire (post-compression),
// and call errors, each broken down by component name.
package netreport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reporter implements driver.Telemetry, recording per-sink call outcomes
// as prometheus counters. One Reporter is created per sink component
// name and registered against a shared *prometheus.Registry.
type Reporter struct {
	sentBytes     prometheus.Counter
	sentWireBytes prometheus.Counter
	eventsSent    prometheus.Counter
	callErrors    prometheus.Counter
}

// Metrics groups the counter vectors a topology registers once, shared
// across every sink's Reporter.
type Metrics struct {
	sentBytes     *prometheus.CounterVec
	sentWireBytes *prometheus.CounterVec
	eventsSent    *prometheus.CounterVec
	callErrors    *prometheus.CounterVec
}

// NewMetrics registers the counter vectors on reg and returns a factory
// for per-component Reporters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_sink_sent_bytes_total",
			Help: "Uncompressed bytes sent by a sink component.",
		}, []string{"component"}),
		sentWireBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_sink_sent_wire_bytes_total",
			Help: "On-wire bytes sent by a sink component, after compression.",
		}, []string{"component"}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_sink_events_sent_total",
			Help: "Events successfully delivered by a sink component.",
		}, []string{"component"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_sink_call_errors_total",
			Help: "Downstream call errors observed by a sink component.",
		}, []string{"component"}),
	}
	reg.MustRegister(m.sentBytes, m.sentWireBytes, m.eventsSent, m.callErrors)
	return m
}

// For returns the Reporter for a named sink component.
func (m *Metrics) For(component string) *Reporter {
	return &Reporter{
		sentBytes:     m.sentBytes.WithLabelValues(component),
		sentWireBytes: m.sentWireBytes.WithLabelValues(component),
		eventsSent:    m.eventsSent.WithLabelValues(component),
		callErrors:    m.callErrors.WithLabelValues(component),
	}
}

// CallError implements driver.Telemetry.
func (r *Reporter) CallError(error) {
	r.callErrors.Inc()
}

// Delivered implements driver.Telemetry.
func (r *Reporter) Delivered(eventCount, byteSize, bytesSent int) {
	r.eventsSent.Add(float64(eventCount))
	r.sentBytes.Add(float64(byteSize))
	r.sentWireBytes.Add(float64(bytesSent))
}
