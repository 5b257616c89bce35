// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "github.com/flowcore/pipeline/finalization"

// Class identifies which variant of Event is populated.
type Class int

const (
	ClassLog Class = iota
	ClassMetric
	ClassTrace
)

func (c Class) String() string {
	switch c {
	case ClassLog:
		return "log"
	case ClassMetric:
		return "metric"
	case ClassTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// LogPayload is the Log/Trace-shaped payload: an ordered mapping of
// field paths to values, plus a separate metadata mapping.
type LogPayload struct {
	Fields   *OrderedMap
	Metadata *OrderedMap
}

func NewLogPayload() LogPayload {
	return LogPayload{Fields: NewOrderedMap(), Metadata: NewOrderedMap()}
}

func (p LogPayload) Clone() LogPayload {
	return LogPayload{Fields: p.Fields.Clone(), Metadata: p.Metadata.Clone()}
}

// Routing carries optional routing metadata (namespace, API key, etc.)
// that sinks may use to select a destination, independent of the event
// payload itself.
type Routing struct {
	Namespace string
	APIKey    string
}

// Event is the dataflow runtime's unit of data: a tagged variant over
// Log, Metric, and Trace, each carrying a finalizer set. Events are
// owned by exactly one holder at a time; Clone produces an independent
// payload but a *shared* set of finalizer references.
type Event struct {
	class   Class
	log     LogPayload
	trace   LogPayload
	metric  Metric
	routing Routing

	finalizers *finalization.EventFinalizer
}

// NewLog constructs a Log event with a fresh (empty) finalizer.
func NewLog(payload LogPayload) Event {
	return Event{class: ClassLog, log: payload, finalizers: finalization.NewEventFinalizer(nil)}
}

// NewTrace constructs a Trace event with a fresh (empty) finalizer.
func NewTrace(payload LogPayload) Event {
	return Event{class: ClassTrace, trace: payload, finalizers: finalization.NewEventFinalizer(nil)}
}

// NewMetric constructs a Metric event with a fresh (empty) finalizer.
func NewMetric(m Metric) Event {
	return Event{class: ClassMetric, metric: m, finalizers: finalization.NewEventFinalizer(nil)}
}

func (e Event) Class() Class          { return e.class }
func (e Event) Log() LogPayload       { return e.log }
func (e Event) Trace() LogPayload     { return e.trace }
func (e Event) Metric() Metric        { return e.metric }
func (e Event) Routing() Routing      { return e.routing }
func (e *Event) SetRouting(r Routing) { e.routing = r }

// Finalizer returns the event's shared finalizer reference. The
// constructors give every event a fresh finalizer tied to no batch, so
// it is nil only after DropFinalizer.
func (e Event) Finalizer() *finalization.EventFinalizer { return e.finalizers }

// AttachFinalizer overrides the event's finalizer reference. Used by a
// Source when forming a batch: one EventFinalizer per event, all
// referencing the same BatchNotifier.
func (e *Event) AttachFinalizer(f *finalization.EventFinalizer) {
	e.finalizers = f
}

// DropFinalizer detaches this event's finalizer reference without
// updating its status -- equivalent to letting a Dropped finalizer's
// owner go out of scope: it contributes the lattice
// identity to the batch.
func (e *Event) DropFinalizer() {
	if e.finalizers != nil {
		e.finalizers.Release()
		e.finalizers = nil
	}
}

// Clone produces an independent copy of the event's payload. The
// finalizer reference is shared (ref-counted): the clone's payload is
// its own, its acknowledgement identity is not.
// Every produced copy must preserve the finalizer reference; callers that want to signal "this copy is
// dropped" should call DropFinalizer on the copy instead of omitting
// AddRef.
func (e Event) Clone() Event {
	clone := e
	switch e.class {
	case ClassLog:
		clone.log = e.log.Clone()
	case ClassTrace:
		clone.trace = e.trace.Clone()
	case ClassMetric:
		clone.metric = e.metric.Clone()
	}
	if e.finalizers != nil {
		clone.finalizers = e.finalizers.AddRef()
	}
	return clone
}
