// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package component defines the builder contracts the topology
// supervisor drives: every source, transform, and sink is
// built from its configuration plus whatever channels the graph wires
// to it, and yields a runnable task and an optional healthcheck.
package component

import (
	"context"

	"github.com/flowcore/pipeline/capacity"
	"github.com/flowcore/pipeline/event"
	"github.com/flowcore/pipeline/fanout"
	"github.com/flowcore/pipeline/finalization"
)

// Batch is the unit carried on the dataflow's internal channels: a
// slice of events that share a disposition lifecycle via notifier.
// Weight reports the event count, so capacity.Channel's permits measure
// batch cardinality -- sinks that care about byte size instead should
// track it themselves and wrap Batch if needed.
type Batch struct {
	Events   []event.Event
	Notifier *finalization.BatchNotifier
}

func (b Batch) Weight() int64 {
	if len(b.Events) == 0 {
		return 1
	}
	return int64(len(b.Events))
}

// Kind identifies a component's role in the graph.
type Kind int

const (
	KindSource Kind = iota
	KindTransform
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTransform:
		return "transform"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Deps are the channels the supervisor wires to a component before
// building it: Input is nil for sources (they have nothing upstream),
// Output is nil for sinks (they have nothing downstream).
type Deps struct {
	Input  *capacity.Channel[Batch]
	Output *fanout.Dispatcher[Batch]
}

// Healthcheck reports whether a running component is healthy.
type Healthcheck func(ctx context.Context) error

// Handle is what Build returns: the task to run and an optional
// healthcheck (nil if the component has none).
type Handle struct {
	Run         func(ctx context.Context) error
	Healthcheck Healthcheck
}

// Builder constructs a component instance from its decoded
// configuration and the dependencies the graph has wired to it.
type Builder interface {
	Build(ctx context.Context, name string, spec any, deps Deps) (Handle, error)
}

// BuilderFunc adapts a plain function to Builder.
type BuilderFunc func(ctx context.Context, name string, spec any, deps Deps) (Handle, error)

func (f BuilderFunc) Build(ctx context.Context, name string, spec any, deps Deps) (Handle, error) {
	return f(ctx, name, spec, deps)
}
