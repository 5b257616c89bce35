// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package remap implements a synchronous field-mutation Transform:
// each event in a batch is rewritten in place by a set of configured
// field assignments and deletions. There is no embedded expression
// language; callers supply assignments as data instead of source text.
package remap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/event"
)

// Assignment sets Fields[Path] = Value on every Log and Trace event;
// both share the same LogPayload shape, so assignments apply to them
// uniformly. Metric events pass through unchanged.
type Assignment struct {
	Path  string
	Value event.Value
}

// Spec configures a remap instance: an ordered list of field
// assignments applied to every Log/Trace event's Fields map, and a list
// of paths to delete. Order matters: assignments and deletions both
// apply in the order given, so a later entry can overwrite or remove an
// earlier one's effect.
type Spec struct {
	Set    []Assignment
	Delete []string
	// DropOnError is accepted but not read by the transform: remap's
	// assignments and deletions cannot fail -- there is no expression
	// evaluation -- so no event is ever dropped or rejected by remap.
	// Defaults to false.
	DropOnError bool
}

// Builder constructs remap component instances.
var Builder component.BuilderFunc = build

func build(_ context.Context, name string, spec any, deps component.Deps) (component.Handle, error) {
	s, ok := spec.(*Spec)
	if !ok {
		return component.Handle{}, fmt.Errorf("remap: unexpected spec type %T", spec)
	}
	if deps.Input == nil || deps.Output == nil {
		return component.Handle{}, fmt.Errorf("remap %q: needs both input and output wired", name)
	}

	t := &transform{name: name, spec: *s, deps: deps, logger: zap.NewNop()}
	return component.Handle{Run: t.run}, nil
}

type transform struct {
	name   string
	spec   Spec
	deps   component.Deps
	logger *zap.Logger
}

// run implements the per-batch receive/mutate/forward loop shared by
// every synchronous Transform: a Transform
// must preserve every event's finalizer reference even as it rewrites
// the payload, never silently dropping a reference without calling
// DropFinalizer.
func (t *transform) run(ctx context.Context) error {
	for {
		lease, err := t.deps.Input.Receive(ctx)
		if err != nil {
			return err
		}
		if lease == nil {
			return nil
		}
		batch := lease.Item()
		lease.Release()

		for i := range batch.Events {
			t.apply(&batch.Events[i])
		}

		if err := t.deps.Output.Send(ctx, batch); err != nil {
			return fmt.Errorf("remap %q: send: %w", t.name, err)
		}
	}
}

// apply mutates ev in place according to the configured assignments and
// deletions. Metric events have no Fields map and pass through
// untouched.
func (t *transform) apply(ev *event.Event) {
	if ev.Class() == event.ClassMetric {
		return
	}

	payload := ev.Log()
	if ev.Class() == event.ClassTrace {
		payload = ev.Trace()
	}
	if payload.Fields == nil {
		return
	}

	for _, a := range t.spec.Set {
		payload.Fields.Set(a.Path, a.Value)
	}
	for _, p := range t.spec.Delete {
		payload.Fields.Delete(p)
	}
}
