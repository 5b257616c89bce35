// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gensource implements a synthetic Source: on a fixed interval
// it forms a batch of generated log events and sends it downstream,
// exercising the batch/finalizer protocol without depending on an
// external system.
package gensource

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/event"
	"github.com/flowcore/pipeline/finalization"
)

// Spec configures a gensource instance. Registered against a config
// type name via config.Registry.
type Spec struct {
	// Interval between generated batches.
	Interval time.Duration
	// BatchSize is the number of events per generated batch.
	BatchSize int
	// Namespace tags generated events, e.g. for routing in a
	// multi-tenant topology.
	Namespace string
}

func (s *Spec) setDefaults() {
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
}

// Builder constructs gensource component instances.
var Builder component.BuilderFunc = build

func build(_ context.Context, name string, spec any, deps component.Deps) (component.Handle, error) {
	s, ok := spec.(*Spec)
	if !ok {
		return component.Handle{}, fmt.Errorf("gensource: unexpected spec type %T", spec)
	}
	s.setDefaults()
	if deps.Output == nil {
		return component.Handle{}, fmt.Errorf("gensource %q: no output wired", name)
	}

	g := &generator{name: name, spec: *s, output: deps.Output, logger: zap.NewNop()}
	return component.Handle{Run: g.run}, nil
}

type generator struct {
	name   string
	spec   Spec
	output interface {
		Send(ctx context.Context, batch component.Batch) error
	}
	logger *zap.Logger
}

func (g *generator) run(ctx context.Context) error {
	ticker := time.NewTicker(g.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.emit(ctx); err != nil {
				return err
			}
		}
	}
}

// emit forms one batch: a BatchNotifier
// is created, every event gets its own EventFinalizer referencing it,
// and Done is called once every finalizer has been attached.
func (g *generator) emit(ctx context.Context) error {
	notifier, statusCh := finalization.NewBatchNotifier()

	events := make([]event.Event, g.spec.BatchSize)
	for i := range events {
		payload := event.NewLogPayload()
		payload.Fields.Set("message", event.StringValue(fmt.Sprintf("%s-%d", g.name, rand.Int63())))
		payload.Fields.Set("sequence", event.IntegerValue(int64(i)))

		ev := event.NewLog(payload)
		ev.SetRouting(event.Routing{Namespace: g.spec.Namespace})
		ev.AttachFinalizer(finalization.NewEventFinalizer(notifier))
		events[i] = ev
	}
	notifier.Done()

	batch := component.Batch{Events: events, Notifier: notifier}
	if err := g.output.Send(ctx, batch); err != nil {
		return fmt.Errorf("gensource %q: send: %w", g.name, err)
	}

	go func() {
		select {
		case status := <-statusCh:
			if status != finalization.Delivered {
				g.logger.Warn("batch finished with non-delivered status",
					zap.String("source", g.name), zap.Stringer("status", status))
			}
		case <-ctx.Done():
		}
	}()
	return nil
}
