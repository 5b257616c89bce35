// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology builds, reconciles, and shuts down the dataflow
// component graph: build the pieces, run healthchecks, diff a new
// configuration against the running one, and drain everything on a
// deadline-bounded shutdown.
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/flowcore/pipeline/capacity"
	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/fanout"
)

// State is a component's position in the per-component state machine:
// Absent -> Configured -> Building -> Running ->
// (Stopping|Rebuilding) -> Absent.
type State int

const (
	Absent State = iota
	Configured
	Building
	Running
	Stopping
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Configured:
		return "configured"
	case Building:
		return "building"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Rebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// ErrDataDirChanged is returned by Reconcile when the new configuration
// changes the topology's data directory: this is rejected outright
// rather than attempted.
var ErrDataDirChanged = errors.New("topology: data directory changed, reload aborted")

// Config describes one component to build: its name, role, upstream
// component names, decoded settings (compared with reflect.DeepEqual to
// detect changes across a reload), and the builder that constructs it.
type Config struct {
	Name    string
	Kind    component.Kind
	Inputs  []string
	Spec    any
	Builder component.Builder
}

type node struct {
	cfg    Config
	state  State
	input  *capacity.Channel[component.Batch]
	output *fanout.Dispatcher[component.Batch]
	health component.Healthcheck

	runCtx context.Context
	cancel context.CancelFunc
	done   chan error
}

// Supervisor owns the live component graph.
type Supervisor struct {
	logger     *zap.Logger
	dataDir    string
	chanLimit  int64
	shutdownDL time.Duration

	mu    sync.Mutex
	nodes map[string]*node

	abort chan error // fatal component-task failures land here
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *zap.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithChannelLimit sets the permit limit every component's input
// capacity.Channel is constructed with.
func WithChannelLimit(n int64) Option { return func(s *Supervisor) { s.chanLimit = n } }

// WithShutdownDeadline bounds how long Shutdown waits for transform and
// sink tasks to drain before giving up and returning.
func WithShutdownDeadline(d time.Duration) Option {
	return func(s *Supervisor) { s.shutdownDL = d }
}

// New creates an empty Supervisor. dataDir identifies the topology's
// configured data directory; changing it across a Reconcile call is
// rejected.
func New(dataDir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:     zap.NewNop(),
		dataDir:    dataDir,
		chanLimit:  4096,
		shutdownDL: 60 * time.Second,
		nodes:      make(map[string]*node),
		abort:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Aborted returns a channel that receives a single value if an
// unhandled component task failure occurs:
// the supervisor treats this as fatal and the caller should initiate
// Shutdown in response.
func (s *Supervisor) Aborted() <-chan error { return s.abort }

// Build constructs every component in configs from scratch: an initial
// Build procedure call, not a reload. Component tasks only start once
// the whole graph is wired, sources last, so that a source's first
// batch always has a live downstream.
func (s *Supervisor) Build(ctx context.Context, configs []Config, strictHealth bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make(map[string]*node, len(configs))
	for _, cfg := range configs {
		nodes[cfg.Name] = &node{cfg: cfg, state: Configured}
	}

	handles := make(map[string]component.Handle, len(configs))
	var buildErr error
	for _, n := range nodes {
		n.state = Building
		if n.cfg.Kind != component.KindSink {
			n.output = fanout.New[component.Batch](0)
		}
		if n.cfg.Kind != component.KindSource {
			n.input = capacity.NewChannel[component.Batch](s.chanLimit)
		}
		handle, err := n.cfg.Builder.Build(ctx, n.cfg.Name, n.cfg.Spec, component.Deps{Input: n.input, Output: n.output})
		if err != nil {
			buildErr = multierr.Append(buildErr, fmt.Errorf("build %s: %w", n.cfg.Name, err))
			continue
		}
		n.health = handle.Healthcheck
		handles[n.cfg.Name] = handle
		s.prepare(n)
	}
	if buildErr != nil {
		for _, n := range nodes {
			if n.cancel != nil {
				n.cancel()
			}
		}
		s.logger.Error("topology build failed", zap.Error(buildErr))
		return buildErr
	}

	for _, n := range nodes {
		for _, dep := range n.cfg.Inputs {
			pred, ok := nodes[dep]
			if !ok {
				return fmt.Errorf("component %s references unknown input %s", n.cfg.Name, dep)
			}
			if err := pred.output.Add(ctx, n.cfg.Name, n.input); err != nil {
				return fmt.Errorf("wire %s -> %s: %w", dep, n.cfg.Name, err)
			}
		}
	}

	for _, n := range nodes {
		if n.cfg.Kind != component.KindSource {
			s.startTask(n, handles[n.cfg.Name])
			n.state = Running
		}
	}
	for _, n := range nodes {
		if n.cfg.Kind == component.KindSource {
			s.startTask(n, handles[n.cfg.Name])
			n.state = Running
		}
	}

	s.nodes = nodes
	return s.runHealthchecks(ctx, nodes, strictHealth)
}

func (s *Supervisor) runHealthchecks(ctx context.Context, nodes map[string]*node, strict bool) error {
	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(nodes))
	count := 0
	for _, n := range nodes {
		if n.health == nil {
			continue
		}
		count++
		go func(n *node) {
			results <- result{name: n.cfg.Name, err: n.health(ctx)}
		}(n)
	}

	run := func() error {
		var errs error
		for i := 0; i < count; i++ {
			r := <-results
			if r.err != nil {
				errs = multierr.Append(errs, fmt.Errorf("healthcheck %s: %w", r.name, r.err))
			}
		}
		return errs
	}

	if strict {
		return run()
	}
	go func() {
		if err := run(); err != nil {
			s.logger.Warn("background healthcheck failures", zap.Error(err))
		}
	}()
	return nil
}

// prepare gives a node its lifecycle context and starts its output
// dispatcher's Run loop, so the graph can be wired before the node's
// own task runs. startTask launches the task itself and arranges for an
// unhandled failure to post a single abort signal.
func (s *Supervisor) prepare(n *node) {
	ctx, cancel := context.WithCancel(context.Background())
	n.runCtx = ctx
	n.cancel = cancel
	n.done = make(chan error, 1)

	if n.output != nil {
		go n.output.Run(ctx)
	}
}

func (s *Supervisor) startTask(n *node, handle component.Handle) {
	ctx := n.runCtx
	go func() {
		err := handle.Run(ctx)
		n.done <- err
		if err != nil && ctx.Err() == nil {
			select {
			case s.abort <- fmt.Errorf("component %s: %w", n.cfg.Name, err):
			default:
			}
		}
	}()
}
