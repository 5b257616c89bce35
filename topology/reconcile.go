// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/flowcore/pipeline/capacity"
	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/fanout"
)

// configsEqual compares everything about a component's configuration
// except its Builder -- a Builder wraps a func, and reflect.DeepEqual
// treats any two non-nil funcs as unequal, which would make every
// component look "changed" on every reload.
func configsEqual(a, b Config) bool {
	if a.Kind != b.Kind {
		return false
	}
	if len(a.Inputs) != len(b.Inputs) {
		return false
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] {
			return false
		}
	}
	return reflect.DeepEqual(a.Spec, b.Spec)
}

// Reconcile transitions the running topology to newConfigs.
// dataDir must match the value the Supervisor was created with;
// otherwise the reload is rejected outright and nothing changes.
func (s *Supervisor) Reconcile(ctx context.Context, dataDir string, newConfigs []Config) error {
	if dataDir != s.dataDir {
		return ErrDataDirChanged
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newByName := make(map[string]Config, len(newConfigs))
	for _, cfg := range newConfigs {
		newByName[cfg.Name] = cfg
	}

	var toRemove, toChange, toAdd []Config
	for name, n := range s.nodes {
		newCfg, present := newByName[name]
		if !present {
			toRemove = append(toRemove, n.cfg)
			continue
		}
		if !configsEqual(n.cfg, newCfg) {
			toChange = append(toChange, newCfg)
		}
	}
	for name, cfg := range newByName {
		if _, existed := s.nodes[name]; !existed {
			toAdd = append(toAdd, cfg)
		}
	}

	var errs error

	for _, cfg := range toRemove {
		if err := s.removeLocked(ctx, cfg.Name); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	for _, cfg := range toChange {
		if err := s.changeLocked(ctx, cfg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	// Additions are staged in two passes: every new component's output
	// side exists before any new component's input side is wired, so a
	// transform's output is never consumed before it is created.
	added := make(map[string]*node, len(toAdd))
	for _, cfg := range toAdd {
		n := &node{cfg: cfg, state: Building}
		if cfg.Kind != component.KindSink {
			n.output = fanout.New[component.Batch](0)
		}
		if cfg.Kind != component.KindSource {
			n.input = capacity.NewChannel[component.Batch](s.chanLimit)
		}
		added[cfg.Name] = n
	}
	handles := make(map[string]component.Handle, len(added))
	for _, n := range added {
		handle, err := n.cfg.Builder.Build(ctx, n.cfg.Name, n.cfg.Spec, component.Deps{Input: n.input, Output: n.output})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("build %s: %w", n.cfg.Name, err))
			continue
		}
		n.health = handle.Healthcheck
		handles[n.cfg.Name] = handle
		s.prepare(n)
		s.nodes[n.cfg.Name] = n
	}
	for _, n := range added {
		if _, ok := handles[n.cfg.Name]; !ok {
			continue // failed to build above
		}
		for _, dep := range n.cfg.Inputs {
			pred, ok := s.nodes[dep]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("component %s references unknown input %s", n.cfg.Name, dep))
				continue
			}
			if err := pred.output.Add(ctx, n.cfg.Name, n.input); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("wire %s -> %s: %w", dep, n.cfg.Name, err))
				continue
			}
		}
		s.startTask(n, handles[n.cfg.Name])
		n.state = Running
	}

	return errs
}

// removeLocked stops a component's task and detaches it from the graph.
// Callers hold s.mu.
func (s *Supervisor) removeLocked(ctx context.Context, name string) error {
	n, ok := s.nodes[name]
	if !ok {
		return nil
	}
	n.state = Stopping
	n.cancel()
	var err error
	select {
	case err = <-n.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, dep := range n.cfg.Inputs {
		if pred, ok := s.nodes[dep]; ok {
			_ = pred.output.Remove(ctx, name)
		}
	}
	delete(s.nodes, name)
	n.state = Absent
	if err != nil {
		s.logger.Warn("removed component exited with error", zap.String("component", name), zap.Error(err))
	}
	return nil
}

// changeLocked rebuilds a component whose configuration changed. The
// sequence is ordered so that no batch is ever dropped at either seam:
//
// 1. The replacement is built and its dispatcher started, before
// anything stops receiving from the old instance.
// 2. Every existing successor is registered on the replacement's
// output *before* its task starts running, so a batch the
// replacement forwards the instant it starts
// always has somewhere to go.
// 3. Every predecessor is atomically switched to the replacement's
// input via the Replace protocol. From this point on the old
// instance receives no new input, but it is still running and its
// successors are still registered on its output, so whatever it
// already had queued keeps draining to the same destinations.
// 4. The old instance's input is closed (for non-sources) so its
// Receive loop returns once its backlog is empty, and its task is
// awaited -- a natural, drained exit rather than a cancellation.
// 5. Only once the old instance has fully drained is it cancelled (to
// stop its output dispatcher's Run loop) and dropped from the
// graph.
func (s *Supervisor) changeLocked(ctx context.Context, newCfg Config) error {
	old, ok := s.nodes[newCfg.Name]
	if !ok {
		return fmt.Errorf("change: component %s not found", newCfg.Name)
	}

	replacement := &node{cfg: newCfg, state: Building}
	if newCfg.Kind != component.KindSink {
		replacement.output = fanout.New[component.Batch](0)
	}
	if newCfg.Kind != component.KindSource {
		replacement.input = capacity.NewChannel[component.Batch](s.chanLimit)
	}

	handle, err := newCfg.Builder.Build(ctx, newCfg.Name, newCfg.Spec, component.Deps{Input: replacement.input, Output: replacement.output})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", newCfg.Name, err)
	}
	replacement.health = handle.Healthcheck
	s.prepare(replacement)

	var errs error

	// Register successors on the replacement's output before its task
	// can possibly route a batch through it.
	if replacement.output != nil {
		for _, succ := range s.nodes {
			if succ.cfg.Name == newCfg.Name {
				continue
			}
			for _, dep := range succ.cfg.Inputs {
				if dep == newCfg.Name {
					if err := replacement.output.Add(ctx, succ.cfg.Name, succ.input); err != nil {
						errs = multierr.Append(errs, fmt.Errorf("rewire %s -> %s: %w", newCfg.Name, succ.cfg.Name, err))
					}
					break
				}
			}
		}
	}

	s.startTask(replacement, handle)

	for _, dep := range newCfg.Inputs {
		pred, ok := s.nodes[dep]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("component %s references unknown input %s", newCfg.Name, dep))
			continue
		}
		if err := pred.output.Replace(ctx, newCfg.Name, replacement.input); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replace %s -> %s: %w", dep, newCfg.Name, err))
		}
	}

	// The old instance now receives no new input. Let it drain whatever
	// it already had queued -- still forwarding to its own output, which
	// still lists the same successors -- before retiring it.
	old.state = Rebuilding
	if old.input != nil {
		old.input.Close()
	} else {
		old.cancel() // a source has no backlog to drain
	}
	select {
	case <-old.done:
	case <-ctx.Done():
		old.cancel()
		return ctx.Err()
	}
	old.cancel()
	old.state = Absent

	if old.output != nil {
		for _, succ := range s.nodes {
			for _, dep := range succ.cfg.Inputs {
				if dep == newCfg.Name {
					_ = old.output.Remove(ctx, succ.cfg.Name)
					break
				}
			}
		}
	}

	replacement.state = Running
	s.nodes[newCfg.Name] = replacement
	return errs
}
