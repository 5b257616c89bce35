// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowcore/pipeline/component"
)

// Shutdown stops the whole topology: sources are cancelled and
// awaited first, so they stop producing before transforms and sinks are
// asked to drain; transforms and sinks then get up to the configured
// deadline to finish on their own, with periodic diagnostic logging of
// whichever components are still running. No task is force-killed here
// -- that is the owning process's job once it decides to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sources := make([]*node, 0, len(s.nodes))
	rest := make([]*node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.cfg.Kind == component.KindSource {
			sources = append(sources, n)
		} else {
			rest = append(rest, n)
		}
	}
	s.mu.Unlock()

	for _, n := range sources {
		n.state = Stopping
		n.cancel()
	}
	for _, n := range sources {
		<-n.done
		n.state = Absent
	}

	return s.drain(ctx, rest)
}

func (s *Supervisor) drain(ctx context.Context, nodes []*node) error {
	deadline := time.NewTimer(s.shutdownDL)
	defer deadline.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	remaining := make(map[string]*node, len(nodes))
	for _, n := range nodes {
		n.state = Stopping
		remaining[n.cfg.Name] = n
	}

	// A task exits on its own once its input closes and its backlog is
	// worked off. Inputs are closed in dependency order -- a node's
	// input closes only after every predecessor has finished -- so a
	// draining transform never sends into an already-closed successor.
	closed := make(map[string]bool, len(nodes))
	closeReady := func() {
		for name, n := range remaining {
			if closed[name] || n.input == nil {
				continue
			}
			ready := true
			for _, dep := range n.cfg.Inputs {
				if _, still := remaining[dep]; still {
					ready = false
					break
				}
			}
			if ready {
				n.input.Close()
				closed[name] = true
			}
		}
	}
	closeReady()

	doneCh := make(chan string, len(nodes))
	for _, n := range nodes {
		go func(n *node) {
			<-n.done
			doneCh <- n.cfg.Name
		}(n)
	}

	for len(remaining) > 0 {
		select {
		case name := <-doneCh:
			if n, ok := remaining[name]; ok {
				n.cancel() // stops the node's output dispatcher
				n.state = Absent
				delete(remaining, name)
				closeReady()
			}
		case <-report.C:
			s.logger.Info("shutdown still draining components", zap.Strings("remaining", names(remaining)))
		case <-deadline.C:
			s.logger.Warn("shutdown deadline reached with components still running", zap.Strings("remaining", names(remaining)))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func names(m map[string]*node) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}
