// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config implements the abstract configuration contract of
// the pipeline: a list of named component entries, each referencing
// a component type and its parameters, decoded into the concrete spec
// struct a registered Builder expects. Configuration file syntax itself
// is out of scope; this package starts from an already
// parsed representation (an Entry, as if handed a decoded YAML/JSON
// document) and ends at topology.Config, the form Supervisor.Build and
// Reconcile consume.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/flowcore/pipeline/component"
	"github.com/flowcore/pipeline/topology"
)

// Entry is one component's configuration as it would arrive from the
// surrounding repository's config loader: a name, its role, the names
// of its upstream inputs, a component type string, and an untyped
// parameter map ready for decoding into that type's registered spec
// struct.
type Entry struct {
	Name   string
	Kind   component.Kind
	Type   string
	Inputs []string
	Params map[string]any
}

// TypeFactory is what a component type registers: a constructor for a
// fresh zero-value spec struct (mapstructure decodes Params into it) and
// the Builder that constructs instances of that type.
type TypeFactory struct {
	NewSpec func() any
	Builder component.Builder
}

// Registry maps a component type string (e.g. "kafka_sink", "gen_source")
// to its TypeFactory. One Registry is shared across every Decode call for
// a given topology.
type Registry struct {
	factories map[string]TypeFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]TypeFactory)}
}

// Register associates typeName with f. Registering the same typeName
// twice overwrites the previous factory.
func (r *Registry) Register(typeName string, f TypeFactory) {
	r.factories[typeName] = f
}

// Decode turns entries into topology.Config values, decoding each
// entry's Params via mapstructure into its registered type's spec
// struct. Two configuration entries are considered
// equal for the reconcile diff iff their decoded Spec values are
// reflect.DeepEqual, which topology.Reconcile applies -- the
// Go-idiomatic analogue of "serialised form equality" that needs no
// textual representation.
func (r *Registry) Decode(entries []Entry) ([]topology.Config, error) {
	out := make([]topology.Config, 0, len(entries))
	for _, e := range entries {
		f, ok := r.factories[e.Type]
		if !ok {
			return nil, fmt.Errorf("config: unknown component type %q for %q", e.Type, e.Name)
		}

		spec := f.NewSpec()
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           spec,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("config: build decoder for %q: %w", e.Name, err)
		}
		if err := dec.Decode(e.Params); err != nil {
			return nil, fmt.Errorf("config: decode %q (type %s): %w", e.Name, e.Type, err)
		}

		out = append(out, topology.Config{
			Name:    e.Name,
			Kind:    e.Kind,
			Inputs:  e.Inputs,
			Spec:    spec,
			Builder: f.Builder,
		})
	}
	return out, nil
}
