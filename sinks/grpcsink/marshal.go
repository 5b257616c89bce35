// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcsink

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flowcore/pipeline/event"
)

// appendEventFrame appends the default wire encoding of one event:
// a varint length prefix followed by a protobuf Struct holding the
// event's class, routing metadata, and (for logs and traces) its
// fields. The Struct well-known type keeps the payload self-describing
// without committing this example sink to any real protocol's
// generated messages.
func appendEventFrame(dst []byte, ev event.Event) []byte {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"class":     structpb.NewStringValue(ev.Class().String()),
		"namespace": structpb.NewStringValue(ev.Routing().Namespace),
	}}
	switch ev.Class() {
	case event.ClassLog:
		msg.Fields["fields"] = structpb.NewStructValue(structFromMap(ev.Log().Fields))
	case event.ClassTrace:
		msg.Fields["fields"] = structpb.NewStructValue(structFromMap(ev.Trace().Fields))
	case event.ClassMetric:
		msg.Fields["name"] = structpb.NewStringValue(ev.Metric().Name)
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		// structpb trees built above contain no unmarshalable values.
		return dst
	}
	dst = protowire.AppendVarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func structFromMap(m *event.OrderedMap) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out.Fields[k] = structValue(v)
	}
	return out
}

func structValue(v event.Value) *structpb.Value {
	switch v.Kind() {
	case event.KindBytes:
		return structpb.NewStringValue(v.String())
	case event.KindInteger:
		return structpb.NewNumberValue(float64(v.Integer()))
	case event.KindFloat:
		return structpb.NewNumberValue(v.Float())
	case event.KindBoolean:
		return structpb.NewBoolValue(v.Boolean())
	case event.KindTimestamp:
		return structpb.NewStringValue(v.Timestamp().UTC().Format(time.RFC3339Nano))
	case event.KindArray:
		list := &structpb.ListValue{}
		for _, e := range v.Array() {
			list.Values = append(list.Values, structValue(e))
		}
		return structpb.NewListValue(list)
	case event.KindObject:
		return structpb.NewStructValue(structFromMap(v.Object()))
	default:
		return structpb.NewNullValue()
	}
}
