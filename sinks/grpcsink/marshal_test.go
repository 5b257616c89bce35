// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcsink

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flowcore/pipeline/event"
)

func decodeFrames(t *testing.T, payload []byte) []*structpb.Struct {
	t.Helper()
	var out []*structpb.Struct
	for len(payload) > 0 {
		n, consumed := protowire.ConsumeVarint(payload)
		require.Greater(t, consumed, 0)
		payload = payload[consumed:]
		require.GreaterOrEqual(t, uint64(len(payload)), n)
		msg := new(structpb.Struct)
		require.NoError(t, proto.Unmarshal(payload[:n], msg))
		payload = payload[n:]
		out = append(out, msg)
	}
	return out
}

func TestDefaultMarshalRoundTrips(t *testing.T) {
	fields := event.NewOrderedMap()
	fields.Set("message", event.StringValue("hello"))
	fields.Set("count", event.IntegerValue(3))
	ev := event.NewLog(event.LogPayload{Fields: fields, Metadata: event.NewOrderedMap()})
	ev.SetRouting(event.Routing{Namespace: "tenant-a"})

	payload := appendEventFrame(nil, ev)
	payload = appendEventFrame(payload, ev)

	frames := decodeFrames(t, payload)
	require.Len(t, frames, 2)
	for _, msg := range frames {
		require.Equal(t, "log", msg.Fields["class"].GetStringValue())
		require.Equal(t, "tenant-a", msg.Fields["namespace"].GetStringValue())
		got := msg.Fields["fields"].GetStructValue()
		require.Equal(t, "hello", got.Fields["message"].GetStringValue())
		require.Equal(t, float64(3), got.Fields["count"].GetNumberValue())
	}
}

func TestDefaultMarshalMetric(t *testing.T) {
	m := event.Metric{Name: "requests_total"}
	payload := appendEventFrame(nil, event.NewMetric(m))

	frames := decodeFrames(t, payload)
	require.Len(t, frames, 1)
	require.Equal(t, "metric", frames[0].Fields["class"].GetStringValue())
	require.Equal(t, "requests_total", frames[0].Fields["name"].GetStringValue())
}
