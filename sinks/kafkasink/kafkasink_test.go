// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kafkasink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecSetDefaults(t *testing.T) {
	s := &Spec{}
	s.setDefaults()
	assert.Equal(t, 3, s.BreakerErrorThreshold)
	require := assert.New(t)
	key, value := s.Encode("ns")
	require.Nil(key)
	require.Equal([]byte("ns"), value)
}

func TestSpecSetDefaultsRespectsOverrides(t *testing.T) {
	s := &Spec{BreakerErrorThreshold: 7}
	s.setDefaults()
	assert.Equal(t, 7, s.BreakerErrorThreshold)
}

func TestRequestByteSize(t *testing.T) {
	r := &request{key: []byte("k"), value: []byte("value"), eventCount: 1}
	assert.Equal(t, 6, r.ByteSize())
	assert.Equal(t, 1, r.EventCount())
}

func TestResponseDefaults(t *testing.T) {
	r := &response{bytesSent: 10}
	assert.Equal(t, 10, r.BytesSent())
	assert.Equal(t, 1, r.EventsSent())
}
