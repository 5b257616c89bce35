// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, input string, cfg Config) (frames []string, discarded []int) {
	t.Helper()
	warn := func(n int) { discarded = append(discarded, n) }
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(NewSplitFunc(cfg, warn))
	for scanner.Scan() {
		frames = append(frames, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return frames, discarded
}

func TestDecodeDelimited(t *testing.T) {
	frames, discarded := scanAll(t, "abc\nde\nf\n", Config{Delimiter: '\n', MaxLength: 10})
	assert.Equal(t, []string{"abc", "de", "f"}, frames)
	assert.Empty(t, discarded)
}

// A stream with no oversize frames decodes to exactly the delimited
// sequence, including empty frames between adjacent delimiters.
func TestDecodeIdempotence(t *testing.T) {
	frames, discarded := scanAll(t, "a\n\nbb\nccc", Config{Delimiter: '\n', MaxLength: 3})
	assert.Equal(t, []string{"a", "", "bb", "ccc"}, frames)
	assert.Empty(t, discarded)
}

func TestOversizeFrameDiscard(t *testing.T) {
	frames, discarded := scanAll(t, "1234567\n123456\n123412314\n123",
		Config{Delimiter: '\n', MaxLength: 6})
	assert.Equal(t, []string{"123456", "123"}, frames)
	assert.Equal(t, []int{7, 9}, discarded)
}

// A run of consecutive oversize fragments must not stall the decoder:
// each call makes forward progress past the discarded bytes.
func TestOversizeRunMakesProgress(t *testing.T) {
	input := strings.Repeat("xxxxxxxxxx\n", 5) + "ok\n"
	frames, discarded := scanAll(t, input, Config{Delimiter: '\n', MaxLength: 4})
	assert.Equal(t, []string{"ok"}, frames)
	assert.Len(t, discarded, 5)
}

func TestEOFTrailingFrame(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		frames, discarded := scanAll(t, "abc\ntail", Config{Delimiter: '\n', MaxLength: 6})
		assert.Equal(t, []string{"abc", "tail"}, frames)
		assert.Empty(t, discarded)
	})
	t.Run("oversize", func(t *testing.T) {
		frames, discarded := scanAll(t, "abc\ntoolongtail", Config{Delimiter: '\n', MaxLength: 6})
		assert.Equal(t, []string{"abc"}, frames)
		assert.Equal(t, []int{11}, discarded)
	})
}

func TestNeedMoreData(t *testing.T) {
	split := NewSplitFunc(Config{Delimiter: '\n', MaxLength: 10}, nil)
	advance, token, err := split([]byte("partial"), false)
	require.NoError(t, err)
	assert.Zero(t, advance)
	assert.Nil(t, token)
}
