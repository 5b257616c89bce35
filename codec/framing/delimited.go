// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package framing implements a delimited byte-frame decoder: a byte
// stream is split into frames on a delimiter byte, with a maximum
// frame length and a discard-and-recover policy for oversize frames.
//
// The decoder is expressed as a bufio.SplitFunc, since bufio.Scanner
// already solves "buffer bytes, hand back delimited tokens, ask for
// more on underflow".
package framing

import (
	"bufio"
	"bytes"

	"go.uber.org/zap"

	"github.com/flowcore/pipeline/internal/ratelog"
)

// Config configures a delimited decoder.
type Config struct {
	// Delimiter separates frames. Required.
	Delimiter byte
	// MaxLength bounds a frame's length, exclusive of the delimiter. A
	// frame longer than this is discarded rather than emitted.
	MaxLength int
}

// NewSplitFunc builds a bufio.SplitFunc implementing Config's framing
// rule. warn, if non-nil, is called once per discarded frame;
// pass a ratelog.Logger-backed closure to avoid flooding logs when a
// misbehaving source repeats the same oversize fragment.
func NewSplitFunc(cfg Config, warn func(discardedLen int)) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		for {
			idx := bytes.IndexByte(data, cfg.Delimiter)
			if idx < 0 {
				break
			}
			if idx > cfg.MaxLength {
				// Discard [0, idx] inclusive of the delimiter and keep
				// scanning the rest of the buffer already in hand --
				// this is what guarantees forward progress on a run of
				// oversize fragments instead of looping unboundedly on
				// the same data.
				if warn != nil {
					warn(idx)
				}
				data = data[idx+1:]
				advance += idx + 1
				continue
			}
			advance += idx + 1
			return advance, data[:idx], nil
		}

		if atEOF {
			if len(data) == 0 {
				return advance, nil, nil
			}
			if len(data) > cfg.MaxLength {
				if warn != nil {
					warn(len(data))
				}
				return advance + len(data), nil, nil
			}
			return advance + len(data), data, nil
		}

		// No delimiter in what's buffered yet: ask bufio.Scanner for
		// more data, having already advanced past anything discarded
		// above.
		return advance, nil, nil
	}
}

// NewScanner wraps src in a bufio.Scanner configured with cfg's framing
// rule. logger receives a rate-limited warning for every discarded
// oversize frame.
func NewScanner(src interface {
	Read(p []byte) (int, error)
}, cfg Config, logger *ratelog.Logger) *bufio.Scanner {
	warn := func(discardedLen int) {
		if logger != nil {
			logger.Warn("discarding frame larger than max_length",
				zap.Int("discarded_bytes", discardedLen),
				zap.Int("max_length", cfg.MaxLength))
		}
	}
	scanner := bufio.NewScanner(src)
	scanner.Split(NewSplitFunc(cfg, warn))
	scanner.Buffer(make([]byte, 0, 64*1024), bufio.MaxScanTokenSize)
	return scanner
}
