// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcsink

import (
	"fmt"
	"io"

	zstdlib "github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// zstdNamePrefix names the registered grpc encoding.Compressor, one per
// level, the same naming scheme compression/zstd used: "zstdNN".
const zstdNamePrefix = "zstd"

// CompressionConfig selects the wire compression level a grpcsink
// client uses. Level 0 disables compression.
type CompressionConfig struct {
	Level int `mapstructure:"level"`
}

// zstdCompressor implements google.golang.org/grpc/encoding.Compressor
// at one level: every Compress call creates a fresh zstd encoder and
// every Decompress call a fresh decoder; nothing is pooled across calls.
type zstdCompressor struct {
	level zstdlib.EncoderLevel
	name  string
}

func newZstdCompressor(level int) *zstdCompressor {
	return &zstdCompressor{level: zstdlib.EncoderLevelFromZstd(level), name: fmt.Sprintf("%s%d", zstdNamePrefix, level)}
}

// register installs c as a grpc-registered compressor under its Name,
// so grpc.UseCompressor(c.Name()) selects it on outgoing calls.
func (c *zstdCompressor) register() {
	encoding.RegisterCompressor(c)
}

func (c *zstdCompressor) Name() string { return c.name }

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstdlib.NewWriter(w, zstdlib.WithEncoderLevel(c.level))
}

func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstdlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReader{Decoder: dec}, nil
}

// zstdReader adapts *zstdlib.Decoder (Read + Close) to io.Reader,
// releasing the decoder's background goroutines once the stream is
// fully consumed.
type zstdReader struct {
	*zstdlib.Decoder
}

func (r *zstdReader) Read(p []byte) (int, error) {
	n, err := r.Decoder.Read(p)
	if err == io.EOF {
		r.Decoder.Close()
	}
	return n, err
}
