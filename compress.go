// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// CompressionMode selects the compression wrapper applied to a
// response body producer.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionGzip
	CompressionBrotli
)

// ContentEncoding returns the Content-Encoding token for m, or "".
func (m CompressionMode) ContentEncoding() string {
	switch m {
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "br"
	default:
		return ""
	}
}

// Compress wraps p in the compressing producer for mode. The sink is
// agnostic to the wrapper: it still sees chunks until io.EOF.
func Compress(p BodyProducer, mode CompressionMode) BodyProducer {
	switch mode {
	case CompressionGzip:
		cp := &compressProducer{inner: p}
		cp.w = gzip.NewWriter(&cp.buf)
		return cp
	case CompressionBrotli:
		cp := &compressProducer{inner: p}
		cp.w = brotli.NewWriter(&cp.buf)
		return cp
	default:
		return p
	}
}

// flushWriter is the compressor surface compressProducer drives. Both
// gzip.Writer and brotli.Writer satisfy it.
type flushWriter interface {
	io.WriteCloser
	Flush() error
}

// compressProducer re-yields the inner producer's chunks through a
// compressor. Each inner chunk is flushed so the body still streams;
// the final compressor frame is emitted after the inner body ends.
type compressProducer struct {
	inner BodyProducer
	w     flushWriter
	buf   bytes.Buffer
	ended bool
}

func (p *compressProducer) Next() ([]byte, error) {
	for {
		if out := p.drain(); out != nil {
			return out, nil
		}
		if p.ended {
			return nil, io.EOF
		}
		chunk, err := p.inner.Next()
		if err == io.EOF {
			p.ended = true
			if cerr := p.w.Close(); cerr != nil {
				return nil, cerr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := p.w.Write(chunk); err != nil {
			return nil, err
		}
		if err := p.w.Flush(); err != nil {
			return nil, err
		}
	}
}

func (p *compressProducer) drain() []byte {
	if p.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), p.buf.Bytes()...)
	p.buf.Reset()
	return out
}
