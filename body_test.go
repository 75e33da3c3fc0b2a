// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/trafficlab/relay/resources"
)

// drainSink pulls the sink to exhaustion and returns the bytes.
func drainSink(t *testing.T, s *BodySink) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, chunk...)
	}
}

func TestBodySinkUninitialized(t *testing.T) {
	s := NewBodySink()
	if b, err := s.Next(); err != io.EOF || b != nil {
		t.Errorf("Next = %q, %v; want nil, EOF", b, err)
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("uninitialized sink's completion handle not fired")
	}
	if n, ok := s.KnownLength(); !ok || n != 0 {
		t.Errorf("KnownLength = %d, %v; want 0, true", n, ok)
	}
}

func TestBodySinkBytes(t *testing.T) {
	s := NewBodySink()
	s.Initialize(NewBytesProducer([]byte("hello world")), nil)
	if n, ok := s.KnownLength(); !ok || n != 11 {
		t.Errorf("KnownLength = %d, %v; want 11, true", n, ok)
	}
	select {
	case <-s.Done():
		t.Fatalf("completion fired before the body was consumed")
	default:
	}
	if got := drainSink(t, s); string(got) != "hello world" {
		t.Errorf("body = %q", got)
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("completion did not fire at EOF")
	}
}

func TestBodySinkAutocloserDropped(t *testing.T) {
	tbl := resources.NewTable()
	inner := &trackedBody{Reader: strings.NewReader("x")}
	rid := tbl.Add(inner)

	s := NewBodySink()
	s.Initialize(NewBytesProducer([]byte("payload")), NewBodyAutocloser(tbl, rid))
	drainSink(t, s)
	if !inner.closed {
		t.Errorf("autocloser not dropped at end of body")
	}
}

func TestBodySinkProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := NewBodySink()
	s.Initialize(producerFunc(func() ([]byte, error) { return nil, boom }), nil)
	if _, err := s.Next(); err != boom {
		t.Errorf("Next = %v; want boom", err)
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("completion did not fire on producer failure")
	}
}

type producerFunc func() ([]byte, error)

func (f producerFunc) Next() ([]byte, error) { return f() }

func TestResourceProducer(t *testing.T) {
	r := &trackedBody{Reader: strings.NewReader(strings.Repeat("ab", 20<<10))}
	s := NewBodySink()
	s.Initialize(NewResourceProducer(r), nil)
	if _, ok := s.KnownLength(); ok {
		t.Errorf("resource body reported a known length")
	}
	got := drainSink(t, s)
	if len(got) != 40<<10 {
		t.Errorf("body length = %d; want %d", len(got), 40<<10)
	}
}

func TestCompressGzip(t *testing.T) {
	plain := bytes.Repeat([]byte("relay body "), 1000)
	s := NewBodySink()
	s.Initialize(Compress(NewBytesProducer(plain), CompressionGzip), nil)
	if _, ok := s.KnownLength(); ok {
		t.Errorf("compressed body reported a known length")
	}
	zr, err := gzip.NewReader(bytes.NewReader(drainSink(t, s)))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("gzip round trip mismatch: %d bytes vs %d", len(got), len(plain))
	}
}

func TestCompressBrotli(t *testing.T) {
	plain := bytes.Repeat([]byte("relay body "), 1000)
	s := NewBodySink()
	s.Initialize(Compress(NewBytesProducer(plain), CompressionBrotli), nil)
	got, err := io.ReadAll(brotli.NewReader(bytes.NewReader(drainSink(t, s))))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("brotli round trip mismatch: %d bytes vs %d", len(got), len(plain))
	}
}

func TestCompressionContentEncoding(t *testing.T) {
	if got := CompressionNone.ContentEncoding(); got != "" {
		t.Errorf("none = %q", got)
	}
	if got := CompressionGzip.ContentEncoding(); got != "gzip" {
		t.Errorf("gzip = %q", got)
	}
	if got := CompressionBrotli.ContentEncoding(); got != "br" {
		t.Errorf("brotli = %q", got)
	}
}

func TestTrailers(t *testing.T) {
	tr := new(Trailers)
	if tr.Header() != nil {
		t.Errorf("fresh trailers non-nil")
	}
	tr.Set("X-Checksum", "abc")
	if got := tr.Header().Get("X-Checksum"); got != "abc" {
		t.Errorf("Header = %q", got)
	}
	h := tr.take()
	if h.Get("X-Checksum") != "abc" {
		t.Errorf("take lost the field")
	}
	if tr.Header() != nil {
		t.Errorf("trailers not cleared by take")
	}
}
