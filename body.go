// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"io"
	"net/http"
	"sync"

	"github.com/trafficlab/relay/resources"
)

// closedchan is a reusable already-closed channel.
var closedchan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// A BodyProducer is a lazy source of response bytes. Next returns the
// next chunk, or (nil, io.EOF) after the final one. Chunks may be
// reused by the producer once the caller has consumed them.
type BodyProducer interface {
	Next() ([]byte, error)
}

// BodySink is the streaming response body attached to every record.
//
// A sink starts uninitialized: reading it yields no bytes and its
// completion handle has already fired. The handler installs the actual
// byte producer with Initialize, after which the connection loop
// drives the producer to exhaustion, fires the completion handle, and
// drops the producer's autocloser.
type BodySink struct {
	mu        sync.Mutex
	producer  BodyProducer
	autoclose io.Closer
	trailers  *Trailers
	done      chan struct{}
	fired     bool
}

// NewBodySink constructs an uninitialized sink.
func NewBodySink() *BodySink {
	return &BodySink{done: closedchan, fired: true}
}

// Initialize installs the byte producer and, optionally, a closer that
// is dropped when the body finishes. It rearms the completion handle.
func (s *BodySink) Initialize(p BodyProducer, autoclose io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer = p
	s.autoclose = autoclose
	s.done = make(chan struct{})
	s.fired = false
}

// Next yields the next chunk for the wire writer. At the end of the
// body (or on producer failure) it fires the completion handle and
// drops the autocloser, then reports io.EOF or the failure.
func (s *BodySink) Next() ([]byte, error) {
	s.mu.Lock()
	p := s.producer
	s.mu.Unlock()
	if p == nil {
		s.finish()
		return nil, io.EOF
	}
	chunk, err := p.Next()
	if err != nil {
		s.finish()
		return nil, err
	}
	return chunk, nil
}

// Done returns the completion handle: it is closed once the body has
// been fully consumed by the writer.
func (s *BodySink) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Trailers returns the shared trailers slot so the record can hand a
// separate reference to the handler while the body task publishes
// through the same slot.
func (s *BodySink) Trailers() *Trailers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailers
}

// KnownLength reports the total body length when the installed
// producer is a fixed byte vector, allowing Content-Length framing.
func (s *BodySink) KnownLength() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer == nil {
		return 0, true
	}
	if lp, ok := s.producer.(interface{ Len() int }); ok {
		return int64(lp.Len()), true
	}
	return 0, false
}

func (s *BodySink) finish() {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	ac := s.autoclose
	s.autoclose = nil
	done := s.done
	s.mu.Unlock()
	close(done)
	if ac != nil {
		ac.Close()
	}
}

// reset clears the sink for shell reuse, releasing any producer
// resources that were never driven to completion, and attaches the
// trailers slot for the next request (nil while pooled).
func (s *BodySink) reset(t *Trailers) {
	s.finish()
	s.mu.Lock()
	s.producer = nil
	s.autoclose = nil
	s.trailers = t
	s.done = closedchan
	s.fired = true
	s.mu.Unlock()
}

// Trailers is the shared, mutable slot for optional trailer headers.
// It is referenced by both the record and its body sink so the body
// task can publish trailers after the response head has been sent.
type Trailers struct {
	mu sync.Mutex
	h  http.Header
}

// Set records a trailer field.
func (t *Trailers) Set(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h == nil {
		t.h = make(http.Header)
	}
	t.h.Set(key, value)
}

// Header returns the trailer fields set so far, or nil.
func (t *Trailers) Header() http.Header {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.h
}

// take removes and returns the trailer fields for wire emission.
func (t *Trailers) take() http.Header {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.h
	t.h = nil
	return h
}

// BytesProducer yields an in-memory byte vector as a single chunk.
type BytesProducer struct {
	b    []byte
	done bool
}

func NewBytesProducer(b []byte) *BytesProducer {
	return &BytesProducer{b: b}
}

func (p *BytesProducer) Next() ([]byte, error) {
	if p.done || len(p.b) == 0 {
		return nil, io.EOF
	}
	p.done = true
	return p.b, nil
}

// Len reports the total length, enabling Content-Length framing.
func (p *BytesProducer) Len() int { return len(p.b) }

// resourceProducerChunk bounds how much a resource-backed body reads
// per yield.
const resourceProducerChunk = 16 << 10

// ResourceProducer streams a response body out of a resource reader,
// such as an open file or a pipe registered in the embedder's table.
type ResourceProducer struct {
	r   resources.Reader
	buf []byte
}

func NewResourceProducer(r resources.Reader) *ResourceProducer {
	return &ResourceProducer{r: r, buf: make([]byte, resourceProducerChunk)}
}

// Next reads one chunk from the resource. The returned slice is valid
// until the following call.
func (p *ResourceProducer) Next() ([]byte, error) {
	for {
		n, err := p.r.Read(p.buf)
		if n > 0 {
			return p.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
