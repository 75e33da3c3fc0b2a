// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"io"
	"net/http"
	"sync"
)

// Record is the per-request object. It owns the parsed request head,
// the request body in one of its two forms, and the response under
// construction, and it carries the single-shot completion signal
// between the handler runtime and the connection loop.
//
// A record is shared between exactly two goroutines: the connection
// loop that built it and the handler that received it from the
// delivery channel. Methods take the record's lock for the minimum
// duration and never hold it across anything that blocks, so the two
// sides may interleave freely.
//
// States, derived from the completed/dropped flags:
//
//	Live       handler running, connection waiting
//	Abandoned  connection cancelled, handler still running
//	Completed  handler signalled, connection consuming
//	Terminal   both; the next transition is recycling
type Record struct {
	pool *Pool

	mu        sync.Mutex
	conn      ConnInfo
	head      RequestHead
	body      io.ReadCloser   // streamed form; nil once taken or adopted
	bodyRes   *BodyAutocloser // adopted form; nil otherwise
	resp      *Response
	trailers  *Trailers
	upgrade   *upgradeState
	done      chan struct{}
	completed bool
	dropped   bool
	upgraded  bool
	recycled  bool
}

// Response is the response under construction for one record. The
// handler mutates it through Record.Response before calling Complete;
// the connection loop extracts it afterwards and writes it to the
// wire.
type Response struct {
	Status int
	Header http.Header
	Body   *BodySink

	rec *Record
}

// NewRecord builds a record around req, reusing a recycled shell (and
// its response header map) from pool when one is available.
func NewRecord(pool *Pool, req *IncomingRequest, info ConnInfo) *Record {
	rec := pool.pop()
	if rec == nil {
		rec = &Record{}
		rec.resp = &Response{Header: make(http.Header), Body: NewBodySink(), rec: rec}
	}
	rec.pool = pool
	rec.conn = info
	rec.head = req.Head
	rec.body = req.Body
	rec.bodyRes = nil
	rec.upgrade = req.upgrade
	rec.trailers = new(Trailers)
	rec.resp.Status = http.StatusOK
	rec.resp.Body.reset(rec.trailers)
	rec.done = make(chan struct{})
	rec.completed = false
	rec.dropped = false
	rec.upgraded = false
	rec.recycled = false
	pool.inflight.Add(1)
	return rec
}

// Head returns the parsed request head.
func (rec *Record) Head() *RequestHead { return &rec.head }

// ConnInfo returns metadata about the peer.
func (rec *Record) ConnInfo() ConnInfo { return rec.conn }

// TakeBody removes and returns the raw framed body stream, or nil if
// the body was already taken or adopted as a resource.
func (rec *Record) TakeBody() io.ReadCloser {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	body := rec.body
	rec.body = nil
	return body
}

// TakeResource removes and returns the adopted body autocloser. It
// fails with ErrBodyResourceMissing when the body is still in (or was
// consumed from) its streamed form.
func (rec *Record) TakeResource() (*BodyAutocloser, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.bodyRes == nil {
		return nil, ErrBodyResourceMissing
	}
	res := rec.bodyRes
	rec.bodyRes = nil
	return res, nil
}

// PutResource replaces the request body with an autocloser after the
// handler has registered the upload in the resource table. Any
// remaining streamed form is dropped.
func (rec *Record) PutResource(a *BodyAutocloser) {
	rec.mu.Lock()
	body := rec.body
	rec.body = nil
	rec.bodyRes = a
	rec.mu.Unlock()
	if body != nil {
		body.Close()
	}
}

// Response returns the response under construction. It must only be
// called before Complete.
func (rec *Record) Response() *Response {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.completed {
		panic("relay: Response called after Complete")
	}
	return rec.resp
}

// Trailers returns the shared trailers slot, also referenced by the
// response body sink.
func (rec *Record) Trailers() *Trailers { return rec.trailers }

// Cancelled reports whether the connection side abandoned this record,
// letting the handler short-circuit expensive work. Writes into an
// abandoned record are harmless no-ops visible only to the recycler.
func (rec *Record) Cancelled() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.dropped
}

// Complete is the handler's single-shot completion signal. Calling it
// twice on one record is an invariant violation and panics. If the
// connection side already abandoned the record, Complete recycles the
// shell immediately.
func (rec *Record) Complete() {
	rec.mu.Lock()
	if rec.completed {
		rec.mu.Unlock()
		panic("relay: Complete called twice on one record")
	}
	rec.completed = true
	dropped := rec.dropped
	// Snapshot the channel under the lock: once a concurrent cancel
	// observes completed it may recycle the shell, and a new request
	// can re-arm rec.done before this close lands.
	done := rec.done
	rec.mu.Unlock()
	close(done)
	if dropped {
		rec.recycle()
	}
}

// cancel is the connection-side abandonment transition. It runs
// synchronously when HandleRequest is abandoned: it marks the record
// dropped and takes and drops the request body, closing the adopted
// resource (cancelling the upload) if there is one. The record itself
// stays alive because the handler may still hold its handle; if the
// handler already completed, the shell recycles here instead.
func (rec *Record) cancel() {
	rec.mu.Lock()
	rec.dropped = true
	body := rec.body
	res := rec.bodyRes
	rec.body = nil
	rec.bodyRes = nil
	completed := rec.completed
	rec.mu.Unlock()
	if body != nil {
		body.Close()
	}
	if res != nil {
		res.Close()
	}
	if completed {
		rec.recycle()
	}
}

// takeResponse hands the completed response to the connection loop.
func (rec *Record) takeResponse() *Response {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.completed {
		panic("relay: response taken before completion")
	}
	return rec.resp
}

// wasUpgraded reports whether the handler extracted the connection.
func (rec *Record) wasUpgraded() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.upgraded
}

// Release returns the record shell behind resp to the pool. The framer
// calls it exactly once, after the response bytes have been flushed or
// the connection has been torn down.
func (resp *Response) Release() {
	resp.rec.recycle()
}

// recycle clears the record and returns the shell to the pool. The
// response header map keeps its capacity; its length drops to zero so
// the next request's response headers start empty.
func (rec *Record) recycle() {
	rec.mu.Lock()
	if rec.recycled {
		rec.mu.Unlock()
		panic("relay: record recycled twice")
	}
	if !rec.completed && !rec.dropped {
		rec.mu.Unlock()
		panic(ErrHandlerAbsent)
	}
	rec.recycled = true
	body := rec.body
	res := rec.bodyRes
	rec.body = nil
	rec.bodyRes = nil
	clear(rec.resp.Header)
	rec.resp.Status = 0
	rec.resp.Body.reset(nil)
	rec.head = RequestHead{}
	rec.conn = ConnInfo{}
	rec.trailers = nil
	rec.upgrade = nil
	pool := rec.pool
	rec.pool = nil
	rec.mu.Unlock()
	if body != nil {
		body.Close()
	}
	if res != nil {
		res.Close()
	}
	pool.release(rec)
}
