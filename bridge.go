// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import "context"

// HandleRequest is the connection-to-handler bridge. It builds a
// record around req, ships a shared handle to the handler runtime on
// deliver, and suspends until the handler signals completion. Those
// are its only two suspension points.
//
// Cancelling ctx at either point abandons the record: the cancellation
// guard runs the cancel transition synchronously before returning, so
// an adopted body resource is released and a handler that completes
// later recycles the shell instead of leaking it. No exit path leaves
// the record untransitioned.
//
// On success the caller owns the returned response and must call its
// Release method once the bytes are on the wire.
func HandleRequest(ctx context.Context, pool *Pool, deliver chan<- *Record, req *IncomingRequest, info ConnInfo) (*Response, error) {
	rec := NewRecord(pool, req, info)
	armed := true
	defer func() {
		if armed {
			rec.cancel()
		}
	}()

	if err := sendRecord(ctx, deliver, rec); err != nil {
		return nil, err
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		// The guard runs cancel. If the handler's completion raced
		// this wakeup, cancel observes it and recycles the shell.
		return nil, ctx.Err()
	}

	armed = false
	return rec.takeResponse(), nil
}

// sendRecord ships the handle on the (bounded, single-consumer)
// delivery channel. A closed channel surfaces as ErrChannelClosed so
// the framer can tear the connection down instead of unwinding with a
// bare runtime panic.
func sendRecord(ctx context.Context, deliver chan<- *Record, rec *Record) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrChannelClosed
		}
	}()
	select {
	case deliver <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
