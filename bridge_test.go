// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHandleRequestRoundTrip(t *testing.T) {
	pool := NewPool()
	deliver := make(chan *Record, 1)

	go func() {
		rec := <-deliver
		resp := rec.Response()
		resp.Status = 201
		resp.Header.Set("X-Handled", "yes")
		resp.Body.Initialize(NewBytesProducer([]byte("done")), nil)
		rec.Complete()
	}()

	resp, err := HandleRequest(context.Background(), pool, deliver, newTestRequest(nil), ConnInfo{})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Status != 201 || resp.Header.Get("X-Handled") != "yes" {
		t.Errorf("response = %d %v", resp.Status, resp.Header)
	}
	resp.Release()
	if pool.Inflight() != 0 {
		t.Errorf("Inflight = %d after release; want 0", pool.Inflight())
	}
}

func TestHandleRequestCancelledBeforeDelivery(t *testing.T) {
	pool := NewPool()
	deliver := make(chan *Record) // no consumer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HandleRequest(ctx, pool, deliver, newTestRequest(nil), ConnInfo{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleRequest = %v; want context.Canceled", err)
	}
	// The guard ran cancel; the handler never saw the record, so the
	// shell recycles only when completion arrives, which it never will.
	if pool.Inflight() != 1 {
		t.Errorf("Inflight = %d; want 1 (record abandoned, never completed)", pool.Inflight())
	}
}

func TestHandleRequestCancelledWhileHandlerRuns(t *testing.T) {
	pool := NewPool()
	deliver := make(chan *Record, 1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan *Record, 1)
	go func() {
		rec := <-deliver
		started <- rec
	}()

	done := make(chan error, 1)
	go func() {
		_, err := HandleRequest(ctx, pool, deliver, newTestRequest(nil), ConnInfo{})
		done <- err
	}()

	rec := <-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleRequest = %v; want context.Canceled", err)
	}
	if !rec.Cancelled() {
		t.Errorf("Cancelled = false after connection-side abandonment")
	}

	// The handler completes late: the shell must recycle, not leak.
	rec.Complete()
	if pool.Inflight() != 0 {
		t.Errorf("Inflight = %d after late completion; want 0", pool.Inflight())
	}
	if pool.Len() != 1 {
		t.Errorf("Len = %d after late completion; want 1", pool.Len())
	}
}

func TestHandleRequestClosedChannel(t *testing.T) {
	pool := NewPool()
	deliver := make(chan *Record)
	close(deliver)

	_, err := HandleRequest(context.Background(), pool, deliver, newTestRequest(nil), ConnInfo{})
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("HandleRequest = %v; want ErrChannelClosed", err)
	}
}

func TestUpgradeFutureAwait(t *testing.T) {
	req := newTestRequest(nil)
	fulfill := req.AllowUpgrade()
	rec := NewRecord(NewPool(), req, ConnInfo{})
	fut, err := rec.Upgrade()
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	go fulfill(&Upgraded{Leftover: []byte("frame")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	up, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(up.Leftover) != "frame" {
		t.Errorf("Leftover = %q", up.Leftover)
	}
	rec.takeResponse().Release()
}
