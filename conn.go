// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"net"
	"sync"
	"time"
)

// aLongTimeAgo is a non-zero time far in the past, used to force
// pending reads to time out immediately.
var aLongTimeAgo = time.Unix(1, 0)

// connReader wraps a connection so the loop can run a one-byte
// background read while it sits in HandleRequest, turning an abrupt
// peer disconnect into cancellation of the inflight record. A byte
// that arrives instead (a pipelined next request) is stashed and
// re-presented to the next foreground read.
//
// The foreground never reads concurrently with the background read:
// the loop only starts watching once the request body is consumed and
// stops before parsing the next head.
type connReader struct {
	c net.Conn

	mu       sync.Mutex
	stash    []byte
	inBG     bool
	aborting bool
	bgDone   chan struct{}
}

func (cr *connReader) Read(p []byte) (int, error) {
	cr.mu.Lock()
	if len(cr.stash) > 0 {
		n := copy(p, cr.stash)
		cr.stash = cr.stash[n:]
		cr.mu.Unlock()
		return n, nil
	}
	cr.mu.Unlock()
	return cr.c.Read(p)
}

// startBackground begins watching for peer disconnect. onClose runs
// (once) if the read fails for any reason other than a forced abort.
func (cr *connReader) startBackground(onClose func()) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.inBG {
		return
	}
	cr.inBG = true
	cr.bgDone = make(chan struct{})
	go cr.backgroundRead(onClose)
}

func (cr *connReader) backgroundRead(onClose func()) {
	var buf [1]byte
	n, err := cr.c.Read(buf[:])
	cr.mu.Lock()
	if n > 0 {
		cr.stash = append(cr.stash, buf[:n]...)
	}
	aborted := cr.aborting
	cr.inBG = false
	done := cr.bgDone
	cr.mu.Unlock()
	if err != nil && !aborted {
		onClose()
	}
	close(done)
}

// stop aborts a pending background read and waits for it to settle.
func (cr *connReader) stop() {
	cr.mu.Lock()
	if !cr.inBG {
		cr.mu.Unlock()
		return
	}
	cr.aborting = true
	done := cr.bgDone
	cr.mu.Unlock()
	cr.c.SetReadDeadline(aLongTimeAgo)
	<-done
	cr.mu.Lock()
	cr.aborting = false
	cr.mu.Unlock()
	cr.c.SetReadDeadline(time.Time{})
}
