// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"sync"
	"sync/atomic"
)

const (
	// poolFloor is the free-list length the pool keeps regardless of
	// load; it never truncates below this while traffic is live.
	poolFloor = 16
	// poolSlack is the overshoot tolerated before a release truncates
	// the free list back to target.
	poolSlack = 8
)

// Pool is a bounded free-list of record shells whose response header
// maps have been cleared. Its target size follows the number of
// inflight records, so sustained concurrency grows the list and the
// sizing rule sheds the excess as load drops.
type Pool struct {
	mu       sync.Mutex
	free     []*Record
	inflight atomic.Int64
}

func NewPool() *Pool { return &Pool{} }

// Inflight reports the number of records constructed from this pool
// and not yet recycled. It stands in for the live-handle count used to
// size the free list.
func (p *Pool) Inflight() int64 { return p.inflight.Load() }

// Len reports the number of pooled shells.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool) target() int {
	return poolFloor + int(p.inflight.Load())/8
}

// pop returns a recycled shell, or nil when the caller must allocate.
func (p *Pool) pop() *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	rec := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return rec
}

// release accepts a cleared shell back. If the free list sits below
// target the shell is kept; if it has overshot target by more than
// poolSlack it is truncated back to target and the shell dropped.
func (p *Pool) release(rec *Record) {
	p.inflight.Add(-1)
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.target()
	switch {
	case len(p.free) > target+poolSlack:
		for i := target; i < len(p.free); i++ {
			p.free[i] = nil
		}
		p.free = p.free[:target]
	case len(p.free) < target:
		p.free = append(p.free, rec)
	}
}
