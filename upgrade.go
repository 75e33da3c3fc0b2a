// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"net"
)

// Upgraded is a raw connection relinquished by the framer after a
// protocol upgrade: head and body bytes already consumed, with any
// bytes the framer had read past them exposed as Leftover.
type Upgraded struct {
	Conn     net.Conn
	Leftover []byte
}

// UpgradeFuture resolves once the framer has flushed the switching
// response and handed the connection over.
type UpgradeFuture struct {
	ch <-chan *Upgraded
}

func (f *UpgradeFuture) Await(ctx context.Context) (*Upgraded, error) {
	select {
	case up := <-f.ch:
		return up, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// upgradeState is the framer's half of the upgrade handshake.
type upgradeState struct {
	ch chan *Upgraded
}

// AllowUpgrade marks req as upgradable and returns the fulfiller the
// framer calls with the raw connection after relinquishing it. The
// framer only installs this when it is actually willing to hand the
// connection over (HTTP/1 requests carrying an Upgrade header).
func (req *IncomingRequest) AllowUpgrade() func(*Upgraded) {
	st := &upgradeState{ch: make(chan *Upgraded, 1)}
	req.upgrade = st
	return func(up *Upgraded) { st.ch <- up }
}

// Upgrade extracts the protocol-upgrade future from the request. It
// fails with ErrUpgradeUnavailable when the framer offered no upgrade
// for this request, and can succeed at most once.
//
// Upgrade doubles as the record's completion signal: the handler must
// set the switching response (status and headers) before calling it
// and must not call Complete afterwards. The connection loop writes
// the switching head, fulfills the future with the raw connection, and
// stops serving the connection.
func (rec *Record) Upgrade() (*UpgradeFuture, error) {
	rec.mu.Lock()
	if rec.upgrade == nil {
		rec.mu.Unlock()
		return nil, ErrUpgradeUnavailable
	}
	st := rec.upgrade
	rec.upgrade = nil
	rec.upgraded = true
	rec.completed = true
	dropped := rec.dropped
	// Snapshot under the lock; a concurrent cancel can recycle the
	// shell for reuse as soon as it sees completed.
	done := rec.done
	rec.mu.Unlock()
	close(done)
	if dropped {
		rec.recycle()
	}
	return &UpgradeFuture{ch: st.ch}, nil
}
