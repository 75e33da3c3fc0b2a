// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"sync/atomic"

	"github.com/trafficlab/relay/resources"
)

// BodyAutocloser scopes ownership of a request body that the handler
// has adopted as a resource in the embedder's table. Whenever the
// record holding it is dropped, whether by normal recycle or by
// connection-side cancellation, the resource is closed exactly once.
type BodyAutocloser struct {
	table  *resources.Table
	rid    resources.ID
	closed atomic.Bool
}

func NewBodyAutocloser(table *resources.Table, rid resources.ID) *BodyAutocloser {
	return &BodyAutocloser{table: table, rid: rid}
}

// ResourceID returns the id of the adopted body resource.
func (a *BodyAutocloser) ResourceID() resources.ID { return a.rid }

// Close takes the resource out of the table and closes it. Double
// close and close of a resource already taken by someone else are both
// tolerated silently: the table owns final identity.
func (a *BodyAutocloser) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.table.Close(a.rid)
}
