// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import "errors"

var (
	// ErrUpgradeUnavailable is returned by Record.Upgrade when the
	// framer did not offer to relinquish the connection for this
	// request.
	ErrUpgradeUnavailable = errors.New("relay: connection upgrade unavailable")

	// ErrChannelClosed is returned by HandleRequest when the delivery
	// channel has no receiver. A closed delivery channel is an
	// embedder programming error.
	ErrChannelClosed = errors.New("relay: record delivery channel closed")

	// ErrBodyResourceMissing is returned by TakeResource when the
	// request body has not been adopted as a table resource.
	ErrBodyResourceMissing = errors.New("relay: request body resource missing")

	// ErrHandlerAbsent is the panic value raised when a record is
	// released without Complete having run and without the cancel
	// transition having fired first. It marks an invariant violation,
	// never an expected condition.
	ErrHandlerAbsent = errors.New("relay: record released without completion")
)
