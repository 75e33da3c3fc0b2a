// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay implements the per-request server-side lifecycle
// engine bridging an HTTP/1 connection loop with a handler runtime
// running on its own goroutine.
//
// For each accepted request the connection loop builds a Record, the
// per-request object owning the parsed head, the body stream, and the
// response under construction, and ships a shared handle to the
// handler runtime over a bounded delivery channel. The handler fills
// in the response, optionally adopts the request body as a table
// resource or extracts the raw connection for a protocol upgrade, and
// signals completion. The connection loop resumes, writes the
// response bytes, and returns the record shell to a pool that recycles
// allocations and response header maps across requests.
//
// The engine survives connection-side cancellation at every suspension
// point: abandoning HandleRequest runs the record's cancel transition
// synchronously, releasing adopted body resources without leaking the
// record out from under a still-running handler.
package relay

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
)

// DefaultDeliveryCapacity is the delivery channel bound used when the
// embedder does not choose one.
const DefaultDeliveryCapacity = 10

// ConnInfo is immutable metadata describing the connection a request
// arrived on.
type ConnInfo struct {
	LocalAddr  net.Addr
	RemoteAddr net.Addr
	StreamType string // "tcp", "tls", or "unix"
}

// RequestHead is the parsed request line plus headers.
type RequestHead struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        http.Header
	ContentLength int64 // -1 when framed chunked
}

// IncomingRequest is what the framer hands to the bridge: the parsed
// head, the raw framed body stream, and (when the framer is willing to
// relinquish the connection) the upgrade hook installed by
// AllowUpgrade.
type IncomingRequest struct {
	Head RequestHead
	Body io.ReadCloser

	upgrade *upgradeState
}

// streamType classifies a connection for ConnInfo.
func streamType(c net.Conn) string {
	switch c.(type) {
	case *tls.Conn:
		return "tls"
	case *net.UnixConn:
		return "unix"
	default:
		return "tcp"
	}
}
