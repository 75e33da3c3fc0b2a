// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/trafficlab/relay/resources"
)

// DialOptions configure an outbound connection.
type DialOptions struct {
	// Headers are extra handshake headers. Headers the protocol owns
	// are dropped, not overridden.
	Headers http.Header

	RootCAs *x509.CertPool
	// InsecureHosts skip certificate verification for the named hosts.
	InsecureHosts []string
}

// disallowedHeaders are handshake headers the caller may not supply;
// the protocol layer generates them.
var disallowedHeaders = map[string]bool{
	"Host":                     true,
	"Sec-Websocket-Accept":     true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Protocol":   true,
	"Sec-Websocket-Version":    true,
	"Upgrade":                  true,
	"Connection":               true,
}

func sanitizeHeaders(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := make(http.Header, len(h))
	for name, vals := range h {
		if disallowedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = vals
	}
	return out
}

// Dial opens a client socket and registers it. http and https schemes
// are accepted as aliases for ws and wss. Handshake failures of any
// kind wrap ErrHandshake.
func (e *Engine) Dial(ctx context.Context, rawURL string, opts *DialOptions) (resources.ID, error) {
	if opts == nil {
		opts = &DialOptions{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return 0, fmt.Errorf("%w: unsupported scheme %q", ErrHandshake, u.Scheme)
	}

	tlsConf := &tls.Config{RootCAs: opts.RootCAs}
	for _, host := range opts.InsecureHosts {
		if host == u.Hostname() {
			tlsConf.InsecureSkipVerify = true
		}
	}

	d := ws.Dialer{
		TLSConfig: tlsConf,
	}
	if hdr := sanitizeHeaders(opts.Headers); hdr != nil {
		d.Header = ws.HandshakeHeaderHTTP(hdr)
	}

	conn, br, _, err := d.Dial(ctx, u.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	s := newSocket(conn, br, true, e.Logger)
	rid := e.Table.Add(s)
	e.Logger.Debug("websocket dialed",
		zap.Uint32("rid", uint32(rid)),
		zap.String("url", u.String()))
	return rid, nil
}
