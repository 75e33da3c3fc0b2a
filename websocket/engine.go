// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/trafficlab/relay"
	"github.com/trafficlab/relay/resources"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Engine registers sockets in a resource table and drives them by ID.
type Engine struct {
	Table  *resources.Table
	Logger *zap.Logger
}

func NewEngine(table *resources.Table, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Table: table, Logger: log}
}

// CreateServerStream wraps an upgraded connection into a socket and
// registers it. Leftover holds bytes the HTTP layer read past the
// request head; they are re-presented to the frame reader before any
// new reads from the connection.
func (e *Engine) CreateServerStream(up *relay.Upgraded) resources.ID {
	var br *bufio.Reader
	if len(up.Leftover) > 0 {
		br = bufio.NewReader(io.MultiReader(bytes.NewReader(up.Leftover), up.Conn))
	}
	s := newSocket(up.Conn, br, false, e.Logger)
	return e.Table.Add(s)
}

// Accept performs the server side of the upgrade handshake on a
// request record: it validates the handshake headers, fills in the
// 101 response, claims the connection, and registers the resulting
// socket. The record is completed by the upgrade.
func (e *Engine) Accept(ctx context.Context, rec *relay.Record) (resources.ID, error) {
	head := rec.Head()
	key := head.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return 0, fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrHandshake)
	}
	if v := head.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return 0, fmt.Errorf("%w: unsupported version %q", ErrHandshake, v)
	}
	if !headerHasToken(head.Header, "Upgrade", "websocket") {
		return 0, fmt.Errorf("%w: not an upgrade request", ErrHandshake)
	}

	resp := rec.Response()
	resp.Status = http.StatusSwitchingProtocols
	resp.Header.Set("Upgrade", "websocket")
	resp.Header.Set("Connection", "Upgrade")
	resp.Header.Set("Sec-WebSocket-Accept", AcceptKey(key))
	if proto := head.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		if first, _, _ := strings.Cut(proto, ","); first != "" {
			resp.Header.Set("Sec-WebSocket-Protocol", strings.TrimSpace(first))
		}
	}

	fut, err := rec.Upgrade()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	up, err := fut.Await(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	rid := e.CreateServerStream(up)
	e.Logger.Debug("websocket accepted",
		zap.Uint32("rid", uint32(rid)),
		zap.String("remote", up.Conn.RemoteAddr().String()))
	return rid, nil
}

func (e *Engine) socket(rid resources.ID) (*Socket, error) {
	res, err := e.Table.Get(rid)
	if err != nil {
		return nil, err
	}
	s, ok := res.(*Socket)
	if !ok {
		return nil, fmt.Errorf("websocket: resource %d is not a socket", rid)
	}
	return s, nil
}

// NextEvent reads the next event from the socket with the given ID.
func (e *Engine) NextEvent(rid resources.ID) (Event, error) {
	s, err := e.socket(rid)
	if err != nil {
		return Event{}, err
	}
	return s.NextEvent()
}

func (e *Engine) SendText(rid resources.ID, msg string) error {
	s, err := e.socket(rid)
	if err != nil {
		return err
	}
	return s.SendText(msg)
}

func (e *Engine) SendBinary(rid resources.ID, p []byte) error {
	s, err := e.socket(rid)
	if err != nil {
		return err
	}
	return s.SendBinary(p)
}

func (e *Engine) Ping(rid resources.ID, p []byte) error {
	s, err := e.socket(rid)
	if err != nil {
		return err
	}
	return s.Ping(p)
}

// CloseSocket sends a close frame, then removes the socket from the
// table and tears down the transport.
func (e *Engine) CloseSocket(rid resources.ID, code uint16, reason string) error {
	s, err := e.socket(rid)
	if err != nil {
		return err
	}
	if err := s.CloseWith(code, reason); err != nil {
		e.Logger.Debug("close frame failed", zap.Error(err))
	}
	return e.Table.Close(rid)
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
