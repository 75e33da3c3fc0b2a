// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package websocket is the upgrade engine on top of the relay core:
// it turns upgraded server connections and outbound client dials into
// full-duplex sockets registered in the embedder's resource table, and
// exposes the op surface the handler runtime drives them with.
package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

// Event kinds returned by NextEvent, encoded as u16. Close events
// carry the close code in the kind slot instead.
const (
	KindText   uint16 = 0
	KindBinary uint16 = 1
	KindPong   uint16 = 2
	KindPing   uint16 = 3
	KindError  uint16 = 4

	// CloseNoStatus is reported for close frames whose payload is too
	// short to carry a code.
	CloseNoStatus uint16 = 1005
	// CloseAbnormal is reported when the stream ends without a close
	// frame.
	CloseAbnormal uint16 = 1006
)

// Event is one message surfaced by NextEvent.
type Event struct {
	Kind    uint16
	Payload []byte
}

var (
	// ErrUnexpectedContinuation reports a continuation frame arriving
	// outside a fragmented message.
	ErrUnexpectedContinuation = errors.New("Unexpected continuation frame")

	// ErrInvalidUTF8 reports a text message that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("websocket: text frame is not valid UTF-8")

	// ErrHandshake reports a failed upgrade handshake.
	ErrHandshake = errors.New("websocket: handshake failed")

	// ErrClosed reports use of a socket after its close frame.
	ErrClosed = errors.New("websocket: socket closed")
)

// Socket is a full-duplex frame connection with auto-pong and
// auto-close. Reads come through a buffered reader that re-presents
// any pre-read leftover bytes first; writes are serialized so the
// handler and the auto-pong path never interleave frames.
type Socket struct {
	conn   net.Conn
	br     *bufio.Reader
	client bool // mask outbound frames

	wmu       sync.Mutex
	closeSent atomic.Bool
	log       *zap.Logger
}

func newSocket(conn net.Conn, br *bufio.Reader, client bool, log *zap.Logger) *Socket {
	if br == nil {
		br = bufio.NewReader(conn)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Socket{conn: conn, br: br, client: client, log: log}
}

func (s *Socket) readFrame() (ws.Frame, error) {
	f, err := ws.ReadFrame(s.br)
	if err != nil {
		return f, err
	}
	if f.Header.Masked {
		f = ws.UnmaskFrameInPlace(f)
	}
	return f, nil
}

func (s *Socket) writeFrame(f ws.Frame) error {
	if s.client {
		f = ws.MaskFrameInPlace(f)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return ws.WriteFrame(s.conn, f)
}

// SendText writes one unfragmented text message.
func (s *Socket) SendText(msg string) error {
	return s.writeFrame(ws.NewTextFrame([]byte(msg)))
}

// SendBinary writes one unfragmented binary message.
func (s *Socket) SendBinary(p []byte) error {
	return s.writeFrame(ws.NewBinaryFrame(p))
}

func (s *Socket) Ping(p []byte) error {
	return s.writeFrame(ws.NewPingFrame(p))
}

func (s *Socket) Pong(p []byte) error {
	return s.writeFrame(ws.NewPongFrame(p))
}

// CloseWith sends the close frame at most once. Frames already queued
// on the write path are flushed first because writes share one lock,
// preserving send-then-close order.
func (s *Socket) CloseWith(code uint16, reason string) error {
	if !s.closeSent.CompareAndSwap(false, true) {
		return nil
	}
	// 1005 and 1006 are read-side pseudo-codes and never go on the
	// wire; the close frame goes out with an empty payload instead.
	var body []byte
	if code != CloseNoStatus && code != CloseAbnormal {
		body = ws.NewCloseFrameBody(ws.StatusCode(code), reason)
	}
	return s.writeFrame(ws.NewCloseFrame(body))
}

// Close implements resources.Resource: best-effort normal closure,
// then the transport goes down.
func (s *Socket) Close() error {
	s.CloseWith(1000, "")
	return s.conn.Close()
}

// NextEvent blocks for the next message. Ping frames are answered
// before being surfaced; close frames are echoed (auto-close) and
// reported with the close code in the kind slot; a close payload
// shorter than two bytes surfaces as code 1005 with an empty reason.
// A transport that ends without a close frame surfaces as 1006.
//
// Protocol violations (a stray continuation frame, invalid text) are
// returned as errors rather than events.
func (s *Socket) NextEvent() (Event, error) {
	for {
		f, err := s.readFrame()
		if err != nil {
			if isClosedErr(err) {
				return Event{Kind: CloseAbnormal}, nil
			}
			return Event{}, err
		}
		switch f.Header.OpCode {
		case ws.OpPing:
			if err := s.Pong(f.Payload); err != nil {
				s.log.Debug("auto-pong failed", zap.Error(err))
			}
			return Event{Kind: KindPing, Payload: f.Payload}, nil
		case ws.OpPong:
			return Event{Kind: KindPong, Payload: f.Payload}, nil
		case ws.OpText, ws.OpBinary:
			payload, err := s.collect(f)
			if err != nil {
				return Event{}, err
			}
			if f.Header.OpCode == ws.OpText {
				if !utf8.Valid(payload) {
					return Event{}, ErrInvalidUTF8
				}
				return Event{Kind: KindText, Payload: payload}, nil
			}
			return Event{Kind: KindBinary, Payload: payload}, nil
		case ws.OpContinuation:
			return Event{}, ErrUnexpectedContinuation
		case ws.OpClose:
			code, reason := parseClose(f.Payload)
			if err := s.CloseWith(code, ""); err != nil {
				s.log.Debug("auto-close failed", zap.Error(err))
			}
			return Event{Kind: code, Payload: reason}, nil
		default:
			return Event{}, errors.New("websocket: reserved opcode")
		}
	}
}

// collect assembles a fragmented message starting at first. Control
// frames may interleave with the fragments; anything else is a
// protocol violation.
func (s *Socket) collect(first ws.Frame) ([]byte, error) {
	payload := append([]byte(nil), first.Payload...)
	fin := first.Header.Fin
	for !fin {
		f, err := s.readFrame()
		if err != nil {
			return nil, err
		}
		switch f.Header.OpCode {
		case ws.OpContinuation:
			payload = append(payload, f.Payload...)
			fin = f.Header.Fin
		case ws.OpPing:
			if err := s.Pong(f.Payload); err != nil {
				s.log.Debug("auto-pong failed", zap.Error(err))
			}
		case ws.OpPong:
			// Ignore.
		case ws.OpClose:
			return nil, ErrClosed
		default:
			return nil, errors.New("websocket: interleaved data frame in fragmented message")
		}
	}
	return payload, nil
}

// parseClose splits a close payload into code and reason. Close frames
// with fewer than two payload bytes carry no code.
func parseClose(p []byte) (uint16, []byte) {
	if len(p) < 2 {
		return CloseNoStatus, nil
	}
	return binary.BigEndian.Uint16(p[:2]), p[2:]
}

func isClosedErr(err error) bool {
	return err == io.EOF ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
