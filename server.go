// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trafficlab/relay/internal/http1"
)

// maxDrainBytes bounds how much of an unread request body the loop
// drains to keep a connection reusable; larger leftovers close it.
const maxDrainBytes = 1 << 20

// Server accepts HTTP/1 connections and drives the bridge for each
// request. It is the in-repo framer: head parsing and response framing
// live in internal/http1, while records, pooling, and completion
// signalling are the engine's.
type Server struct {
	Addr   string
	Logger *zap.Logger // nil means no logging

	// DeliveryCapacity bounds the record channel to the handler
	// runtime; zero means DefaultDeliveryCapacity.
	DeliveryCapacity int

	MaxHeaderBytes    int
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	initOnce sync.Once
	pool     *Pool
	deliver  chan *Record
	log      *zap.Logger
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.pool = NewPool()
		capacity := s.DeliveryCapacity
		if capacity <= 0 {
			capacity = DefaultDeliveryCapacity
		}
		s.deliver = make(chan *Record, capacity)
		s.log = s.Logger
		if s.log == nil {
			s.log = zap.NewNop()
		}
	})
}

// Records returns the delivery channel. The handler runtime's
// dispatcher loop is its single consumer; each received record must be
// completed (or upgraded) exactly once.
func (s *Server) Records() <-chan *Record {
	s.init()
	return s.deliver
}

// Pool returns the server's record pool.
func (s *Server) Pool() *Pool {
	s.init()
	return s.pool
}

func (s *Server) maxHeaderBytes() int {
	if s.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return s.MaxHeaderBytes
}

func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Accept fails. Closing ln is
// how the embedder stops the server.
func (s *Server) Serve(ln net.Listener) error {
	s.init()
	defer ln.Close()
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(c)
	}
}

type serverConn struct {
	srv      *Server
	conn     net.Conn
	cr       *connReader
	br       *bufio.Reader
	bw       *bufio.Writer
	log      *zap.Logger
	hijacked bool
}

func (s *Server) serveConn(c net.Conn) {
	cr := &connReader{c: c}
	sc := &serverConn{
		srv:  s,
		conn: c,
		cr:   cr,
		br:   bufio.NewReader(cr),
		bw:   bufio.NewWriter(c),
		log:  s.log.With(zap.String("remote", c.RemoteAddr().String())),
	}
	defer func() {
		if !sc.hijacked {
			c.Close()
		}
	}()
	sc.serve()
}

func (sc *serverConn) serve() {
	info := ConnInfo{
		LocalAddr:  sc.conn.LocalAddr(),
		RemoteAddr: sc.conn.RemoteAddr(),
		StreamType: streamType(sc.conn),
	}
	rd := &http1.Reader{BR: sc.br, MaxBytes: sc.srv.maxHeaderBytes()}
	for {
		if d := sc.srv.ReadHeaderTimeout; d > 0 {
			sc.conn.SetReadDeadline(time.Now().Add(d))
		}
		req, err := rd.ReadRequest()
		if err != nil {
			sc.replyParseError(err)
			return
		}
		sc.conn.SetReadDeadline(time.Time{})

		if !sc.serveRequest(req, info) {
			return
		}
		if d := sc.srv.IdleTimeout; d > 0 {
			sc.conn.SetReadDeadline(time.Now().Add(d))
		}
	}
}

// replyParseError sends a best-effort 400 for malformed heads. Clean
// EOF between requests is the normal end of a keep-alive connection
// and stays quiet.
func (sc *serverConn) replyParseError(err error) {
	if err == io.EOF {
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return
	}
	sc.log.Debug("malformed request head", zap.Error(err))
	hdr := http.Header{
		"Content-Length": {"0"},
		"Connection":     {"close"},
	}
	if http1.WriteResponseHead(sc.bw, http.StatusBadRequest, hdr) == nil {
		sc.bw.Flush()
	}
}

func (sc *serverConn) serveRequest(req *http1.Request, info ConnInfo) (alive bool) {
	keepAlive := wantKeepAlive(req)

	in := &IncomingRequest{
		Head: RequestHead{
			Method:        req.Method,
			RequestURI:    req.RequestURI,
			Proto:         req.Proto,
			Header:        req.Header,
			ContentLength: req.ContentLength,
		},
		Body: req.Body,
	}
	var fulfill func(*Upgraded)
	if isUpgradeRequest(req.Header) {
		fulfill = in.AllowUpgrade()
	}

	if strings.EqualFold(req.Header.Get("Expect"), "100-continue") {
		if http1.WriteContinue(sc.bw) != nil || sc.bw.Flush() != nil {
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With no body left to arrive and nothing pipelined, a background
	// read turns a dropped peer into cancellation of this record.
	watching := false
	if req.ContentLength == 0 && fulfill == nil && sc.br.Buffered() == 0 {
		sc.cr.startBackground(cancel)
		watching = true
	}

	resp, err := HandleRequest(ctx, sc.srv.pool, sc.srv.deliver, in, info)
	if watching {
		sc.cr.stop()
	}
	if err != nil {
		sc.log.Debug("request abandoned", zap.Error(err))
		return false
	}
	return sc.writeResponse(resp, req, keepAlive, fulfill)
}

func (sc *serverConn) writeResponse(resp *Response, req *http1.Request, keepAlive bool, fulfill func(*Upgraded)) (alive bool) {
	defer resp.Release()

	if d := sc.srv.WriteTimeout; d > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(d))
		defer sc.conn.SetWriteDeadline(time.Time{})
	}

	if resp.rec.wasUpgraded() {
		return sc.finishUpgrade(resp, fulfill)
	}

	// Reclaim whatever of the request body the handler left unread so
	// the next request can be parsed; give up on reuse rather than
	// drain without bound.
	if req.ContentLength < 0 || req.ContentLength > maxDrainBytes {
		keepAlive = false
	} else if req.Body.Close() != nil {
		return false
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	hdr := resp.Header
	hdr.Del("Connection")

	noBody := req.Method == "HEAD" || status == http.StatusNoContent ||
		status == http.StatusNotModified || status/100 == 1

	chunked := false
	if !noBody {
		if n, ok := resp.Body.KnownLength(); ok {
			hdr.Set("Content-Length", strconv.FormatInt(n, 10))
		} else if req.Proto == "HTTP/1.1" {
			chunked = true
			hdr.Set("Transfer-Encoding", "chunked")
		} else {
			// HTTP/1.0 without a length: the close delimits the body.
			keepAlive = false
		}
	}
	if keepAlive {
		hdr.Set("Connection", "keep-alive")
	} else {
		hdr.Set("Connection", "close")
	}
	if http1.WriteResponseHead(sc.bw, status, hdr) != nil {
		return false
	}

	if err := sc.writeBody(resp.Body, noBody, chunked); err != nil {
		sc.log.Debug("response body aborted", zap.Error(err))
		return false
	}
	if sc.bw.Flush() != nil {
		return false
	}
	return keepAlive
}

// writeBody drives the sink to exhaustion. Even a suppressed body
// (HEAD, 204) is driven so the completion handle fires and the
// producer's autocloser drops.
func (sc *serverConn) writeBody(body *BodySink, noBody, chunked bool) error {
	for {
		chunk, err := body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if noBody || len(chunk) == 0 {
			continue
		}
		if chunked {
			if err := http1.WriteChunk(sc.bw, chunk); err != nil {
				return err
			}
			// Flush per chunk so the body streams.
			if err := sc.bw.Flush(); err != nil {
				return err
			}
		} else {
			if _, err := sc.bw.Write(chunk); err != nil {
				return err
			}
		}
	}
	if chunked {
		return http1.EndChunked(sc.bw, body.Trailers().take())
	}
	return nil
}

// finishUpgrade writes the switching head, relinquishes the raw
// connection to the handler through the upgrade future, and retires
// this loop without closing the socket.
func (sc *serverConn) finishUpgrade(resp *Response, fulfill func(*Upgraded)) bool {
	status := resp.Status
	if status == 0 {
		status = http.StatusSwitchingProtocols
	}
	if http1.WriteResponseHead(sc.bw, status, resp.Header) != nil {
		return false
	}
	if sc.bw.Flush() != nil {
		return false
	}
	var leftover []byte
	if n := sc.br.Buffered(); n > 0 {
		peek, _ := sc.br.Peek(n)
		leftover = append([]byte(nil), peek...)
		sc.br.Discard(n)
	}
	sc.hijacked = true
	sc.conn.SetReadDeadline(time.Time{})
	fulfill(&Upgraded{Conn: sc.conn, Leftover: leftover})
	return false
}

func wantKeepAlive(req *http1.Request) bool {
	conn := strings.ToLower(req.Header.Get("Connection"))
	if req.Proto == "HTTP/1.1" {
		return !headerHasToken(conn, "close")
	}
	return headerHasToken(conn, "keep-alive")
}

func isUpgradeRequest(h http.Header) bool {
	return h.Get("Upgrade") != "" &&
		headerHasToken(strings.ToLower(h.Get("Connection")), "upgrade")
}

// headerHasToken reports whether the comma-separated header value v
// contains token (both already lowercased).
func headerHasToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == token {
			return true
		}
	}
	return false
}
