// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package http1 implements the minimal HTTP/1.x wire framing the
// connection loop needs: request-head parsing, body framing
// (Content-Length and chunked), and response-head, chunk, and trailer
// writing.
package http1

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMalformedHead  = errors.New("http1: malformed request head")
	ErrHeaderTooLarge = errors.New("http1: request head exceeds limit")
)

// Request is a parsed request head plus its framed body stream.
type Request struct {
	Method        string
	RequestURI    string
	Proto         string // "HTTP/1.0" or "HTTP/1.1"
	Header        http.Header
	ContentLength int64 // -1 when chunked
	Body          io.ReadCloser
}

// Reader parses requests off a buffered connection.
type Reader struct {
	BR       *bufio.Reader
	MaxBytes int // cap on the whole head, request line plus headers; 0 means unlimited
}

// ReadRequest parses one request head and wires up the body stream.
// The body reads directly from the underlying bufio.Reader, so the
// caller must fully consume or drain it before parsing the next
// request.
func (r *Reader) ReadRequest() (*Request, error) {
	remain := r.MaxBytes
	line, err := readLine(r.BR, remain)
	if err != nil {
		return nil, err
	}
	if r.MaxBytes > 0 {
		remain -= len(line) + 2
	}
	method, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, ErrMalformedHead
	}
	uri, proto, ok := strings.Cut(rest, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, ErrMalformedHead
	}
	hdr, err := r.readHeader(remain)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:     method,
		RequestURI: uri,
		Proto:      proto,
		Header:     hdr,
	}
	switch {
	case isChunked(hdr):
		req.ContentLength = -1
		req.Body = &chunkedBody{br: r.BR, maxBytes: r.MaxBytes}
	case hdr.Get("Content-Length") != "":
		n, err := strconv.ParseInt(strings.TrimSpace(hdr.Get("Content-Length")), 10, 64)
		if err != nil || n < 0 {
			return nil, ErrMalformedHead
		}
		req.ContentLength = n
		if n == 0 {
			req.Body = emptyBody{}
		} else {
			req.Body = &lengthBody{lr: io.LimitedReader{R: r.BR, N: n}}
		}
	default:
		req.Body = emptyBody{}
	}
	return req, nil
}

// readHeader reads header lines through the terminating blank line,
// charging each against the remaining head budget (ignored when
// MaxBytes is zero).
func (r *Reader) readHeader(remain int) (http.Header, error) {
	bounded := r.MaxBytes > 0
	h := make(http.Header)
	for {
		if bounded && remain <= 0 {
			return nil, ErrHeaderTooLarge
		}
		line, err := readLine(r.BR, remain)
		if err != nil {
			return nil, err
		}
		if bounded {
			remain -= len(line) + 2
		}
		if line == "" {
			return h, nil
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok || k == "" || k != strings.TrimSpace(k) {
			return nil, ErrMalformedHead
		}
		h[textproto.CanonicalMIMEHeaderKey(k)] = append(h[textproto.CanonicalMIMEHeaderKey(k)], strings.TrimSpace(v))
	}
}

// readLine reads a CRLF- (or bare LF-) terminated line, excluding the
// terminator.
func readLine(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", ErrHeaderTooLarge
		}
	}
	return sb.String(), nil
}

func isChunked(h http.Header) bool {
	for _, v := range h.Values("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

type emptyBody struct{}

func (emptyBody) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyBody) Close() error             { return nil }

// lengthBody frames a Content-Length body. Close drains what the
// handler did not read so the connection can carry the next request.
type lengthBody struct {
	lr io.LimitedReader
}

func (b *lengthBody) Read(p []byte) (int, error) { return b.lr.Read(p) }

func (b *lengthBody) Close() error {
	if b.lr.N <= 0 {
		return nil
	}
	_, err := io.Copy(io.Discard, &b.lr)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return err
}
