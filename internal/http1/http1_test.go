// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package http1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func newReader(s string) *Reader {
	return &Reader{BR: bufio.NewReader(strings.NewReader(s))}
}

func TestReadRequestSimple(t *testing.T) {
	rd := newReader("GET /index HTTP/1.1\r\nHost: example.com\r\nX-Thing: a\r\n\r\n")
	req, err := rd.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != "GET" || req.RequestURI != "/index" || req.Proto != "HTTP/1.1" {
		t.Errorf("head = %q %q %q", req.Method, req.RequestURI, req.Proto)
	}
	if got := req.Header.Get("Host"); got != "example.com" {
		t.Errorf("Host = %q", got)
	}
	if req.ContentLength != 0 {
		t.Errorf("ContentLength = %d; want 0", req.ContentLength)
	}
	if b, _ := io.ReadAll(req.Body); len(b) != 0 {
		t.Errorf("body = %q; want empty", b)
	}
}

func TestReadRequestContentLength(t *testing.T) {
	rd := newReader("POST /p HTTP/1.1\r\nContent-Length: 5\r\n\r\nhellotrailing")
	req, err := rd.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.ContentLength != 5 {
		t.Errorf("ContentLength = %d; want 5", req.ContentLength)
	}
	b, err := io.ReadAll(req.Body)
	if err != nil || string(b) != "hello" {
		t.Errorf("body = %q, %v; want hello", b, err)
	}
	// The next request's bytes stay in the buffered reader.
	rest, _ := io.ReadAll(rd.BR)
	if string(rest) != "trailing" {
		t.Errorf("leftover = %q; want trailing", rest)
	}
}

func TestReadRequestChunked(t *testing.T) {
	rd := newReader("POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6;ext=1\r\n world\r\n0\r\nX-Trailer: v\r\n\r\n")
	req, err := rd.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.ContentLength != -1 {
		t.Errorf("ContentLength = %d; want -1", req.ContentLength)
	}
	b, err := io.ReadAll(req.Body)
	if err != nil || string(b) != "hello world" {
		t.Fatalf("body = %q, %v", b, err)
	}
}

func TestReadRequestMalformed(t *testing.T) {
	for _, in := range []string{
		"GET\r\n\r\n",
		"GET /\r\n\r\n",
		"GET / HTTP/1.1\r\nNoColonHere\r\n\r\n",
	} {
		rd := newReader(in)
		if _, err := rd.ReadRequest(); !errors.Is(err, ErrMalformedHead) {
			t.Errorf("ReadRequest(%q) = %v; want ErrMalformedHead", in, err)
		}
	}
}

func TestReadRequestHeaderTooLarge(t *testing.T) {
	rd := newReader("GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 100) + "\r\n\r\n")
	rd.MaxBytes = 64
	if _, err := rd.ReadRequest(); !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("ReadRequest = %v; want ErrHeaderTooLarge", err)
	}
}

func TestReadRequestHeadBudgetIsCumulative(t *testing.T) {
	// Each line fits the limit on its own; together they exceed it.
	var sb strings.Builder
	sb.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "X-Pad-%03d: aaaaaaaaaaaaaaaa\r\n", i)
	}
	sb.WriteString("\r\n")
	rd := newReader(sb.String())
	rd.MaxBytes = 512
	if _, err := rd.ReadRequest(); !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("ReadRequest = %v; want ErrHeaderTooLarge", err)
	}
}

func TestChunkedTrailerBudget(t *testing.T) {
	var sb bytes.Buffer
	sb.WriteString("POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")
	sb.WriteString("1\r\nx\r\n0\r\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "X-Trailer-%03d: aaaaaaaaaaaaaaaa\r\n", i)
	}
	sb.WriteString("\r\n")
	rd := newReader(sb.String())
	rd.MaxBytes = 512
	req, err := rd.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if _, err := io.ReadAll(req.Body); !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("body read = %v; want ErrHeaderTooLarge", err)
	}
}

func TestBodyCloseDrains(t *testing.T) {
	rd := newReader("POST /p HTTP/1.1\r\nContent-Length: 5\r\n\r\nhellonext")
	req, err := rd.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if err := req.Body.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rest, _ := io.ReadAll(rd.BR)
	if string(rest) != "next" {
		t.Errorf("leftover after drain = %q; want next", rest)
	}
}

func TestWriteResponseHead(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	if err := WriteResponseHead(bw, 200, h); err != nil {
		t.Fatalf("WriteResponseHead: %v", err)
	}
	bw.Flush()
	got := buf.String()
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("status line wrong: %q", got)
	}
	if !strings.Contains(got, "Content-Type: text/plain\r\n") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n") {
		t.Errorf("missing terminator: %q", got)
	}
}

func TestWriteResponseHeadSanitizes(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	h := http.Header{}
	h.Set("X-Evil", "a\r\nInjected: yes")
	if err := WriteResponseHead(bw, 200, h); err != nil {
		t.Fatalf("WriteResponseHead: %v", err)
	}
	bw.Flush()
	if strings.Contains(buf.String(), "Injected:") {
		t.Errorf("header injection not stripped: %q", buf.String())
	}
}

func TestChunkedWriter(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := WriteChunk(bw, []byte("hello")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := WriteChunk(bw, nil); err != nil {
		t.Fatalf("WriteChunk empty: %v", err)
	}
	tr := http.Header{}
	tr.Set("X-T", "1")
	if err := EndChunked(bw, tr); err != nil {
		t.Fatalf("EndChunked: %v", err)
	}
	bw.Flush()
	got := buf.String()
	want := "5\r\nhello\r\n0\r\nX-T: 1\r\n\r\n"
	if got != want {
		t.Errorf("chunked stream = %q; want %q", got, want)
	}
}
