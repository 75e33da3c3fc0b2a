// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package http1

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
)

// WriteResponseHead writes the status line and header block. The
// caller decides connection management and transfer framing and passes
// them in as ordinary header fields before calling.
func WriteResponseHead(bw *bufio.Writer, status int, h http.Header) error {
	reason := http.StatusText(status)
	if reason == "" {
		reason = "Status"
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	for k, vv := range h {
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, sanitizeValue(v)); err != nil {
				return err
			}
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// WriteChunk writes one chunk of a chunked response body. Zero-length
// chunks are skipped; the terminal chunk belongs to EndChunked.
func WriteChunk(bw *bufio.Writer, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return err
	}
	if _, err := bw.Write(p); err != nil {
		return err
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// EndChunked writes the terminal chunk and, if trailers is non-empty,
// the trailer block. Trailers appear strictly after the last body
// chunk.
func EndChunked(bw *bufio.Writer, trailers http.Header) error {
	if _, err := bw.WriteString("0\r\n"); err != nil {
		return err
	}
	for k, vv := range trailers {
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, sanitizeValue(v)); err != nil {
				return err
			}
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// WriteContinue writes the 100 Continue interim response.
func WriteContinue(bw *bufio.Writer) error {
	_, err := bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

// sanitizeValue strips CR, LF, and control bytes other than HTAB so a
// header value cannot split the head.
func sanitizeValue(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; c == 0x7f || (c < 0x20 && c != '\t') {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var sb strings.Builder
	sb.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
