// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package http1

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

var errChunkFormat = errors.New("http1: invalid chunk framing")

// chunkedBody frames a Transfer-Encoding: chunked request body.
// Trailer lines after the terminal chunk are read and discarded.
type chunkedBody struct {
	br       *bufio.Reader
	remain   int64
	started  bool
	eof      bool
	maxBytes int
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.eof {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if c.started {
			if err := c.expectCRLF(); err != nil {
				return 0, err
			}
		}
		c.started = true
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.discardTrailers(); err != nil {
				return 0, err
			}
			c.eof = true
			return 0, io.EOF
		}
		c.remain = size
	}
	n := int64(len(p))
	if n > c.remain {
		n = c.remain
	}
	rn, err := io.ReadFull(c.br, p[:n])
	c.remain -= int64(rn)
	return rn, err
}

// Close drains through the terminal chunk so a keep-alive connection
// stays usable.
func (c *chunkedBody) Close() error {
	buf := make([]byte, 1<<10)
	for !c.eof {
		if _, err := c.Read(buf); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := readLine(c.br, c.maxBytes)
	if err != nil {
		return 0, err
	}
	// Drop chunk extensions.
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, errChunkFormat
	}
	return n, nil
}

func (c *chunkedBody) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return errChunkFormat
	}
	return nil
}

// discardTrailers reads and drops trailer lines. The whole trailer
// block is charged against the same budget a head gets, so a peer
// cannot stream trailers without bound.
func (c *chunkedBody) discardTrailers() error {
	bounded := c.maxBytes > 0
	remain := c.maxBytes
	for {
		if bounded && remain <= 0 {
			return ErrHeaderTooLarge
		}
		line, err := readLine(c.br, remain)
		if err != nil {
			return err
		}
		if bounded {
			remain -= len(line) + 2
		}
		if line == "" {
			return nil
		}
	}
}
