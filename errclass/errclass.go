// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errclass maps Go errors onto the stable class names the
// embedder surfaces to handler code. Classification walks wrapped
// chains with errors.Is; the first matching rule wins and unknown
// errors fall through to the generic "Error" class.
package errclass

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"syscall"

	"github.com/trafficlab/relay"
	"github.com/trafficlab/relay/websocket"
)

// Class names. The set is fixed; callers switch on these strings.
const (
	Error                    = "Error"
	TypeError                = "TypeError"
	Http                     = "Http"
	InvalidData              = "InvalidData"
	URIError                 = "URIError"
	NotFound                 = "NotFound"
	PermissionDenied         = "PermissionDenied"
	AlreadyExists            = "AlreadyExists"
	ConnectionReset          = "ConnectionReset"
	ConnectionAborted        = "ConnectionAborted"
	ConnectionRefused        = "ConnectionRefused"
	BrokenPipe               = "BrokenPipe"
	FilesystemLoop           = "FilesystemLoop"
	IsADirectory             = "IsADirectory"
	NotADirectory            = "NotADirectory"
	NetworkUnreachable       = "NetworkUnreachable"
	TimedOut                 = "TimedOut"
	Interrupted              = "Interrupted"
	WriteZero                = "WriteZero"
	UnexpectedEof            = "UnexpectedEof"
	DOMExceptionNetworkError = "DOMExceptionNetworkError"
)

type rule func(error) (string, bool)

var rules = []rule{
	relayKind,
	websocketKind,
	fsKind,
	syscallKind,
	urlKind,
	timeoutKind,
	ioKind,
}

// Classify returns the class name for err. A nil error classifies as
// the generic class.
func Classify(err error) string {
	if err == nil {
		return Error
	}
	for _, r := range rules {
		if name, ok := r(err); ok {
			return name
		}
	}
	return Error
}

func relayKind(err error) (string, bool) {
	switch {
	case errors.Is(err, relay.ErrUpgradeUnavailable),
		errors.Is(err, relay.ErrBodyResourceMissing):
		return TypeError, true
	case errors.Is(err, relay.ErrChannelClosed),
		errors.Is(err, relay.ErrHandlerAbsent):
		return Http, true
	}
	return "", false
}

func websocketKind(err error) (string, bool) {
	switch {
	case errors.Is(err, websocket.ErrHandshake):
		return DOMExceptionNetworkError, true
	case errors.Is(err, websocket.ErrUnexpectedContinuation):
		return TypeError, true
	case errors.Is(err, websocket.ErrInvalidUTF8):
		return InvalidData, true
	}
	return "", false
}

func fsKind(err error) (string, bool) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NotFound, true
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied, true
	case errors.Is(err, fs.ErrExist):
		return AlreadyExists, true
	}
	return "", false
}

var errnoClasses = map[syscall.Errno]string{
	syscall.ECONNRESET:   ConnectionReset,
	syscall.ECONNABORTED: ConnectionAborted,
	syscall.ECONNREFUSED: ConnectionRefused,
	syscall.EPIPE:        BrokenPipe,
	syscall.ELOOP:        FilesystemLoop,
	syscall.EISDIR:       IsADirectory,
	syscall.ENOTDIR:      NotADirectory,
	syscall.ENETUNREACH:  NetworkUnreachable,
	syscall.ETIMEDOUT:    TimedOut,
	syscall.EINTR:        Interrupted,
	syscall.EACCES:       PermissionDenied,
	syscall.ENOENT:       NotFound,
	syscall.EEXIST:       AlreadyExists,
}

func syscallKind(err error) (string, bool) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return "", false
	}
	name, ok := errnoClasses[errno]
	return name, ok
}

func urlKind(err error) (string, bool) {
	var uerr *url.Error
	if errors.As(err, &uerr) && !uerr.Timeout() {
		return URIError, true
	}
	return "", false
}

func timeoutKind(err error) (string, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut, true
	}
	var terr interface{ Timeout() bool }
	if errors.As(err, &terr) && terr.Timeout() {
		return TimedOut, true
	}
	return "", false
}

func ioKind(err error) (string, bool) {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return UnexpectedEof, true
	case errors.Is(err, io.ErrShortWrite):
		return WriteZero, true
	}
	return "", false
}
