// Copyright 2026 The Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resources implements the embedder's resource table: an
// id-keyed registry of closable resources (request bodies, upgraded
// sockets) shared between the connection tasks and the handler
// runtime.
//
// The table owns final identity: taking an id removes it, and closing
// an id that is absent is not an error. Callers that need
// close-exactly-once semantics layer it on top (see relay.BodyAutocloser).
package resources

import (
	"errors"
	"sync"
)

// ID names a resource in a Table. IDs are never reused within the
// lifetime of a table.
type ID uint32

// A Resource is anything the table can own. Close is called at most
// once by the table itself (via Table.Close); resources taken out of
// the table are the caller's to close.
type Resource interface {
	Close() error
}

// A Reader is a resource whose bytes can be streamed, such as an
// uploaded request body. The response-body resource producer drives
// one of these.
type Reader interface {
	Resource
	Read(p []byte) (n int, err error)
}

// ErrNotFound is returned by Get when the id is absent.
var ErrNotFound = errors.New("resources: no such resource")

// Table is a registry of live resources. It is safe for concurrent use.
type Table struct {
	mu   sync.Mutex
	next ID
	m    map[ID]Resource
}

func NewTable() *Table {
	return &Table{m: make(map[ID]Resource)}
}

// Add registers r and returns its id.
func (t *Table) Add(r Resource) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.m[t.next] = r
	return t.next
}

// Get returns the resource registered under id without removing it.
func (t *Table) Get(id ID) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Take removes and returns the resource registered under id. The
// second return value reports whether the id was present.
func (t *Table) Take(id ID) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return r, ok
}

// Close takes the resource out of the table and closes it. Closing an
// id that is no longer present is a no-op; the table is the final
// arbiter of identity, so racing closers are tolerated.
func (t *Table) Close(id ID) error {
	r, ok := t.Take(id)
	if !ok {
		return nil
	}
	return r.Close()
}

// Len reports the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
