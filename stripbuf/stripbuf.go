// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package stripbuf

import "sync"

// node is one entry of a buffer. Entries form a singly linked list in
// insertion order; removal preserves the order of the survivors.
type node struct {
	index int
	next  *node
	row   []float32

	mu     sync.Mutex // innermost lock; guards access
	access int
}

func (n *node) bump() {
	n.mu.Lock()
	n.access++
	n.mu.Unlock()
}

// Buffer is a concurrent sequence of rows keyed by row number. Lookups run
// under a shared read lock; Add and Remove take the write lock. A Buffer must
// be created with New.
//
// Lock order, outermost to innermost: Buffer lock, cache mutex, node mutex.
type Buffer struct {
	name string

	mu    sync.RWMutex
	added *sync.Cond // signaled on every Add; waiters hold the read lock

	first   *node
	last    *node
	size    int
	maxSize int

	cache accessCache
}

// New returns an empty buffer. The name appears in diagnostics only.
func New(name string) *Buffer {
	b := &Buffer{name: name}
	b.added = sync.NewCond(b.mu.RLocker())
	return b
}

// Name returns the name given to New.
func (b *Buffer) Name() string { return b.name }

// Add appends a row under the given index with an access count of zero. The
// buffer takes ownership of row; the caller must not retain it. Indexes are
// not deduplicated.
func (b *Buffer) Add(index int, row []float32) {
	n := &node{index: index, row: row}
	b.mu.Lock()
	if b.first == nil {
		b.first = n
	} else {
		b.last.next = n
	}
	b.last = n
	b.size++
	if b.size > b.maxSize {
		b.maxSize = b.size
	}
	b.mu.Unlock()
	b.added.Broadcast()
}

// lookup resolves index to the first node carrying it, consulting the access
// cache before falling back to a scan from the head. The caller must hold
// b.mu, read or write.
func (b *Buffer) lookup(index int) *node {
	if n := b.cache.lookup(index); n != nil {
		return n
	}
	for n := b.first; n != nil; n = n.next {
		if n.index == index {
			b.cache.insert(n)
			return n
		}
	}
	return nil
}

// Get copies the row stored under index into dst and increments the entry's
// access count. It returns false, leaving dst alone, if no entry with that
// index exists. dst must have room for the whole row. The copy is made under
// the buffer's read lock, so the result stays valid regardless of concurrent
// removal.
func (b *Buffer) Get(index int, dst []float32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.lookup(index)
	if n == nil {
		return false
	}
	n.bump()
	copy(dst, n.row)
	return true
}

// WaitGet blocks until an entry with the given index is present, then behaves
// as Get. It is the consumer side of the producer/consumer handshake: the
// producer's Add wakes all waiters.
func (b *Buffer) WaitGet(index int, dst []float32) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for {
		if n := b.lookup(index); n != nil {
			n.bump()
			copy(dst, n.row)
			return
		}
		b.added.Wait()
	}
}

// Access returns the current access count of the entry under index, or -1 if
// absent. It does not itself count as an access.
func (b *Buffer) Access(index int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.lookup(index)
	if n == nil {
		return -1
	}
	n.mu.Lock()
	access := n.access
	n.mu.Unlock()
	return access
}

// Remove drops the first entry with the given index, releasing its row. It is
// a no-op if the index is absent.
func (b *Buffer) Remove(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.first == nil {
		return
	}
	if n := b.lookup(index); n != nil {
		b.unlink(n)
	}
}

func (b *Buffer) unlink(n *node) {
	parent := b.parent(n)
	if parent == nil {
		b.first = n.next
	} else {
		parent.next = n.next
	}
	if n == b.last {
		if parent != nil {
			b.last = parent
		} else {
			b.last = b.first
		}
	}
	b.cache.evict(n)
	b.size--
	n.row = nil
}

// parent returns the node preceding n, or nil when n is the head. Cached
// nodes are live list nodes, so under the write lock a cached predecessor is
// always current.
func (b *Buffer) parent(n *node) *node {
	if b.first == nil || n == b.first {
		return nil
	}
	if p := b.cache.lookupParent(n); p != nil {
		return p
	}
	p := b.first
	for p.next != n {
		p = p.next
	}
	b.cache.insert(p)
	return p
}

// Len returns the number of entries currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// MaxLen returns the high-water mark of Len over the buffer's lifetime.
func (b *Buffer) MaxLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxSize
}

// CacheStats returns the buffer's cache counters.
func (b *Buffer) CacheStats() CacheStats {
	return b.cache.stats()
}

// Reset discards every remaining entry and empties the cache. MaxLen and the
// cache counters survive so they can still be reported afterwards.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n := b.first; n != nil; n = n.next {
		n.row = nil
	}
	b.first, b.last = nil, nil
	b.size = 0
	b.cache.clear()
}
