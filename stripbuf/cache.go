// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package stripbuf

import "sync"

// cacheSlots is the number of recently-resolved nodes remembered per buffer.
const cacheSlots = 32

// accessCache remembers the nodes most recently resolved by index so that
// repeated lookups skip the linear scan of the list. The filter touches rows
// y-1, y, y+1 and the writer walks monotonically, so a small fixed window
// absorbs nearly every lookup.
type accessCache struct {
	mu     sync.Mutex
	slots  [cacheSlots]*node
	cursor int

	totalAccess uint64
	misses      uint64
}

// CacheStats reports the lookup counters of a buffer's access cache. Both
// counters only ever grow; they are read for diagnostics at shutdown.
type CacheStats struct {
	TotalAccess uint64
	Misses      uint64
}

// lookup returns the cached node with the given index, or nil on a miss.
func (c *accessCache) lookup(index int) *node {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalAccess++
	for _, n := range c.slots {
		if n != nil && n.index == index {
			return n
		}
	}
	c.misses++
	return nil
}

// lookupParent returns a cached node whose successor is n, or nil. Removal
// needs the predecessor of its victim, and the predecessor is usually a
// recent lookup.
func (c *accessCache) lookupParent(n *node) *node {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalAccess++
	for _, s := range c.slots {
		if s != nil && s.next == n {
			return s
		}
	}
	c.misses++
	return nil
}

// insert records n, preferring the first empty slot and otherwise overwriting
// at a rotating cursor. Inserting an already-cached node is a no-op.
func (c *accessCache) insert(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.cursor
	free := false
	for i, s := range c.slots {
		if s == n {
			return
		}
		if s == nil && !free {
			slot, free = i, true
		}
	}
	c.slots[slot] = n
	if slot == c.cursor {
		c.cursor = (c.cursor + 1) % cacheSlots
	}
}

// evict clears the slot holding n, if any. The cursor is left alone; the
// freed slot is reused through the first-empty-slot rule.
func (c *accessCache) evict(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.slots {
		if s == n {
			c.slots[i] = nil
			break
		}
	}
}

// clear empties every slot. Counters are preserved.
func (c *accessCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = nil
	}
}

func (c *accessCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{TotalAccess: c.totalAccess, Misses: c.misses}
}
