package neigh

import "sync/atomic"

// This file implements the bulk management operations consumed by the
// out-of-process admin surface (spec §4, "Admin surface"; §6, "Management
// surface"). AddStatic/Replace are grounded directly on gvisor's
// neighborCache.addStaticEntry (pkg/tcpip/stack/neighbor_cache.go), which
// the distilled spec.md compresses into the bare PERMANENT state without
// spelling out its replace semantics (SPEC_FULL.md, "Supplemented
// Features" #1).

// AddStatic installs a Permanent entry for (addr, nic), replacing any
// existing dynamic entry outright. If a Permanent entry with the same
// link address already exists this is a no-op; if one exists with a
// different link address it is updated in place.
func (t *Table) AddStatic(addr Address, nic Interface, linkAddr LinkAddress) error {
	if t.proto == nil {
		return ErrProtocolUnspecified
	}

	t.mu.Lock()
	if e, ok := t.lookupLocked(addr, nic); ok {
		t.mu.Unlock()
		defer e.Release()

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.state == Permanent {
			if e.linkAddr == linkAddr {
				return nil
			}
			e.linkAddr = linkAddr
			e.updated = now()
			e.repointOutputLocked()
			e.dispatchChangedLocked(Permanent)
			return nil
		}

		frames := e.drainLocked()
		e.dispatchRemovedLocked()
		e.linkAddr = linkAddr
		e.state = Permanent
		e.updated = now()
		e.dispatchAddedLocked(Permanent)
		e.notifyWaitersLocked()
		t.flushQueuedFrames(e, frames)
		return nil
	}

	params := t.paramsFor(nic.ID())
	if !params.incRef() {
		params = DefaultParameters()
		t.SetParameters(nic.ID(), params)
		params.incRef()
	}
	e := newEntry(t, addr, "", nic, t.proto, params)
	e.state = Permanent
	e.linkAddr = linkAddr
	e.updated = now()

	idx := t.hashLocked(addr, nic.ID())
	e.bucketNext = t.buckets[idx]
	t.buckets[idx] = e
	atomic.AddInt32(&t.count, 1)
	t.mu.Unlock()

	e.mu.Lock()
	e.dispatchAddedLocked(Permanent)
	e.mu.Unlock()
	return nil
}

// Replace is an alias for AddStatic kept for admin-surface symmetry with
// add/replace/delete verbs (spec §6).
func (t *Table) Replace(addr Address, nic Interface, linkAddr LinkAddress) error {
	return t.AddStatic(addr, nic, linkAddr)
}

// List returns a snapshot of every entry in the table, for the admin
// surface's bulk "lookup" verb.
func (t *Table) List() []Snapshot { return t.Entries() }

// Flush removes every entry in the table (dynamic and static alike).
func (t *Table) Flush() {
	t.mu.Lock()
	var all []*Entry
	for idx, head := range t.buckets {
		for e := head; e != nil; e = e.bucketNext {
			all = append(all, e)
		}
		t.buckets[idx] = nil
	}
	t.count = 0
	t.mu.Unlock()

	for _, e := range all {
		t.finalizeRemoval(e)
	}
}
