package neigh

import (
	"context"
	"sync/atomic"
	"time"
)

// resampleInterval is how often the periodic sweep resamples every
// attached Parameters' randomized reachable_time (spec §4.6).
const resampleInterval = 300 * time.Second

// forcedShrinkLocked is the synchronous, forced GC mode (spec §4.6):
// scans every bucket and deletes every entry with refcount==1 and a
// non-Permanent state. t.mu must be held for writing.
func (t *Table) forcedShrinkLocked() {
	t.stats.forcedGCRuns.Add(1)
	t.lastForcedGC = now()

	reclaimed := int64(0)
	for idx, head := range t.buckets {
		prev := (*Entry)(nil)
		e := head
		for e != nil {
			next := e.bucketNext
			if e.refCount() == 1 && e.snapshotStateLocked() != Permanent {
				if prev == nil {
					t.buckets[idx] = next
				} else {
					prev.bucketNext = next
				}
				atomic.AddInt32(&t.count, -1)
				reclaimed++
				t.finalizeRemoval(e)
				e = next
				continue
			}
			prev = e
			e = next
		}
	}
	t.stats.forcedGCReclaimed.Add(reclaimed)
}

// snapshotStateLocked reads an entry's state under its own lock; the table
// lock alone (held by the caller) does not protect Entry fields.
func (e *Entry) snapshotStateLocked() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// finalizeRemoval tears down an entry that the table has already unlinked
// from its bucket: cancels its timer, marks it dead, and notifies waiters.
// The table lock may or may not be held by the caller; this only touches
// entry-local state.
func (t *Table) finalizeRemoval(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
	e.dispatchRemovedLocked()
	if e.timer != nil {
		e.timer.Cancel()
		e.timer = nil
	}
	e.notifyWaitersLocked()
	e.params.decRef()
}

// runPeriodicGC is the asynchronous sweep (spec §4.6): runs every
// base_reachable_time/2, cooperatively yielding the table lock between
// buckets, and resamples reachable_time across all attached Parameters
// every 300s.
func (t *Table) runPeriodicGC(ctx context.Context) {
	lastResample := now()
	for {
		interval := t.periodicGCInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		t.sweepOnce()

		if now().Sub(lastResample) >= resampleInterval {
			t.resampleAllParameters()
			lastResample = now()
		}
	}
}

func (t *Table) periodicGCInterval() time.Duration {
	// Use the default base_reachable_time when no interface-specific
	// parameters are registered yet; this only affects sweep frequency,
	// never correctness.
	base := DefaultParameters().BaseReachableTime
	t.paramsMu.Lock()
	for _, p := range t.paramsByIface {
		if p.BaseReachableTime > 0 {
			base = p.BaseReachableTime
			break
		}
	}
	t.paramsMu.Unlock()
	return base / 2
}

// sweepOnce performs one pass over every bucket, per-bucket, dropping the
// table lock between buckets so the sweep stays preemptible (spec §4.6 /
// §5, "Periodic GC drops the table write lock between buckets").
func (t *Table) sweepOnce() {
	t.mu.RLock()
	numBuckets := len(t.buckets)
	t.mu.RUnlock()

	reclaimed := int64(0)
	for idx := 0; idx < numBuckets; idx++ {
		reclaimed += t.sweepBucket(idx)
	}
	if reclaimed > 0 {
		t.stats.periodicGCReclaimed.Add(reclaimed)
	}
}

func (t *Table) sweepBucket(idx int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx >= len(t.buckets) {
		return 0
	}

	reclaimed := int64(0)
	prev := (*Entry)(nil)
	e := t.buckets[idx]
	for e != nil {
		next := e.bucketNext
		if t.sweepEntryLocked(e) {
			if prev == nil {
				t.buckets[idx] = next
			} else {
				prev.bucketNext = next
			}
			atomic.AddInt32(&t.count, -1)
			reclaimed++
			t.finalizeRemoval(e)
			e = next
			continue
		}
		prev = e
		e = next
	}
	return reclaimed
}

// sweepEntryLocked applies one entry's worth of periodic-GC logic (spec
// §4.6) and reports whether it should be unlinked. Table.mu is held by the
// caller; this additionally takes the entry's own lock.
func (t *Table) sweepEntryLocked(e *Entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Permanent || e.state.InTimer() {
		return false
	}

	if e.used.Before(e.confirmed) {
		// A recently-confirmed entry should not be collected as idle.
		e.used = e.confirmed
	}

	if e.refCount() != 1 {
		return false
	}

	if e.state == Failed || now().After(e.used.Add(e.params.GCStaleTime)) {
		return true
	}
	return false
}

func (t *Table) resampleAllParameters() {
	t.paramsMu.Lock()
	params := make([]*Parameters, 0, len(t.paramsByIface))
	for _, p := range t.paramsByIface {
		params = append(params, p)
	}
	t.paramsMu.Unlock()

	for _, p := range params {
		p.Resample()
	}
}
