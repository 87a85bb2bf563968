package neigh

import "sync/atomic"

// This file implements the resolve path described in spec §4.2: the single
// entry point an upper-layer IP transmit calls with a frame and a
// previously looked-up/created Entry.

// ResolveAndSend is the `output` entry point from spec §6. Depending on
// entry's current NUD state it either transmits frame immediately (the
// Connected fast path), queues it pending resolution (triggering a
// solicitation as needed), or drops it and reports the failure.
//
// The returned channel, when non-nil, is closed once resolution completes
// (successfully or not); it is an additive convenience beyond the
// synchronous Outcome (see SPEC_FULL.md, "Waiter notification").
func (t *Table) ResolveAndSend(frame *Frame, e *Entry) (Outcome, <-chan struct{}, error) {
	e.mu.RLock()
	state := e.state
	dead := e.dead
	e.mu.RUnlock()

	if dead {
		e.proto.ReportUnreachable(frame, e.addr, e.nic)
		return Dropped, nil, ErrInterfaceDown
	}

	switch {
	case state.Connected():
		return t.resolveConnected(frame, e)

	case state == Failed:
		e.proto.ReportUnreachable(frame, e.addr, e.nic)
		return Dropped, nil, ErrNoLinkAddress

	case state == Incomplete:
		ch := t.enqueueAndWait(e, frame)
		return Queued, ch, ErrWouldBlock

	case state == None || state == Stale:
		e.mu.Lock()
		e.used = now()
		evicted := e.enqueueLocked(frame)
		ch := make(chan struct{})
		e.addWaiterLocked(ch)
		e.handlePacketQueuedLocked()
		final := e.state
		e.mu.Unlock()

		if evicted {
			t.stats.unresolvedDiscards.Add(1)
		}
		if final == Failed {
			// setStateLocked(Failed) already drained the queue via
			// ReportUnreachable and closed ch.
			return Dropped, nil, ErrNoLinkAddress
		}
		return Queued, ch, ErrWouldBlock

	case state == Delay || state == Probe:
		// The link address is known but not yet reconfirmed: transmit with
		// a freshly built header, without touching the cached template.
		return t.resolveConnectedRebuild(frame, e)

	default:
		// Permanent/Noarp are always Connected and handled above; no
		// other state should reach here.
		return Dropped, nil, ErrNoLinkAddress
	}
}

// enqueueAndWait appends frame to e's queue and registers a waiter,
// evicting the oldest queued frame on overflow (spec §4.2, Incomplete
// case).
func (t *Table) enqueueAndWait(e *Entry, frame *Frame) <-chan struct{} {
	e.mu.Lock()
	e.used = now()
	evicted := e.enqueueLocked(frame)
	ch := make(chan struct{})
	e.addWaiterLocked(ch)
	e.mu.Unlock()

	if evicted {
		t.stats.unresolvedDiscards.Add(1)
	}
	return ch
}

// resolveConnected is the fast path for Permanent/Noarp/Reachable entries:
// it bypasses any resolution check and dispatches to one of the four
// per-interface output variants selected at construction (spec §4.4).
func (t *Table) resolveConnected(frame *Frame, e *Entry) (Outcome, <-chan struct{}, error) {
	e.mu.RLock()
	v := e.variant
	e.mu.RUnlock()

	switch v {
	case variantGeneric, variantCompat:
		// Neither variant may persist a header template: "generic" drivers
		// have no caching support at all, and "compat" drivers require the
		// rebuild callback (BuildHeader) invoked fresh on every transmit
		// rather than reusing a previously built one.
		return t.resolveConnectedRebuild(frame, e)
	default: // variantDirect, variantHeaderCache
		return t.resolveConnectedCached(frame, e)
	}
}

// resolveConnectedRebuild implements the generic and compat variants: it
// calls the interface's header-rebuild callback on every transmit and never
// writes the result into e.hdr, so there is nothing for the fast-path
// seqlock reader to observe.
func (t *Table) resolveConnectedRebuild(frame *Frame, e *Entry) (Outcome, <-chan struct{}, error) {
	e.mu.Lock()
	linkAddr := e.linkAddr
	e.used = now()
	e.mu.Unlock()

	out := &Frame{NetworkProtocol: frame.NetworkProtocol}
	if err := e.nic.BuildHeader(out, frame.NetworkProtocol, linkAddr, e.nic.LinkAddress()); err != nil {
		return Dropped, nil, err
	}
	out.Data = append(out.Data, frame.Data...)
	if err := e.nic.Transmit(out); err != nil {
		return Dropped, nil, err
	}
	return Sent, nil, nil
}

// resolveConnectedCached implements the direct and with-header-cache
// variants: it reads the cached header template (building it on first use)
// and hands the frame straight to the interface. Noarp entries (variantDirect)
// have a linkAddr that is fixed for the entry's lifetime, so caching it is
// just as safe as for variantHeaderCache.
func (t *Table) resolveConnectedCached(frame *Frame, e *Entry) (Outcome, <-chan struct{}, error) {
	data, _, ok := e.readHeader()
	if !ok {
		e.mu.Lock()
		if e.hdr == nil {
			if err := e.buildHeaderLocked(frame.NetworkProtocol); err != nil {
				e.mu.Unlock()
				return Dropped, nil, err
			}
		}
		e.used = now()
		e.mu.Unlock()
		data, _, ok = e.readHeader()
		if !ok {
			return Dropped, nil, ErrNoLinkAddress
		}
	} else {
		e.mu.Lock()
		e.used = now()
		e.mu.Unlock()
	}

	out := &Frame{
		Data:            append(append([]byte(nil), data...), frame.Data...),
		NetworkProtocol: frame.NetworkProtocol,
	}
	if err := e.nic.Transmit(out); err != nil {
		return Dropped, nil, err
	}
	return Sent, nil, nil
}

// Confirm records upper-layer reachability evidence for e (spec §6,
// `confirm(entry)`), e.g. an accepted TCP ACK.
func (t *Table) Confirm(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleConfirmLocked()
}

// OnInterfaceDown implements spec §4.8: every entry on nic is detached,
// its timer canceled, its queue flushed, and its output repointed to a
// black hole that reports ErrInterfaceDown.
func (t *Table) OnInterfaceDown(nic Interface) {
	t.mu.Lock()
	var toFinalize []*Entry
	for idx, head := range t.buckets {
		prev := (*Entry)(nil)
		e := head
		for e != nil {
			next := e.bucketNext
			if e.nic.ID() != nic.ID() {
				prev = e
				e = next
				continue
			}
			if prev == nil {
				t.buckets[idx] = next
			} else {
				prev.bucketNext = next
			}
			atomic.AddInt32(&t.count, -1)
			toFinalize = append(toFinalize, e)
			e = next
		}
	}
	t.mu.Unlock()

	for _, e := range toFinalize {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Cancel()
			e.timer = nil
		}
		e.dead = true
		wasValid := e.state.Valid()
		if wasValid {
			e.state = Noarp
		} else {
			e.state = None
		}
		e.linkAddr = ""
		e.updated = now()
		e.dispatchChangedLocked(e.state)
		frames := e.drainLocked()
		e.notifyWaitersLocked()
		e.params.decRef()
		e.mu.Unlock()

		for _, f := range frames {
			e.proto.ReportUnreachable(f, e.addr, e.nic)
		}
	}

	t.proxy.onInterfaceDown(nic)
}
