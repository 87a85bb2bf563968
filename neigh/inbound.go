package neigh

// This file implements the generic half of spec §4.5 (Inbound learning):
// the table-level hooks a concrete protocol's receive path calls once it
// has parsed a resolution request or reply off the wire and decided the
// packet is eligible to be learned from. Wire parsing, loopback/multicast
// target filtering, and duplicate-address-probe replies are
// protocol-specific and live in the protocol package (see the sibling arp
// package's Endpoint.HandleFrame, which filters those cases before ever
// calling HandleProbe).

// HandleProbe processes an inbound resolution request (spec §4.5 step 4):
// "look up by source; create-if-missing only under controlled policy;
// update(entry, source_L2, STALE)". remoteLinkAddr is the requester's L2
// address, learned opportunistically even though this host wasn't asked
// to resolve anything.
func (t *Table) HandleProbe(addr Address, nic Interface, remoteLinkAddr LinkAddress) {
	e, ok := t.Lookup(addr, nic)
	if !ok {
		if !t.createOnProbe {
			return
		}
		var err error
		e, err = t.Create(addr, "", nic)
		if err != nil {
			return
		}
	}
	defer e.Release()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case None, Incomplete, Failed:
		e.linkAddr = remoteLinkAddr
		e.neverConfirmed = false
		e.dispatchAddedLocked(Stale)
		e.setStateLocked(Stale)
		frames := e.drainLocked()
		e.notifyWaitersLocked()
		e.mu.Unlock()
		t.flushQueuedFrames(e, frames)
		e.mu.Lock()

	case Reachable, Delay, Probe, Stale:
		if e.linkAddr != remoteLinkAddr {
			e.linkAddr = remoteLinkAddr
			e.dispatchChangedLocked(Stale)
			if e.state != Stale {
				e.setStateLocked(Stale)
			} else {
				e.repointOutputLocked()
			}
		}

	case Permanent, Noarp:
		// Administratively fixed; a probe never overrides these.
	}
}

// HandleSolicitReply processes an inbound resolution reply (spec §4.5 step
// 6): "update(entry, source_L2, REACHABLE) — unless the reply arrived to a
// broadcast destination, in which case STALE." broadcastDst is true when
// the reply's link-layer destination was the broadcast address rather
// than this interface's own address.
func (t *Table) HandleSolicitReply(addr Address, nic Interface, linkAddr LinkAddress, broadcastDst bool) {
	e, ok := t.Lookup(addr, nic)
	if !ok {
		// "The confirmation SHOULD be silently discarded if the
		// recipient did not initiate any communication with the
		// target" (no matching entry).
		return
	}
	defer e.Release()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleSolicitReplyLocked(linkAddr, broadcastDst)
}

// Update applies an administrative or protocol-driven binding change to
// the entry for (addr, nic), honoring the locktime anti-flap guard unless
// flags.Admin is set (spec §4.5, "update").
func (t *Table) Update(addr Address, nic Interface, linkAddr LinkAddress, flags AdminFlags) error {
	e, ok := t.Lookup(addr, nic)
	if !ok {
		return ErrNotFound
	}
	defer e.Release()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleAdminLocked(linkAddr, flags)
}
