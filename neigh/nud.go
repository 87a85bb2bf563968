package neigh

import "time"

// This file implements the Neighbour Unreachability Detection state
// machine described in spec §4.3. It is grounded directly on
// neighborEntry.setStateLocked / handlePacketQueuedLocked /
// handleProbeLocked / handleConfirmationLocked in gvisor's
// pkg/tcpip/stack/neighbor_entry.go, generalized from gvisor's fixed RFC
// 4861 states to the spec's richer state set (adding Failed-with-flush,
// Permanent/Noarp, and the forced/periodic GC split that gvisor's LRU
// cache doesn't need).
//
// Every method here requires e.mu held for writing unless noted.

// AdminFlags controls how an administrative update may override an
// existing binding (spec §4.5, "update").
type AdminFlags struct {
	// Admin permits overriding a Permanent or Noarp entry and bypasses
	// the locktime anti-flap guard.
	Admin bool
}

// setStateLocked transitions the entry to next, canceling any previously
// scheduled timer and arming whatever timer next requires. e.mu must be
// held for writing.
func (e *Entry) setStateLocked(next State) {
	if e.timer != nil {
		e.timer.Cancel()
		e.timer = nil
	}

	e.state = next
	e.updated = now()

	switch next {
	case Incomplete:
		e.probes = 0
		// RFC 4861 §7.3.3 sends the first probe on entering INCOMPLETE,
		// not after the first retransmit timer expiry.
		e.handleIncompleteTimerLocked()

	case Reachable:
		e.rearmReachableLocked()

	case Delay:
		e.armTimerLocked(e.params.DelayProbeTime)

	case Probe:
		e.probes = 0
		// Likewise, DELAY -> PROBE sends its first unicast probe
		// immediately rather than waiting a full retransmit interval.
		e.handleProbeTimerLocked()

	case Failed:
		e.notifyWaitersLocked()
		e.flushQueueAsUnreachableLocked()
		e.table.stats.resFailed.Add(1)
		if e.hdr != nil {
			e.repointOutputLocked()
		}

	case None, Stale, Permanent, Noarp:
		// No scheduled action; Stale is re-evaluated lazily (on Use) or
		// by the periodic GC sweep, not by a timer of its own.
	}
}

// rearmReachableLocked arms the Reachable timer at confirmed+reachableTime,
// per spec's transition table ("REACHABLE | TIMER, now <=
// confirmed+reachable_time | REACHABLE | Rearm at confirmed+reachable_time").
func (e *Entry) rearmReachableLocked() {
	deadline := e.confirmed.Add(e.params.ReachableTime())
	d := deadline.Sub(now())
	if d < 0 {
		d = 0
	}
	e.armTimerLocked(d)
}

// armTimerLocked schedules the NUD timer callback after d, acquiring a
// strong reference on the entry that is released when the timer fires or
// is canceled (spec §9, "timers holding refs").
func (e *Entry) armTimerLocked(d time.Duration) {
	e.Acquire()
	e.timer = newTimer(&e.mu, e.handleTimerLocked, e.Release)
	e.timer.Schedule(d)
}

// handlePacketQueuedLocked advances the state machine in response to a
// frame being sent through this entry (spec's USE event).
func (e *Entry) handlePacketQueuedLocked() {
	switch e.state {
	case None:
		if e.params.resolutionPermitted() {
			e.dispatchAddedLocked(Incomplete)
			e.setStateLocked(Incomplete)
		} else {
			e.dispatchAddedLocked(Failed)
			e.setStateLocked(Failed)
		}

	case Stale:
		e.dispatchChangedLocked(Delay)
		e.setStateLocked(Delay)

	case Incomplete, Reachable, Delay, Probe, Permanent, Noarp, Failed:
		// No state change on additional use.
	}
}

// handleTimerLocked is the NUD timer callback (spec's TIMER event),
// invoked with e.mu already held by the timer wrapper.
func (e *Entry) handleTimerLocked() {
	switch e.state {
	case Incomplete:
		e.handleIncompleteTimerLocked()

	case Reachable:
		n := now()
		if !n.After(e.confirmed.Add(e.params.ReachableTime())) {
			e.rearmReachableLocked()
			return
		}
		if !n.After(e.used.Add(e.params.DelayProbeTime)) {
			e.dispatchChangedLocked(Delay)
			e.setStateLocked(Delay)
			return
		}
		e.dispatchChangedLocked(Stale)
		e.state = Stale
		e.updated = n
		e.timer = nil

	case Delay:
		if !now().After(e.confirmed.Add(e.params.DelayProbeTime)) {
			e.dispatchChangedLocked(Reachable)
			e.setStateLocked(Reachable)
			return
		}
		e.dispatchChangedLocked(Probe)
		e.setStateLocked(Probe)

	case Probe:
		e.handleProbeTimerLocked()

	default:
		// Entry transitioned (or was removed) between scheduling and
		// firing; nothing to do.
	}
}

func (e *Entry) handleIncompleteTimerLocked() {
	limit := e.params.probeBudget(Incomplete)
	if e.probes >= limit {
		e.dispatchRemovedLocked()
		e.setStateLocked(Failed)
		return
	}

	// Multicast/app solicitations are only meaningful while the peer has
	// never been confirmed (spec §4.3).
	if e.neverConfirmed && e.params.allowSolicit() {
		kind := SolicitMulticast
		if e.probes >= e.params.MulticastProbes {
			kind = SolicitApp
		}
		if err := e.proto.Solicit(kind, e.addr, e.localAddr, "", e.nic); err != nil {
			e.dispatchRemovedLocked()
			e.setStateLocked(Failed)
			return
		}
	}

	e.probes++
	e.armTimerLocked(e.params.RetransTime)
}

func (e *Entry) handleProbeTimerLocked() {
	limit := e.params.probeBudget(Probe)
	if e.probes >= limit {
		e.dispatchRemovedLocked()
		e.setStateLocked(Failed)
		return
	}

	if e.params.allowSolicit() {
		if err := e.proto.Solicit(SolicitUnicast, e.addr, e.localAddr, e.linkAddr, e.nic); err != nil {
			e.dispatchRemovedLocked()
			e.setStateLocked(Failed)
			return
		}
	}

	e.probes++
	e.armTimerLocked(e.params.RetransTime)
}

// handleSolicitReplyLocked processes an inbound resolution reply (spec's
// SOLICIT_REPLY event). broadcastOrForeign marks a reply that arrived to a
// broadcast destination or from an unexpected source, which downgrades the
// resulting state to Stale instead of Reachable.
func (e *Entry) handleSolicitReplyLocked(linkAddr LinkAddress, broadcastOrForeign bool) {
	if e.state != Incomplete {
		return
	}
	if len(linkAddr) == 0 {
		return
	}

	e.linkAddr = linkAddr
	e.neverConfirmed = false
	frames := e.drainLocked()

	if broadcastOrForeign {
		e.dispatchChangedLocked(Stale)
		e.setStateLocked(Stale)
	} else {
		e.confirmed = now()
		e.dispatchChangedLocked(Reachable)
		e.setStateLocked(Reachable)
	}
	e.notifyWaitersLocked()

	e.table.flushQueuedFrames(e, frames)
}

// handleConfirmLocked processes upper-layer reachability evidence (spec's
// CONFIRM event): "any VALID | CONFIRM | unchanged | Set confirmed := now".
func (e *Entry) handleConfirmLocked() {
	if !e.state.Valid() {
		return
	}
	e.confirmed = now()
	e.neverConfirmed = false
	if e.state == Reachable {
		// Refresh the Reachable timer against the new confirmation time.
		e.rearmReachableLocked()
	}
}

// handleAdminLocked processes a management-surface update (spec's ADMIN
// event / §4.5's locktime-guarded update). If the call isn't flagged Admin
// and would overwrite Permanent/Noarp, or would override a recently
// learned binding within locktime, it is refused.
func (e *Entry) handleAdminLocked(linkAddr LinkAddress, flags AdminFlags) error {
	if (e.state == Permanent || e.state == Noarp) && !flags.Admin {
		return ErrNotPermitted
	}

	if e.linkAddr != "" && e.linkAddr != linkAddr && !flags.Admin {
		if now().Before(e.updated.Add(e.params.LockTime)) {
			// Anti-flap guard: too soon to override (spec §4.5 /
			// scenario 4).
			return nil
		}
	}

	e.linkAddr = linkAddr
	frames := e.drainLocked()
	if e.state == Permanent || e.state == Noarp {
		if flags.Admin {
			e.updated = now()
			if e.hdr != nil {
				e.repointOutputLocked()
			}
		}
	} else {
		e.dispatchChangedLocked(Stale)
		e.setStateLocked(Stale)
	}
	e.notifyWaitersLocked()
	e.table.flushQueuedFrames(e, frames)
	return nil
}

// repointOutputLocked invalidates the cached header template so the next
// transmit rebuilds it against the current link address, implementing
// spec §4.3's "transitioning out of CONNECTED must repoint output... and
// rewrite any linked L2-header templates' output pointer."
func (e *Entry) repointOutputLocked() {
	e.hdr = nil
}

// flushQueueAsUnreachableLocked hands every queued frame to the protocol's
// ReportUnreachable hook (spec's Failed-state side effect).
func (e *Entry) flushQueueAsUnreachableLocked() {
	frames := e.drainLocked()
	for _, f := range frames {
		e.proto.ReportUnreachable(f, e.addr, e.nic)
	}
}

func (e *Entry) dispatchAddedLocked(next State) {
	e.table.dispatcher.OnAdded(e.nic.ID(), e.addr, e.linkAddr, next)
}

func (e *Entry) dispatchChangedLocked(next State) {
	e.table.dispatcher.OnChanged(e.nic.ID(), e.addr, e.linkAddr, next)
}

func (e *Entry) dispatchRemovedLocked() {
	e.table.dispatcher.OnRemoved(e.nic.ID(), e.addr, e.linkAddr, e.state)
}
