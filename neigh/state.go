package neigh

import "fmt"

// State is one of the Neighbour Unreachability Detection states described
// in spec §3. It follows the same shape as RFC 4861 §7.3.2, widened with
// NOARP and PERMANENT for link types that never run NUD.
type State uint8

const (
	// None is the initial state of a freshly created entry: nothing is
	// known about reachability yet.
	None State = iota
	// Incomplete means an address-resolution request is outstanding.
	Incomplete
	// Reachable means the peer was confirmed reachable within the last
	// reachable-time window.
	Reachable
	// Stale means the link address is known but reachability has not
	// been confirmed recently; it may still be used optimistically.
	Stale
	// Delay means reachability is unknown and pending confirmation from
	// an upper-layer protocol, but packets may still be transmitted.
	Delay
	// Probe means a reachability confirmation is being actively sought
	// via unicast retransmission.
	Probe
	// Failed means probing was exhausted without a reply; traffic must
	// not be sent.
	Failed
	// Permanent entries were explicitly installed by an administrator
	// and never expire or get probed.
	Permanent
	// Noarp entries were constructed for a link that cannot or need not
	// run address resolution (broadcast/multicast/loopback/point-to-point
	// targets); their link address is fixed at construction.
	Noarp
)

func (s State) String() string {
	switch s {
	case None:
		return "NONE"
	case Incomplete:
		return "INCOMPLETE"
	case Reachable:
		return "REACHABLE"
	case Stale:
		return "STALE"
	case Delay:
		return "DELAY"
	case Probe:
		return "PROBE"
	case Failed:
		return "FAILED"
	case Permanent:
		return "PERMANENT"
	case Noarp:
		return "NOARP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// InTimer reports whether an entry in this state keeps exactly one timer
// scheduled against it (spec §3 invariant on IN_TIMER).
func (s State) InTimer() bool {
	switch s {
	case Incomplete, Reachable, Delay, Probe:
		return true
	default:
		return false
	}
}

// Valid reports whether the entry's link address may be used to address a
// frame, confirmed or not.
func (s State) Valid() bool {
	switch s {
	case Permanent, Noarp, Reachable, Stale, Delay, Probe:
		return true
	default:
		return false
	}
}

// Connected reports whether the fast path may transmit immediately without
// a resolution check.
func (s State) Connected() bool {
	switch s {
	case Permanent, Noarp, Reachable:
		return true
	default:
		return false
	}
}
