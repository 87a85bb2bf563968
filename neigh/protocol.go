package neigh

// SolicitKind distinguishes the three budgets a resolving entry draws
// from: a multicast/broadcast solicitation sent while nothing is yet known
// about the peer, a userspace-assisted ("app") solicitation for the same
// case, and a unicast solicitation sent once a stale link address is
// already known (the Probe state).
type SolicitKind uint8

const (
	SolicitMulticast SolicitKind = iota
	SolicitApp
	SolicitUnicast
)

// Protocol is the per-resolution-protocol vtable (spec §4.4, "Protocol
// vtable"). A Table is constructed with exactly one Protocol; ARP for IPv4
// is the canonical instance (see the sibling arp package).
type Protocol interface {
	// Hash mixes addr and the interface identity using seed, the table's
	// per-instance random key, to place entries in buckets (spec §4.1).
	Hash(addr Address, nic NICID, seed uint32) uint32

	// ResolveStatic attempts to resolve addr without sending a request,
	// e.g. for broadcast/multicast/loopback targets. If ok is true the
	// entry is constructed directly in Noarp with linkAddr fixed.
	ResolveStatic(addr Address, nic Interface) (linkAddr LinkAddress, ok bool)

	// Solicit emits a resolution request of the given kind for addr on
	// behalf of localAddr. knownLinkAddr is the previously learned link
	// address, if any (used to address unicast probes).
	Solicit(kind SolicitKind, addr, localAddr Address, knownLinkAddr LinkAddress, nic Interface) error

	// ReportUnreachable notifies the upper layer that frame could not be
	// delivered because resolution failed.
	ReportUnreachable(frame *Frame, addr Address, nic Interface)
}

// variant selects one of the four output strategies described in spec
// §4.4. It is chosen once, at Entry construction, from the owning
// Interface's capabilities.
type variant uint8

const (
	// variantDirect is pinned to Noarp: the interface cannot or need not
	// run address resolution (point-to-point, loopback).
	variantDirect variant = iota
	// variantGeneric re-resolves/rebuilds on every transmit; no header
	// caching.
	variantGeneric
	// variantHeaderCache builds a header template once and reuses it via
	// the sequence-lock fast path.
	variantHeaderCache
	// variantCompat rebuilds the header through the driver's callback on
	// every use rather than reusing a cached template, like variantGeneric,
	// but for legacy drivers that specifically cannot hold a persistent
	// template (as opposed to simply never having had caching support).
	variantCompat
)

func selectVariant(caps Capabilities) variant {
	switch {
	case !caps.Has(CapResolutionRequired):
		return variantDirect
	case caps.Has(CapRebuildHeader):
		return variantCompat
	case caps.Has(CapHeaderCache):
		return variantHeaderCache
	default:
		return variantGeneric
	}
}
