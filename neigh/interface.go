package neigh

// Capabilities describes what a concrete Interface supports, and drives the
// protocol vtable variant chosen for entries created against it (spec
// §4.4).
type Capabilities uint32

const (
	// CapResolutionRequired is set when the link actually needs an
	// address-resolution protocol to find a peer's L2 address. It is
	// clear for point-to-point and loopback links, whose entries are
	// pinned to Noarp at construction.
	CapResolutionRequired Capabilities = 1 << iota
	// CapBroadcast means the link can carry a broadcast solicitation.
	CapBroadcast
	// CapMulticast means the link can carry a multicast solicitation
	// (distinct from broadcast capacity, as on NBMA links).
	CapMulticast
	// CapHeaderCache means the driver exposes header templating, so
	// resolved entries can use the with-header-cache output variant
	// instead of rebuilding a header on every transmit.
	CapHeaderCache
	// CapRebuildHeader marks legacy drivers that require a rebuild
	// callback rather than a pre-built header template (the "compat"
	// variant).
	CapRebuildHeader
)

func (c Capabilities) Has(flag Capabilities) bool { return c&flag != 0 }

// Interface is the network-interface adapter this package consumes but
// does not implement (spec §6). It abstracts hardware address, MTU,
// header construction, and the final hand-off to the device.
type Interface interface {
	// ID uniquely identifies this interface within the owning stack.
	ID() NICID
	// Name is a human-readable interface name, used only for logging.
	Name() string
	// LinkAddress is this interface's own hardware address.
	LinkAddress() LinkAddress
	// BroadcastAddress is the link-layer broadcast address, if any.
	BroadcastAddress() LinkAddress
	// AddressLength is the fixed length, in bytes, of link addresses on
	// this interface.
	AddressLength() int
	// MTU is the interface's maximum transmission unit.
	MTU() uint32
	// Capabilities reports the feature bits relevant to vtable selection.
	Capabilities() Capabilities

	// BuildHeader prepends a link-layer header to frame for the given
	// network protocol, destination and source link addresses.
	BuildHeader(frame *Frame, networkProtocol uint16, dst, src LinkAddress) error
	// Transmit hands a fully-headered frame to the device.
	Transmit(frame *Frame) error
}

// Dispatcher publishes neighbour cache lifecycle events to interested
// collaborators (spec §6, "Event bus"). All methods must not block.
type Dispatcher interface {
	OnAdded(nic NICID, addr Address, linkAddr LinkAddress, state State)
	OnChanged(nic NICID, addr Address, linkAddr LinkAddress, state State)
	OnRemoved(nic NICID, addr Address, linkAddr LinkAddress, state State)
}

// nopDispatcher discards every event; used when a Table is built without an
// explicit Dispatcher.
type nopDispatcher struct{}

func (nopDispatcher) OnAdded(NICID, Address, LinkAddress, State)   {}
func (nopDispatcher) OnChanged(NICID, Address, LinkAddress, State) {}
func (nopDispatcher) OnRemoved(NICID, Address, LinkAddress, State) {}
