// Package netlinkiface adapts a real Linux network device to neigh.Interface,
// using netlink to read interface metadata and an AF_PACKET raw socket to
// transmit frames.
package netlinkiface

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/netresolve/neigh/neigh"
)

// ethHeaderLen is the fixed length of an Ethernet II header: 6 (dst) + 6
// (src) + 2 (EtherType).
const ethHeaderLen = 14

// Interface adapts a Linux network device to neigh.Interface, transmitting
// over a dedicated AF_PACKET socket bound to the device (mirrors
// runsc/sandbox's createSocket, minus the sentry-specific GSO/buffer-size
// tuning this package has no use for).
type Interface struct {
	id   neigh.NICID
	name string

	link      netlink.Link
	hwAddr    neigh.LinkAddress
	broadcast neigh.LinkAddress
	mtu       uint32
	caps      neigh.Capabilities

	mu   sync.Mutex
	file *os.File
	fd   int
}

// Open binds to the named Linux network device and returns a ready-to-use
// Interface. The caller must eventually call Close.
func Open(name string) (*Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("netlinkiface: lookup %q: %w", name, err)
	}
	attrs := link.Attrs()

	const htonsETHP_ALL = 0x0300 // htons(ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htonsETHP_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlinkiface: raw socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htonsETHP_ALL,
		Ifindex:  attrs.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlinkiface: bind %q: %w", name, err)
	}

	caps := neigh.CapResolutionRequired | neigh.CapBroadcast | neigh.CapHeaderCache

	return &Interface{
		id:        neigh.NICID(attrs.Index),
		name:      name,
		link:      link,
		hwAddr:    neigh.LinkAddress(attrs.HardwareAddr),
		broadcast: neigh.LinkAddress([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}),
		mtu:       uint32(attrs.MTU),
		caps:      caps,
		file:      os.NewFile(uintptr(fd), name),
		fd:        fd,
	}, nil
}

// Close releases the underlying raw socket.
func (i *Interface) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.file.Close()
}

func (i *Interface) ID() neigh.NICID                    { return i.id }
func (i *Interface) Name() string                       { return i.name }
func (i *Interface) LinkAddress() neigh.LinkAddress      { return i.hwAddr }
func (i *Interface) BroadcastAddress() neigh.LinkAddress { return i.broadcast }
func (i *Interface) AddressLength() int                 { return 6 }
func (i *Interface) MTU() uint32                         { return i.mtu }
func (i *Interface) Capabilities() neigh.Capabilities    { return i.caps }

// BuildHeader prepends a 14-byte Ethernet II header to frame.
func (i *Interface) BuildHeader(frame *neigh.Frame, networkProtocol uint16, dst, src neigh.LinkAddress) error {
	if len(dst) != 6 || len(src) != 6 {
		return neigh.ErrBadParameters
	}
	hdr := make([]byte, ethHeaderLen)
	copy(hdr[0:6], dst)
	copy(hdr[6:12], src)
	hdr[12] = byte(networkProtocol >> 8)
	hdr[13] = byte(networkProtocol)
	frame.Data = append(hdr, frame.Data...)
	return nil
}

// Transmit writes frame.Data, already headered by BuildHeader, directly to
// the bound AF_PACKET socket.
func (i *Interface) Transmit(frame *neigh.Frame) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, err := i.file.Write(frame.Data)
	return err
}

// Refresh re-reads the device's hardware address, MTU and operational
// state from netlink, for long-lived Interface values whose underlying
// device may have been reconfigured.
func (i *Interface) Refresh() error {
	link, err := netlink.LinkByIndex(int(i.id))
	if err != nil {
		return fmt.Errorf("netlinkiface: refresh %q: %w", i.name, err)
	}
	attrs := link.Attrs()

	i.mu.Lock()
	defer i.mu.Unlock()
	i.link = link
	i.hwAddr = neigh.LinkAddress(attrs.HardwareAddr)
	i.mtu = uint32(attrs.MTU)
	return nil
}

// IsUp reports the device's current operational state (spec §4.8's trigger
// for OnInterfaceDown).
func (i *Interface) IsUp() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.link.Attrs().Flags&net.FlagUp != 0
}
