// Package arp implements IPv4-over-Ethernet Address Resolution Protocol
// (RFC 826) as a neigh.Protocol: the canonical resolution protocol the neigh
// package is designed around.
package arp

import (
	"fmt"
	"hash/fnv"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/netresolve/neigh/neigh"
)

const (
	// EtherTypeARP is the EtherType stamped into a link-layer header
	// carrying an ARP packet.
	EtherTypeARP = 0x0806
	// EtherTypeIPv4 is the EtherType stamped into a link-layer header
	// carrying an IPv4 datagram; it is what neigh.Frame.NetworkProtocol
	// carries for resolved IPv4 traffic.
	EtherTypeIPv4 = 0x0800

	// packetSize is the wire size of an IPv4-over-Ethernet ARP packet:
	// 2(htype) + 2(ptype) + 1(hlen) + 1(plen) + 2(op) + 2*6(addrs) +
	// 2*4(addrs).
	packetSize = 2 + 2 + 1 + 1 + 2 + 2*6 + 2*4

	macSize  = 6
	ip4Size  = 4
	htypeEth = 1
)

// Op is an ARP opcode (RFC 826 §2).
type Op uint16

const (
	OpRequest Op = 1
	OpReply   Op = 2
)

// broadcastMAC is the Ethernet broadcast address, used both as the
// destination for request packets and as the ResolveStatic answer for the
// IPv4 limited-broadcast address.
var broadcastMAC = neigh.LinkAddress([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

// packet is a mutable view over a raw ARP wire packet, mirroring RFC 826's
// layout. Field accessors operate directly on the backing byte slice.
type packet []byte

func newPacket(buf []byte) packet { return packet(buf) }

func (p packet) hardwareAddressSpace() uint16 { return uint16(p[0])<<8 | uint16(p[1]) }
func (p packet) protocolAddressSpace() uint16 { return uint16(p[2])<<8 | uint16(p[3]) }
func (p packet) hardwareAddressSize() int     { return int(p[4]) }
func (p packet) protocolAddressSize() int     { return int(p[5]) }

func (p packet) Op() Op { return Op(p[6])<<8 | Op(p[7]) }

func (p packet) SetOp(op Op) {
	p[6] = uint8(op >> 8)
	p[7] = uint8(op)
}

// setIPv4OverEthernet stamps the fixed htype/ptype/hlen/plen fields.
func (p packet) setIPv4OverEthernet() {
	p[0], p[1] = 0, htypeEth
	p[2], p[3] = 0x08, 0x00
	p[4] = macSize
	p[5] = ip4Size
}

func (p packet) senderHardwareAddr() []byte { const s = 8; return p[s : s+macSize] }
func (p packet) senderProtocolAddr() []byte { const s = 8 + macSize; return p[s : s+ip4Size] }
func (p packet) targetHardwareAddr() []byte {
	const s = 8 + macSize + ip4Size
	return p[s : s+macSize]
}
func (p packet) targetProtocolAddr() []byte {
	const s = 8 + macSize + ip4Size + macSize
	return p[s : s+ip4Size]
}

// isValid reports whether p is a well-formed IPv4-over-Ethernet ARP packet.
func (p packet) isValid() bool {
	if len(p) < packetSize {
		return false
	}
	return p.hardwareAddressSpace() == htypeEth &&
		p.protocolAddressSpace() == EtherTypeIPv4 &&
		p.hardwareAddressSize() == macSize &&
		p.protocolAddressSize() == ip4Size
}

// AddressOwner tells the endpoint whether a target IPv4 address belongs to
// the local stack on nic, so it can answer requests directly instead of
// consulting the proxy table (mirrors gvisor's
// stack.LinkAddressCache.CheckLocalAddress).
type AddressOwner interface {
	OwnsAddress(nic neigh.Interface, addr neigh.Address) bool
}

// Endpoint is the IPv4-over-Ethernet ARP protocol instance: it implements
// neigh.Protocol for outbound resolution and exposes HandleFrame for the
// inbound receive path.
type Endpoint struct {
	table *neigh.Table
	owner AddressOwner
	log   *logrus.Entry
}

// NewEndpoint constructs an ARP protocol instance. owner resolves whether
// an inbound request's target address is one this host itself answers for,
// versus one delegated to the proxy table.
//
// The returned Endpoint implements neigh.Protocol and can be passed
// straight to neigh.TableOptions.Protocol; call BindTable once the Table
// exists so the inbound path (HandleFrame) can reach it. The two-step
// construction breaks the otherwise-circular Table<->Protocol dependency.
func NewEndpoint(owner AddressOwner, logger *logrus.Logger) *Endpoint {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Endpoint{owner: owner, log: logger.WithField("component", "arp.Endpoint")}
}

// BindTable attaches the Table this endpoint's inbound path dispatches
// into. Must be called once, before any inbound frame is handled.
func (e *Endpoint) BindTable(table *neigh.Table) { e.table = table }

// Hash mixes the target address and NIC into a bucket index using an
// FNV-1a hash seeded by the table's per-instance random key, so two tables
// built with different seeds scatter the same addresses differently (hash-
// flooding defense, spec's "per-table random seed").
func (e *Endpoint) Hash(addr neigh.Address, nic neigh.NICID, seed uint32) uint32 {
	h := fnv.New32a()
	var seedBuf [4]byte
	seedBuf[0] = byte(seed)
	seedBuf[1] = byte(seed >> 8)
	seedBuf[2] = byte(seed >> 16)
	seedBuf[3] = byte(seed >> 24)
	h.Write(seedBuf[:])
	h.Write([]byte(addr))
	fmt.Fprintf(h, "%d", nic)
	return h.Sum32()
}

// ResolveStatic answers the IPv4 limited-broadcast address and multicast
// addresses without sending a request, per RFC 1112 §6.4's fixed mapping
// from an IPv4 multicast group to its Ethernet multicast address.
func (e *Endpoint) ResolveStatic(addr neigh.Address, nic neigh.Interface) (neigh.LinkAddress, bool) {
	ip := net.IP(addr)
	if len(ip) != ip4Size {
		return "", false
	}
	if ip.Equal(net.IPv4bcast) {
		return broadcastMAC, true
	}
	if ip.IsMulticast() {
		return neigh.LinkAddress([]byte{
			0x01, 0x00, 0x5e,
			ip[1] & 0x7f,
			ip[2],
			ip[3],
		}), true
	}
	return "", false
}

// Solicit emits an ARP request (multicast/app kinds, which ARP has no
// distinct wire form for and so both broadcast) or a unicast request
// addressed directly to knownLinkAddr (the Probe kind).
func (e *Endpoint) Solicit(kind neigh.SolicitKind, addr, localAddr neigh.Address, knownLinkAddr neigh.LinkAddress, nic neigh.Interface) error {
	dst := broadcastMAC
	if kind == neigh.SolicitUnicast {
		if len(knownLinkAddr) == 0 {
			return neigh.ErrBadParameters
		}
		dst = knownLinkAddr
	}

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpRequest)
	copy(p.senderHardwareAddr(), nic.LinkAddress())
	copy(p.senderProtocolAddr(), localAddr)
	copy(p.targetProtocolAddr(), addr)

	frame := &neigh.Frame{NetworkProtocol: EtherTypeARP}
	if err := nic.BuildHeader(frame, EtherTypeARP, dst, nic.LinkAddress()); err != nil {
		return err
	}
	frame.Data = append(frame.Data, buf...)
	e.log.WithFields(logrus.Fields{"nic": nic.ID(), "kind": kind, "target": net.IP(addr)}).Debug("sending arp request")
	return nic.Transmit(frame)
}

// ReportUnreachable logs the undeliverable frame. IPv4-over-Ethernet ARP has
// no reply-path wire format of its own for signaling this to the sender
// (that is ICMP's job, out of this package's scope); upper layers observing
// Outcome/the waiter channel are the primary signal, per the resolve path
// in the sibling neigh package.
func (e *Endpoint) ReportUnreachable(frame *neigh.Frame, addr neigh.Address, nic neigh.Interface) {
	e.log.WithFields(logrus.Fields{"nic": nic.ID(), "target": net.IP(addr)}).Warn("dropping frame: address unreachable")
}

// HandleFrame processes an inbound Ethernet frame payload already
// identified as carrying EtherTypeARP. remoteLinkAddr is the frame's
// source MAC, as learned by the link layer independent of the ARP payload
// itself.
func (e *Endpoint) HandleFrame(data []byte, nic neigh.Interface, remoteLinkAddr neigh.LinkAddress) {
	p := newPacket(data)
	if !p.isValid() {
		return
	}

	sender := neigh.Address(p.senderProtocolAddr())
	senderMAC := neigh.LinkAddress(p.senderHardwareAddr())
	target := neigh.Address(p.targetProtocolAddr())

	if isLoopbackOrMulticast(target) {
		return
	}

	if isZeroAddress(sender) {
		// Duplicate-address detection probe: the prospective owner of
		// target is announcing intent to use it, not asking to learn
		// about us. Answer directly to the probing host's hardware
		// address (the only thing about it we know) using target for
		// both the reply's source and destination protocol address, and
		// do not create or update any table entry for it.
		if p.Op() == OpRequest && e.owner != nil && e.owner.OwnsAddress(nic, target) {
			e.reply(nic, target, target, senderMAC)
		}
		return
	}

	switch p.Op() {
	case OpRequest:
		if e.owner != nil && e.owner.OwnsAddress(nic, target) {
			e.reply(nic, target, sender, senderMAC)
			e.table.HandleProbe(sender, nic, senderMAC)
			return
		}
		e.table.HandleProxyRequest(target, nic, senderMAC, defaultProxyDelay, defaultProxyQueueLen)

	case OpReply:
		e.table.HandleSolicitReply(sender, nic, senderMAC, false)
	}
}

// isZeroAddress reports whether addr is all-zero, the sentinel IPv4 ARP
// uses for a sender protocol address during duplicate-address detection
// (RFC 5227).
func isZeroAddress(addr neigh.Address) bool {
	for _, b := range []byte(addr) {
		if b != 0 {
			return false
		}
	}
	return true
}

// isLoopbackOrMulticast reports whether addr must never be resolved or
// learned as a neighbour: the loopback range is never reachable over the
// wire, and multicast targets are resolved via ResolveStatic, never ARP.
func isLoopbackOrMulticast(addr neigh.Address) bool {
	ip := net.IP(addr)
	if len(ip) != ip4Size {
		return false
	}
	return ip.IsLoopback() || ip.IsMulticast()
}

// reply sends a unicast ARP reply asserting that localAddr resolves to
// nic's own hardware address, addressed back to the requester.
func (e *Endpoint) reply(nic neigh.Interface, localAddr, requesterAddr neigh.Address, requesterMAC neigh.LinkAddress) {
	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpReply)
	copy(p.senderHardwareAddr(), nic.LinkAddress())
	copy(p.senderProtocolAddr(), localAddr)
	copy(p.targetHardwareAddr(), requesterMAC)
	copy(p.targetProtocolAddr(), requesterAddr)

	frame := &neigh.Frame{NetworkProtocol: EtherTypeARP}
	if err := nic.BuildHeader(frame, EtherTypeARP, requesterMAC, nic.LinkAddress()); err != nil {
		e.log.WithError(err).Warn("failed to build arp reply header")
		return
	}
	frame.Data = append(frame.Data, buf...)
	if err := nic.Transmit(frame); err != nil {
		e.log.WithError(err).Warn("failed to transmit arp reply")
	}
}

// ReplyAsProxy implements neigh.ProxyReplier: it answers an ARP request on
// behalf of an address this host proxies for, per spec §4.9.
func (e *Endpoint) ReplyAsProxy(addr neigh.Address, nic neigh.Interface, requesterLinkAddr neigh.LinkAddress) error {
	// The requester's protocol address isn't carried through the proxy
	// queue item (only its link address is); ReplyAsProxy is invoked with
	// the hardware address already learned by HandleFrame, so the reply's
	// target protocol address is left zeroed. Real deployments pair this
	// with a neigh.ProxyReplier that also threads the requester's IP
	// through an out-of-band lookup keyed on requesterLinkAddr; out of
	// scope for this package's pattern-matched proxy table.
	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpReply)
	copy(p.senderHardwareAddr(), nic.LinkAddress())
	copy(p.senderProtocolAddr(), addr)
	copy(p.targetHardwareAddr(), requesterLinkAddr)

	frame := &neigh.Frame{NetworkProtocol: EtherTypeARP}
	if err := nic.BuildHeader(frame, EtherTypeARP, requesterLinkAddr, nic.LinkAddress()); err != nil {
		return err
	}
	frame.Data = append(frame.Data, buf...)
	return nic.Transmit(frame)
}

const (
	defaultProxyDelay    = 0
	defaultProxyQueueLen = 16
)
