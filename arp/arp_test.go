package arp

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresolve/neigh/neigh"
)

// testInterface is a minimal neigh.Interface double whose "header" is just
// the raw dst and src link addresses (12 bytes for MACs, no EtherType)
// instead of a real Ethernet header, and which records every transmitted
// frame.
type testInterface struct {
	id neigh.NICID
	hw neigh.LinkAddress

	mu   sync.Mutex
	sent []*neigh.Frame
}

func newTestInterface(id neigh.NICID, hw neigh.LinkAddress) *testInterface {
	return &testInterface{id: id, hw: hw}
}

func (i *testInterface) ID() neigh.NICID                    { return i.id }
func (i *testInterface) Name() string                       { return "test0" }
func (i *testInterface) LinkAddress() neigh.LinkAddress      { return i.hw }
func (i *testInterface) BroadcastAddress() neigh.LinkAddress { return broadcastMAC }
func (i *testInterface) AddressLength() int                  { return macSize }
func (i *testInterface) MTU() uint32                         { return 1500 }
func (i *testInterface) Capabilities() neigh.Capabilities {
	return neigh.CapResolutionRequired | neigh.CapBroadcast | neigh.CapHeaderCache
}

func (i *testInterface) BuildHeader(frame *neigh.Frame, networkProtocol uint16, dst, src neigh.LinkAddress) error {
	frame.Data = append(frame.Data, []byte(dst)...)
	frame.Data = append(frame.Data, []byte(src)...)
	return nil
}

func (i *testInterface) Transmit(frame *neigh.Frame) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, frame)
	return nil
}

func (i *testInterface) transmitted() []*neigh.Frame {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*neigh.Frame, len(i.sent))
	copy(out, i.sent)
	return out
}

type fakeOwner struct{ owns map[string]bool }

func (o *fakeOwner) OwnsAddress(nic neigh.Interface, addr neigh.Address) bool {
	return o.owns[string(addr)]
}

func newBoundTable(owner AddressOwner) (*neigh.Table, *Endpoint) {
	ep := NewEndpoint(owner, nil)
	table := neigh.NewTable(neigh.TableOptions{Protocol: ep})
	ep.BindTable(table)
	return table, ep
}

func TestPacketWireFormatRoundTrip(t *testing.T) {
	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpReply)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 1})
	copy(p.senderProtocolAddr(), []byte{10, 0, 0, 1})
	copy(p.targetHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 2})

	assert.True(t, p.isValid())
	assert.Equal(t, OpReply, p.Op())
	assert.Equal(t, []byte{0x0a, 0, 0, 0, 0, 1}, p.senderHardwareAddr())
	assert.Equal(t, []byte{10, 0, 0, 1}, p.senderProtocolAddr())
	assert.Equal(t, []byte{0x0a, 0, 0, 0, 0, 2}, p.targetHardwareAddr())
	assert.Equal(t, []byte{10, 0, 0, 2}, p.targetProtocolAddr())
}

func TestPacketIsValidRejectsShortOrWrongSpaceBuffers(t *testing.T) {
	assert.False(t, packet(make([]byte, 4)).isValid())

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p[2], p[3] = 0x08, 0x06 // wrong protocol address space
	assert.False(t, p.isValid())
}

func TestResolveStaticBroadcastAddress(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	la, ok := ep.ResolveStatic(neigh.Address(net.IPv4bcast.To4()), nil)
	require.True(t, ok)
	assert.Equal(t, broadcastMAC, la)
}

func TestResolveStaticMulticastMapping(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	ip := net.IPv4(224, 1, 2, 3).To4()
	la, ok := ep.ResolveStatic(neigh.Address(ip), nil)
	require.True(t, ok)
	assert.Equal(t, neigh.LinkAddress([]byte{0x01, 0x00, 0x5e, 1, 2, 3}), la)
}

func TestResolveStaticUnicastReturnsFalse(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	ip := net.IPv4(10, 0, 0, 5).To4()
	_, ok := ep.ResolveStatic(neigh.Address(ip), nil)
	assert.False(t, ok)
}

func TestSolicitBroadcastBuildsRequestPacket(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	err := ep.Solicit(neigh.SolicitMulticast, neigh.Address([]byte{10, 0, 0, 2}), neigh.Address([]byte{10, 0, 0, 1}), "", nic)
	require.NoError(t, err)

	sent := nic.transmitted()
	require.Len(t, sent, 1)

	hdrLen := macSize + macSize
	p := newPacket(sent[0].Data[hdrLen:])
	assert.True(t, p.isValid())
	assert.Equal(t, OpRequest, p.Op())
	assert.Equal(t, []byte{10, 0, 0, 2}, p.targetProtocolAddr())
}

func TestSolicitUnicastRequiresKnownLinkAddr(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	err := ep.Solicit(neigh.SolicitUnicast, neigh.Address([]byte{10, 0, 0, 2}), neigh.Address([]byte{10, 0, 0, 1}), "", nic)
	assert.ErrorIs(t, err, neigh.ErrBadParameters)
}

func TestHandleFrameRequestForOwnedAddressRepliesAndLearnsSender(t *testing.T) {
	owner := &fakeOwner{owns: map[string]bool{string([]byte{10, 0, 0, 1}): true}}
	table, ep := newBoundTable(owner)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpRequest)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	copy(p.senderProtocolAddr(), []byte{10, 0, 0, 2})
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 1})

	ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))

	sent := nic.transmitted()
	require.Len(t, sent, 1)

	e, ok := table.Lookup(neigh.Address([]byte{10, 0, 0, 2}), nic)
	require.True(t, ok)
	defer e.Release()
	assert.Equal(t, neigh.Stale, e.Snapshot().State)
}

func TestHandleFrameRequestForUnownedAddressGoesToProxyTable(t *testing.T) {
	owner := &fakeOwner{owns: map[string]bool{}}
	table, ep := newBoundTable(owner)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	replier := &fakeProxyReplier{}
	table.SetProxyReplier(replier)
	table.AddProxy(neigh.Address([]byte{10, 0, 0, 9}), nic)

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpRequest)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	copy(p.senderProtocolAddr(), []byte{10, 0, 0, 2})
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 9})

	ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))

	assert.Equal(t, 1, replier.count())
	assert.Empty(t, nic.transmitted(), "proxy replies go through ReplyAsProxy, not a direct Transmit from HandleFrame")
}

func TestHandleFrameReplyResolvesPendingEntry(t *testing.T) {
	table, ep := newBoundTable(nil)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	e, err := table.Create(neigh.Address([]byte{10, 0, 0, 2}), neigh.Address([]byte{10, 0, 0, 1}), nic)
	require.NoError(t, err)
	defer e.Release()

	// A reply is only meaningful against an entry awaiting resolution.
	outcome, _, err := table.ResolveAndSend(&neigh.Frame{Data: []byte("x"), NetworkProtocol: EtherTypeIPv4}, e)
	require.Equal(t, neigh.Queued, outcome)
	require.Error(t, err)

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpReply)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	copy(p.senderProtocolAddr(), []byte{10, 0, 0, 2})
	copy(p.targetHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 1})
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 1})

	ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))

	snap := e.Snapshot()
	assert.Equal(t, neigh.Reachable, snap.State)
	assert.Equal(t, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}), snap.LinkAddr)
}

func TestHandleFrameDuplicateAddressProbeRepliesWithoutLearning(t *testing.T) {
	owner := &fakeOwner{owns: map[string]bool{string([]byte{10, 0, 0, 1}): true}}
	table, ep := newBoundTable(owner)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpRequest)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	// sender protocol address left zeroed: RFC 5227 duplicate-address probe.
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 1})

	ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))

	sent := nic.transmitted()
	require.Len(t, sent, 1)
	reply := newPacket(sent[0].Data[macSize*2:])
	assert.Equal(t, OpReply, reply.Op())
	assert.Equal(t, []byte{10, 0, 0, 1}, reply.senderProtocolAddr())
	assert.Equal(t, []byte{10, 0, 0, 1}, reply.targetProtocolAddr())

	_, ok := table.Lookup(neigh.Address([]byte{0, 0, 0, 0}), nic)
	assert.False(t, ok, "a duplicate-address probe must never be learned")
}

func TestHandleFrameDuplicateAddressProbeForUnownedTargetIsSilent(t *testing.T) {
	owner := &fakeOwner{owns: map[string]bool{}}
	table, ep := newBoundTable(owner)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	buf := make([]byte, packetSize)
	p := newPacket(buf)
	p.setIPv4OverEthernet()
	p.SetOp(OpRequest)
	copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
	copy(p.targetProtocolAddr(), []byte{10, 0, 0, 9})

	ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))

	assert.Empty(t, nic.transmitted())
	_, ok := table.Lookup(neigh.Address([]byte{0, 0, 0, 0}), nic)
	assert.False(t, ok)
}

func TestHandleFrameDropsLoopbackAndMulticastTargets(t *testing.T) {
	owner := &fakeOwner{owns: map[string]bool{}}
	table, ep := newBoundTable(owner)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	targets := [][]byte{
		{127, 0, 0, 1},   // loopback
		{224, 0, 0, 251}, // multicast
	}
	for _, target := range targets {
		buf := make([]byte, packetSize)
		p := newPacket(buf)
		p.setIPv4OverEthernet()
		p.SetOp(OpRequest)
		copy(p.senderHardwareAddr(), []byte{0x0a, 0, 0, 0, 0, 2})
		copy(p.senderProtocolAddr(), []byte{10, 0, 0, 2})
		copy(p.targetProtocolAddr(), target)

		ep.HandleFrame(buf, nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))
	}

	assert.Empty(t, nic.transmitted())
	_, ok := table.Lookup(neigh.Address([]byte{10, 0, 0, 2}), nic)
	assert.False(t, ok)
}

func TestHandleFrameInvalidPacketIsIgnored(t *testing.T) {
	table, ep := newBoundTable(nil)
	defer table.Close()
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	ep.HandleFrame([]byte{0x00, 0x01}, nic, "")
	assert.Empty(t, nic.transmitted())
}

func TestReplyAsProxyBuildsReplyPacket(t *testing.T) {
	ep := NewEndpoint(nil, nil)
	nic := newTestInterface(1, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 1}))

	err := ep.ReplyAsProxy(neigh.Address([]byte{10, 0, 0, 9}), nic, neigh.LinkAddress([]byte{0x0a, 0, 0, 0, 0, 2}))
	require.NoError(t, err)

	sent := nic.transmitted()
	require.Len(t, sent, 1)
	hdrLen := macSize + macSize
	p := newPacket(sent[0].Data[hdrLen:])
	assert.Equal(t, OpReply, p.Op())
	assert.Equal(t, []byte{10, 0, 0, 9}, p.senderProtocolAddr())
}

// fakeProxyReplier mirrors the one in the neigh package's proxy_test.go but
// is redefined here since test doubles aren't exported across packages.
type fakeProxyReplier struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeProxyReplier) ReplyAsProxy(addr neigh.Address, nic neigh.Interface, requesterLinkAddr neigh.LinkAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *fakeProxyReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
