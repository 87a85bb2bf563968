package neigh

import (
	"sync"
)

// fakeInterface is a minimal Interface test double: BuildHeader stamps a
// fixed-width fake header so tests can assert on its shape without a real
// link-layer encoding, and Transmit records every frame it's handed.
type fakeInterface struct {
	id   NICID
	name string
	hw   LinkAddress
	bc   LinkAddress
	caps Capabilities

	mu          sync.Mutex
	transmitted []*Frame
	failNext    bool
}

func newFakeInterface(id NICID, hw LinkAddress) *fakeInterface {
	return &fakeInterface{
		id:   id,
		name: "fake0",
		hw:   hw,
		bc:   LinkAddress("\xff\xff\xff\xff\xff\xff"),
		caps: CapResolutionRequired | CapBroadcast | CapHeaderCache,
	}
}

func (f *fakeInterface) ID() NICID                    { return f.id }
func (f *fakeInterface) Name() string                 { return f.name }
func (f *fakeInterface) LinkAddress() LinkAddress      { return f.hw }
func (f *fakeInterface) BroadcastAddress() LinkAddress { return f.bc }
func (f *fakeInterface) AddressLength() int            { return 6 }
func (f *fakeInterface) MTU() uint32                   { return 1500 }
func (f *fakeInterface) Capabilities() Capabilities    { return f.caps }

func (f *fakeInterface) BuildHeader(frame *Frame, networkProtocol uint16, dst, src LinkAddress) error {
	frame.Data = append([]byte("HDR:"+string(dst)+"<-"+string(src)+":"), frame.Data...)
	return nil
}

func (f *fakeInterface) Transmit(frame *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return ErrInterfaceDown
	}
	f.transmitted = append(f.transmitted, frame)
	return nil
}

func (f *fakeInterface) sent() []*Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Frame, len(f.transmitted))
	copy(out, f.transmitted)
	return out
}

// solicitCall records one invocation of fakeProtocol.Solicit.
type solicitCall struct {
	kind          SolicitKind
	addr          Address
	localAddr     Address
	knownLinkAddr LinkAddress
}

// fakeProtocol is a minimal Protocol test double.
type fakeProtocol struct {
	mu sync.Mutex

	static      map[Address]LinkAddress
	solicits    []solicitCall
	failSolicit bool
	unreachable []Address
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{static: make(map[Address]LinkAddress)}
}

func (p *fakeProtocol) Hash(addr Address, nic NICID, seed uint32) uint32 {
	var h uint32 = seed
	for i := 0; i < len(addr); i++ {
		h = h*31 + uint32(addr[i])
	}
	return h
}

func (p *fakeProtocol) ResolveStatic(addr Address, nic Interface) (LinkAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	la, ok := p.static[addr]
	return la, ok
}

func (p *fakeProtocol) Solicit(kind SolicitKind, addr, localAddr Address, knownLinkAddr LinkAddress, nic Interface) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.solicits = append(p.solicits, solicitCall{kind: kind, addr: addr, localAddr: localAddr, knownLinkAddr: knownLinkAddr})
	if p.failSolicit {
		return ErrNoLinkAddress
	}
	return nil
}

func (p *fakeProtocol) ReportUnreachable(frame *Frame, addr Address, nic Interface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreachable = append(p.unreachable, addr)
}

func (p *fakeProtocol) soliciting() []solicitCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]solicitCall, len(p.solicits))
	copy(out, p.solicits)
	return out
}

// fakeDispatcher records every lifecycle event.
type fakeDispatcher struct {
	mu      sync.Mutex
	added   []State
	changed []State
	removed []State
}

func (d *fakeDispatcher) OnAdded(nic NICID, addr Address, linkAddr LinkAddress, s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.added = append(d.added, s)
}

func (d *fakeDispatcher) OnChanged(nic NICID, addr Address, linkAddr LinkAddress, s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changed = append(d.changed, s)
}

func (d *fakeDispatcher) OnRemoved(nic NICID, addr Address, linkAddr LinkAddress, s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, s)
}
