package modules

import (
	"net"
	"sync/atomic"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// Ipv4Tx prepends a 20-byte, no-options IPv4 header and consults routes for
// the outbound nic, overwriting pkt.Nic with the routed interface index
// (the scenario-2 longest-prefix-match requirement). Packets with no
// matching route are dropped.
type Ipv4Tx struct {
	routes *RouteTable
	nics   *NicTable
	dstIP  net.IP
	idCtr  atomic.Uint32
}

// NewIpv4Tx creates a transmit-side IPv4 encoder. dstIP is the fixed
// destination address stamped on every packet this illustrative stack
// sends (a real stack would take it from the payload/socket; out of scope
// here).
func NewIpv4Tx(routes *RouteTable, nics *NicTable, dstIP net.IP) *Ipv4Tx {
	return &Ipv4Tx{routes: routes, nics: nics, dstIP: dstIP}
}

func (m *Ipv4Tx) Init(ctx *pipeline.Context) error { return nil }
func (m *Ipv4Tx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *Ipv4Tx) Destroy(ctx *pipeline.Context)    {}

func (m *Ipv4Tx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	nic, ok := m.routes.Lookup(m.dstIP)
	if !ok {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	pkt.Nic = nic

	info, ok := m.nics.Get(nic)
	if !ok {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}

	if pkt.Offset < ipv4HeaderLen {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}

	payloadLen := pkt.Length()
	pkt.Offset -= ipv4HeaderLen
	encodeIPv4Header(pkt.Data[pkt.Offset:], IPv4Header{
		TotalLen: uint16(payloadLen + ipv4HeaderLen),
		ID:       uint16(m.idCtr.Add(1)),
		TTL:      64,
		Protocol: ipProtoUDP,
		SrcIP:    info.IPv4,
		DstIP:    m.dstIP,
	})
	pkt.L3Header = pipeline.HeaderSpan{Length: ipv4HeaderLen, Offset: pkt.Offset}
	return nil
}

// Ipv4Rx strips and validates the 20-byte IPv4 header at the front of an
// inbound packet, advancing Offset past it.
type Ipv4Rx struct{}

func NewIpv4Rx() *Ipv4Rx { return &Ipv4Rx{} }

func (m *Ipv4Rx) Init(ctx *pipeline.Context) error { return nil }
func (m *Ipv4Rx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *Ipv4Rx) Destroy(ctx *pipeline.Context)    {}

func (m *Ipv4Rx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	if pkt.Length() < ipv4HeaderLen {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	hdr, err := decodeIPv4Header(pkt.Payload())
	if err != nil {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	if hdr.Protocol != ipProtoUDP {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	pkt.L3Header = pipeline.HeaderSpan{Length: ipv4HeaderLen, Offset: pkt.Offset}
	pkt.Offset += ipv4HeaderLen
	return nil
}

func init() {
	pipeline.Global().RegisterModule("ipv4_rx", func() pipeline.Module { return NewIpv4Rx() })
	pipeline.Global().RegisterModule("ipv4_tx", func() pipeline.Module {
		return NewIpv4Tx(Routes(), Nics(), GetEndpoint().IP)
	})
}
