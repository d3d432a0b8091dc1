package modules

import (
	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// UdpTx prepends an 8-byte UDP header ahead of the packet's current
// payload, addressed to the fixed destination endpoint.
type UdpTx struct {
	srcPort uint16
	dstPort uint16
}

// NewUdpTx creates a transmit-side UDP encoder.
func NewUdpTx(srcPort, dstPort uint16) *UdpTx {
	return &UdpTx{srcPort: srcPort, dstPort: dstPort}
}

func (m *UdpTx) Init(ctx *pipeline.Context) error { return nil }
func (m *UdpTx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *UdpTx) Destroy(ctx *pipeline.Context)    {}

func (m *UdpTx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	if pkt.Offset < udpHeaderLen {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}

	payloadLen := pkt.Length()
	pkt.Offset -= udpHeaderLen
	encodeUDPHeader(pkt.Data[pkt.Offset:], UDPHeader{
		SrcPort: m.srcPort,
		DstPort: m.dstPort,
		Length:  uint16(payloadLen + udpHeaderLen),
	})
	pkt.L4Header = pipeline.HeaderSpan{Length: udpHeaderLen, Offset: pkt.Offset}
	return nil
}

// UdpRx strips and validates the 8-byte UDP header at the front of an
// inbound packet, advancing Offset past it.
type UdpRx struct{}

func NewUdpRx() *UdpRx { return &UdpRx{} }

func (m *UdpRx) Init(ctx *pipeline.Context) error { return nil }
func (m *UdpRx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *UdpRx) Destroy(ctx *pipeline.Context)    {}

func (m *UdpRx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	if pkt.Length() < udpHeaderLen {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	hdr, err := decodeUDPHeader(pkt.Payload())
	if err != nil {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	pkt.L4Header = pipeline.HeaderSpan{Length: udpHeaderLen, Offset: pkt.Offset}
	pkt.Offset += udpHeaderLen
	pkt.L4SrcPort = hdr.SrcPort
	pkt.L4DstPort = hdr.DstPort
	return nil
}

func init() {
	pipeline.Global().RegisterModule("udp_rx", func() pipeline.Module { return NewUdpRx() })
	pipeline.Global().RegisterModule("udp_tx", func() pipeline.Module {
		ep := GetEndpoint()
		return NewUdpTx(ep.Port, ep.Port)
	})
}
