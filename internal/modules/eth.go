package modules

import (
	"fmt"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// EthTx prepends a 14-byte Ethernet II header ahead of whatever payload is
// already staged in the packet, addressed by the nic table entry for
// pkt.Nic. Grounded on the encode-by-decrementing-Offset convention used
// throughout the pipeline's header span model: Len is left untouched, so
// Length() grows by exactly ethHeaderLen without a separate SetLen call.
type EthTx struct {
	nics *NicTable
	dst  pipeline.MacAddr // fixed next-hop MAC for this illustrative stack
}

// NewEthTx creates a transmit-side Ethernet encoder. dst is the MAC stamped
// as the frame's destination — a real stack would resolve this via ARP/NDP,
// which is out of scope here: no control-plane protocols.
func NewEthTx(nics *NicTable, dst pipeline.MacAddr) *EthTx {
	return &EthTx{nics: nics, dst: dst}
}

func (m *EthTx) Init(ctx *pipeline.Context) error { return nil }
func (m *EthTx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *EthTx) Destroy(ctx *pipeline.Context)    {}

func (m *EthTx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	info, ok := m.nics.Get(pkt.Nic)
	if !ok {
		return fmt.Errorf("eth_tx: no nic configured for index %d", pkt.Nic)
	}
	if pkt.Offset < ethHeaderLen {
		return fmt.Errorf("eth_tx: insufficient headroom (offset %d)", pkt.Offset)
	}

	pkt.Offset -= ethHeaderLen
	encodeEthHeader(pkt.Data[pkt.Offset:], EthHeader{
		DstMAC:    [6]byte(m.dst),
		SrcMAC:    [6]byte(info.MAC),
		EtherType: etherTypeIPv4,
	})
	pkt.L2Header = pipeline.HeaderSpan{Length: ethHeaderLen, Offset: pkt.Offset}
	return nil
}

// EthRx strips and validates the 14-byte Ethernet header at the front of an
// inbound packet, advancing Offset past it.
type EthRx struct{}

func NewEthRx() *EthRx { return &EthRx{} }

func (m *EthRx) Init(ctx *pipeline.Context) error { return nil }
func (m *EthRx) Capability() pipeline.Capability  { return pipeline.CapProcess }
func (m *EthRx) Destroy(ctx *pipeline.Context)    {}

func (m *EthRx) Process(ctx *pipeline.Context, pkt *pipeline.Packet) error {
	if pkt.Length() < ethHeaderLen {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	hdr, err := decodeEthHeader(pkt.Payload())
	if err != nil {
		ctx.Pool.Deallocate(pkt, ctx.ThreadID)
		return pipeline.ErrDropped
	}
	pkt.L2Header = pipeline.HeaderSpan{Length: ethHeaderLen, Offset: pkt.Offset}
	pkt.Offset += ethHeaderLen
	pkt.EthSrc = pipeline.MacAddr(hdr.SrcMAC)
	pkt.EthDst = pipeline.MacAddr(hdr.DstMAC)
	return nil
}

func init() {
	pipeline.Global().RegisterModule("eth_rx", func() pipeline.Module { return NewEthRx() })
	pipeline.Global().RegisterModule("eth_tx", func() pipeline.Module {
		return NewEthTx(Nics(), GetEndpoint().MAC)
	})
}
