package qos

import (
	"testing"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

func newIPv4TestPacket(tos byte) *pipeline.Packet {
	data := make([]byte, 40)
	data[0] = 0x45
	data[1] = tos
	return &pipeline.Packet{
		Data:     data,
		Offset:   0,
		Len:      20,
		L3Header: pipeline.HeaderSpan{Offset: 0, Length: 20},
	}
}

func TestDSCPMarkerDefaultMapping(t *testing.T) {
	dm := NewDSCPMarker(nil)
	mapping := dm.GetMapping()
	if mapping[PriorityP0] != DSCP_EF {
		t.Fatalf("P0 default = %d, want DSCP_EF", mapping[PriorityP0])
	}
	if mapping[PriorityP3] != DSCP_CS0 {
		t.Fatalf("P3 default = %d, want DSCP_CS0", mapping[PriorityP3])
	}
}

func TestDSCPMarkerCustomMappingOverridesDefault(t *testing.T) {
	dm := NewDSCPMarker(map[string]uint8{"P0": DSCP_CS1})
	mapping := dm.GetMapping()
	if mapping[PriorityP0] != DSCP_CS1 {
		t.Fatalf("P0 = %d, want overridden DSCP_CS1", mapping[PriorityP0])
	}
}

func TestDSCPMarkerMarkPreservesECNBits(t *testing.T) {
	dm := NewDSCPMarker(nil)
	pkt := newIPv4TestPacket(0x03) // ECN bits set, DSCP zero

	if err := dm.Mark(pkt, PriorityP1); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	tos := pkt.Data[pkt.L3Header.Offset+1]
	if ecn := tos & 0x03; ecn != 0x03 {
		t.Fatalf("ECN bits = %#x, want preserved 0x03", ecn)
	}
	if dscp := tos >> 2; dscp != DSCP_AF41 {
		t.Fatalf("DSCP bits = %d, want %d (AF41)", dscp, DSCP_AF41)
	}
}

func TestDSCPMarkerMarkRejectsMissingL3Header(t *testing.T) {
	dm := NewDSCPMarker(nil)
	pkt := &pipeline.Packet{Data: make([]byte, 40)}
	if err := dm.Mark(pkt, PriorityP0); err == nil {
		t.Fatal("expected an error marking a packet with no L3Header")
	}
}

func TestDSCPMarkerMarkRejectsUnknownPriority(t *testing.T) {
	dm := NewDSCPMarker(nil)
	pkt := newIPv4TestPacket(0)
	if err := dm.Mark(pkt, 99); err == nil {
		t.Fatal("expected an error for an unmapped priority")
	}
}

func TestDSCPMarkerUpdateMapping(t *testing.T) {
	dm := NewDSCPMarker(nil)
	if err := dm.UpdateMapping(PriorityP2, DSCP_CS3); err != nil {
		t.Fatalf("UpdateMapping: %v", err)
	}
	if got := dm.GetMapping()[PriorityP2]; got != DSCP_CS3 {
		t.Fatalf("P2 mapping = %d, want DSCP_CS3", got)
	}
}

func TestDSCPMarkerUpdateMappingRejectsInvalidInputs(t *testing.T) {
	dm := NewDSCPMarker(nil)
	if err := dm.UpdateMapping(-1, DSCP_CS3); err == nil {
		t.Fatal("expected an error for an out-of-range priority")
	}
	if err := dm.UpdateMapping(PriorityP0, 64); err == nil {
		t.Fatal("expected an error for a DSCP value above 63")
	}
}

func TestDSCPToString(t *testing.T) {
	if got := DSCPToString(DSCP_EF); got == "" {
		t.Fatal("expected a non-empty name for DSCP_EF")
	}
	if got := DSCPToString(63); got == "" {
		t.Fatal("expected a fallback name for an unrecognized codepoint")
	}
}
