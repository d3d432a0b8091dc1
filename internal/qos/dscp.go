package qos

import (
	"fmt"
	"sync"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// DSCP values (RFC 2474).
const (
	DSCP_CS0  uint8 = 0
	DSCP_CS1  uint8 = 8
	DSCP_AF11 uint8 = 10
	DSCP_AF12 uint8 = 12
	DSCP_AF13 uint8 = 14
	DSCP_CS2  uint8 = 16
	DSCP_AF21 uint8 = 18
	DSCP_AF22 uint8 = 20
	DSCP_AF23 uint8 = 22
	DSCP_CS3  uint8 = 24
	DSCP_AF31 uint8 = 26
	DSCP_AF32 uint8 = 28
	DSCP_AF33 uint8 = 30
	DSCP_CS4  uint8 = 32
	DSCP_AF41 uint8 = 34
	DSCP_AF42 uint8 = 36
	DSCP_AF43 uint8 = 38
	DSCP_CS5  uint8 = 40
	DSCP_EF   uint8 = 46
	DSCP_CS6  uint8 = 48
	DSCP_CS7  uint8 = 56
)

// Priority levels, highest first.
const (
	PriorityP0 = iota
	PriorityP1
	PriorityP2
	PriorityP3
)

// DSCPMarker maps a pipeline priority onto an RFC 2474 DSCP codepoint and
// writes it into a packet's IPv4 header byte 1 (DS field), preserving the
// low two ECN bits.
type DSCPMarker struct {
	mu      sync.RWMutex
	mapping map[int]uint8
}

// NewDSCPMarker builds the default priority->DSCP mapping, overridden by any
// entries present in customMapping (keys "P0".."P3").
func NewDSCPMarker(customMapping map[string]uint8) *DSCPMarker {
	marker := &DSCPMarker{mapping: make(map[int]uint8)}

	marker.mapping[PriorityP0] = DSCP_EF
	marker.mapping[PriorityP1] = DSCP_AF41
	marker.mapping[PriorityP2] = DSCP_AF21
	marker.mapping[PriorityP3] = DSCP_CS0

	for priority, key := range map[int]string{
		PriorityP0: "P0", PriorityP1: "P1", PriorityP2: "P2", PriorityP3: "P3",
	} {
		if dscp, ok := customMapping[key]; ok {
			marker.mapping[priority] = dscp
		}
	}
	return marker
}

// Mark writes the DSCP codepoint for priority into pkt's IPv4 header. pkt
// must have L3Header already stamped by an IPv4 encode/decode module.
func (dm *DSCPMarker) Mark(pkt *pipeline.Packet, priority int) error {
	dm.mu.RLock()
	dscp, ok := dm.mapping[priority]
	dm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("qos: no DSCP mapping for priority %d", priority)
	}
	if !pkt.L3Header.Valid() || pkt.L3Header.Length < 2 {
		return fmt.Errorf("qos: packet has no IPv4 header to mark")
	}

	tosByte := pkt.L3Header.Offset + 1
	ecn := pkt.Data[tosByte] & 0x03
	pkt.Data[tosByte] = (dscp << 2) | ecn
	return nil
}

// UpdateMapping overrides the DSCP codepoint used for priority.
func (dm *DSCPMarker) UpdateMapping(priority int, dscp uint8) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if priority < PriorityP0 || priority > PriorityP3 {
		return fmt.Errorf("qos: invalid priority %d", priority)
	}
	if dscp > 63 {
		return fmt.Errorf("qos: invalid DSCP value %d (must be 0-63)", dscp)
	}
	dm.mapping[priority] = dscp
	return nil
}

// GetMapping returns a copy of the current priority->DSCP mapping.
func (dm *DSCPMarker) GetMapping() map[int]uint8 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	mapping := make(map[int]uint8, len(dm.mapping))
	for k, v := range dm.mapping {
		mapping[k] = v
	}
	return mapping
}

// DSCPToString names a DSCP codepoint.
func DSCPToString(dscp uint8) string {
	switch dscp {
	case DSCP_CS0:
		return "CS0 (Best Effort)"
	case DSCP_AF11:
		return "AF11"
	case DSCP_AF12:
		return "AF12"
	case DSCP_AF13:
		return "AF13"
	case DSCP_AF21:
		return "AF21"
	case DSCP_AF22:
		return "AF22"
	case DSCP_AF23:
		return "AF23"
	case DSCP_AF31:
		return "AF31"
	case DSCP_AF32:
		return "AF32"
	case DSCP_AF33:
		return "AF33"
	case DSCP_AF41:
		return "AF41"
	case DSCP_AF42:
		return "AF42"
	case DSCP_AF43:
		return "AF43"
	case DSCP_EF:
		return "EF (Expedited Forwarding)"
	case DSCP_CS6:
		return "CS6"
	case DSCP_CS7:
		return "CS7"
	default:
		return fmt.Sprintf("Unknown (%d)", dscp)
	}
}
