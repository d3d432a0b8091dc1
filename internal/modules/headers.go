// Package modules holds the illustrative Eth/IPv4/UDP/User/Io graph nodes
// that exercise the NIC adapter and packet lifecycle contracts. It exists to
// give the core pipeline something real to push packets through, written as
// small, single-purpose protocol encoders in the same style as the pack's
// own RTMP/egress header helpers.
package modules

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8

	etherTypeIPv4 = 0x0800
	ipProtoUDP    = 17
)

// EthHeader is the 14-byte fixed Ethernet II header.
type EthHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
}

// encodeEthHeader writes h into buf[:ethHeaderLen].
func encodeEthHeader(buf []byte, h EthHeader) {
	copy(buf[0:6], h.DstMAC[:])
	copy(buf[6:12], h.SrcMAC[:])
	binary.BigEndian.PutUint16(buf[12:14], h.EtherType)
}

// decodeEthHeader parses the 14-byte header at the start of buf.
func decodeEthHeader(buf []byte) (EthHeader, error) {
	if len(buf) < ethHeaderLen {
		return EthHeader{}, fmt.Errorf("modules: short ethernet header (%d bytes)", len(buf))
	}
	var h EthHeader
	copy(h.DstMAC[:], buf[0:6])
	copy(h.SrcMAC[:], buf[6:12])
	h.EtherType = binary.BigEndian.Uint16(buf[12:14])
	return h, nil
}

// IPv4Header is the fixed 20-byte form (no options), matching what the
// Ipv4Tx module upstream of EthTx always emits.
type IPv4Header struct {
	DSCP       uint8
	TotalLen   uint16
	ID         uint16
	TTL        uint8
	Protocol   uint8
	SrcIP      net.IP
	DstIP      net.IP
}

func encodeIPv4Header(buf []byte, h IPv4Header) {
	buf[0] = 0x45 // version 4, IHL 5 (20 bytes, no options)
	buf[1] = h.DSCP
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/fragment offset: none
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum filled below
	copy(buf[12:16], h.SrcIP.To4())
	copy(buf[16:20], h.DstIP.To4())
	binary.BigEndian.PutUint16(buf[10:12], ipv4Checksum(buf[:ipv4HeaderLen]))
}

func decodeIPv4Header(buf []byte) (IPv4Header, error) {
	if len(buf) < ipv4HeaderLen {
		return IPv4Header{}, fmt.Errorf("modules: short ipv4 header (%d bytes)", len(buf))
	}
	if buf[0]>>4 != 4 {
		return IPv4Header{}, fmt.Errorf("modules: not an ipv4 packet (version %d)", buf[0]>>4)
	}
	if buf[0]&0x0f != 5 {
		return IPv4Header{}, fmt.Errorf("modules: ipv4 options unsupported")
	}
	return IPv4Header{
		DSCP:     buf[1],
		TotalLen: binary.BigEndian.Uint16(buf[2:4]),
		ID:       binary.BigEndian.Uint16(buf[4:6]),
		TTL:      buf[8],
		Protocol: buf[9],
		SrcIP:    net.IP(append([]byte(nil), buf[12:16]...)),
		DstIP:    net.IP(append([]byte(nil), buf[16:20]...)),
	}, nil
}

// ipv4Checksum computes the standard one's-complement header checksum over
// hdr, which must already have its checksum field zeroed.
func ipv4Checksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// UDPHeader is the fixed 8-byte UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

func encodeUDPHeader(buf []byte, h UDPHeader) {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	binary.BigEndian.PutUint16(buf[6:8], 0) // checksum: optional over IPv4, left unset
}

func decodeUDPHeader(buf []byte) (UDPHeader, error) {
	if len(buf) < udpHeaderLen {
		return UDPHeader{}, fmt.Errorf("modules: short udp header (%d bytes)", len(buf))
	}
	return UDPHeader{
		SrcPort: binary.BigEndian.Uint16(buf[0:2]),
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		Length:  binary.BigEndian.Uint16(buf[4:6]),
	}, nil
}
