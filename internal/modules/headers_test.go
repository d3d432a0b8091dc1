package modules

import (
	"net"
	"testing"
)

func TestEthHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, ethHeaderLen)
	want := EthHeader{
		DstMAC:    [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SrcMAC:    [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EtherType: etherTypeIPv4,
	}
	encodeEthHeader(buf, want)

	got, err := decodeEthHeader(buf)
	if err != nil {
		t.Fatalf("decodeEthHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeEthHeaderShort(t *testing.T) {
	if _, err := decodeEthHeader(make([]byte, 4)); err == nil {
		t.Fatal("expected error decoding short buffer")
	}
}

func TestIPv4HeaderRoundTrip(t *testing.T) {
	buf := make([]byte, ipv4HeaderLen)
	want := IPv4Header{
		TotalLen: 1228,
		ID:       7,
		TTL:      64,
		Protocol: ipProtoUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	encodeIPv4Header(buf, want)

	got, err := decodeIPv4Header(buf)
	if err != nil {
		t.Fatalf("decodeIPv4Header: %v", err)
	}
	if got.TotalLen != want.TotalLen || got.TTL != want.TTL || got.Protocol != want.Protocol {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.SrcIP.Equal(want.SrcIP) || !got.DstIP.Equal(want.DstIP) {
		t.Fatalf("ip mismatch: got %+v, want %+v", got, want)
	}
}

func TestIPv4ChecksumValidates(t *testing.T) {
	buf := make([]byte, ipv4HeaderLen)
	encodeIPv4Header(buf, IPv4Header{
		TotalLen: 40,
		Protocol: ipProtoUDP,
		TTL:      64,
		SrcIP:    net.IPv4(192, 168, 1, 1),
		DstIP:    net.IPv4(192, 168, 1, 2),
	})

	// Header checksum over a correctly-filled header (including its own
	// checksum field) sums to zero.
	if sum := ipv4Checksum(buf); sum != 0 {
		t.Fatalf("expected zero checksum over a valid header, got %#x", sum)
	}
}

func TestDecodeIPv4HeaderRejectsOptions(t *testing.T) {
	buf := make([]byte, ipv4HeaderLen)
	encodeIPv4Header(buf, IPv4Header{TotalLen: 20, SrcIP: net.IPv4(1, 1, 1, 1), DstIP: net.IPv4(2, 2, 2, 2)})
	buf[0] = 0x46 // IHL 6: options present
	if _, err := decodeIPv4Header(buf); err == nil {
		t.Fatal("expected error for ipv4 options")
	}
}

func TestUDPHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, udpHeaderLen)
	want := UDPHeader{SrcPort: 5000, DstPort: 6000, Length: 1208}
	encodeUDPHeader(buf, want)

	got, err := decodeUDPHeader(buf)
	if err != nil {
		t.Fatalf("decodeUDPHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
