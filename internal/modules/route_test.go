package modules

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteTableLongestPrefixMatch(t *testing.T) {
	rt := NewRouteTable([]Route{
		{Network: net.IPv4(10, 0, 0, 0), CIDR: 8, Nic: 0},
		{Network: net.IPv4(10, 1, 0, 0), CIDR: 16, Nic: 1},
		{Network: net.IPv4(10, 1, 2, 0), CIDR: 24, Nic: 2},
	})

	cases := []struct {
		ip      net.IP
		wantNic int
		wantOK  bool
	}{
		{net.IPv4(10, 5, 5, 5), 0, true},    // only the /8 matches
		{net.IPv4(10, 1, 9, 9), 1, true},    // /16 beats /8
		{net.IPv4(10, 1, 2, 9), 2, true},    // /24 beats both
		{net.IPv4(192, 168, 0, 1), 0, false}, // no match
	}

	for _, c := range cases {
		nic, ok := rt.Lookup(c.ip)
		assert.Equalf(t, c.wantOK, ok, "Lookup(%v) ok", c.ip)
		if ok {
			assert.Equalf(t, c.wantNic, nic, "Lookup(%v) nic", c.ip)
		}
	}
}

func TestRouteTableEmpty(t *testing.T) {
	rt := NewRouteTable(nil)
	_, ok := rt.Lookup(net.IPv4(1, 2, 3, 4))
	require.False(t, ok, "expected no match on an empty table")
}

func TestRouteTableRoutesIsACopy(t *testing.T) {
	rt := NewRouteTable([]Route{{Network: net.IPv4(10, 0, 0, 0), CIDR: 8, Nic: 0}})
	routes := rt.Routes()
	routes[0].Nic = 99

	got, _ := rt.Lookup(net.IPv4(10, 1, 1, 1))
	require.Equal(t, 0, got, "mutating Routes() output must not leak into the table")
}
