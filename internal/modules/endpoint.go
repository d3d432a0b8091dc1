package modules

import (
	"net"
	"sync"

	"github.com/Aubrey-Liu/omnistack/internal/pipeline"
)

// Endpoint is the fixed remote address this illustrative stack's transmit
// modules address every outgoing packet to. A real stack would resolve
// next-hop MAC via ARP/NDP and take the destination IP/port from the
// payload's own socket; both are out of scope (no control-plane protocols
// here), so the stack config supplies a static peer instead.
type Endpoint struct {
	MAC  pipeline.MacAddr
	IP   net.IP
	Port uint16
}

var (
	defaultEndpointMu sync.RWMutex
	defaultEndpoint    Endpoint
)

// SetEndpoint installs the process-wide destination endpoint. Must be
// called exactly once, before Builder.Build runs for any graph referencing
// eth_tx/ipv4_tx/udp_tx.
func SetEndpoint(ep Endpoint) {
	defaultEndpointMu.Lock()
	defaultEndpoint = ep
	defaultEndpointMu.Unlock()
}

// GetEndpoint returns the process-wide destination endpoint.
func GetEndpoint() Endpoint {
	defaultEndpointMu.RLock()
	defer defaultEndpointMu.RUnlock()
	return defaultEndpoint
}
