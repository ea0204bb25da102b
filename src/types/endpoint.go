package types

import (
	"fmt"
	"net"
	"net/netip"
)

// Endpoint identifies a peer by IP address and UDP port. Two endpoints are
// equal iff both fields are equal, and the type is comparable so it can key
// maps directly.
type Endpoint struct {
	IP   netip.Addr
	Port uint16
}

// ZeroEndpoint is the placeholder endpoint (::, 0) used to pad keepalive
// payloads when fewer than 8 peers are known.
var ZeroEndpoint = Endpoint{IP: netip.IPv6Unspecified(), Port: 0}

func (e Endpoint) String() string {
	return fmt.Sprintf("[%s]:%d", e.IP, e.Port)
}

func (e Endpoint) IsZero() bool {
	return (!e.IP.IsValid() || e.IP.IsUnspecified()) && e.Port == 0
}

// UDPAddr converts the endpoint to a net.UDPAddr for socket operations.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP.AsSlice(), Port: int(e.Port)}
}

// Bytes16 returns the 16-byte IPv6 form of the address, mapping IPv4
// addresses into the v4-mapped range, as sent in keepalive payloads.
func (e Endpoint) Bytes16() [16]byte {
	return e.IP.As16()
}

// EndpointFromUDPAddr converts a kernel address into an Endpoint, unmapping
// v4-mapped addresses so equality behaves as expected.
func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	ip, _ := netip.AddrFromSlice(addr.IP)
	return Endpoint{IP: ip.Unmap(), Port: uint16(addr.Port)}
}

// EndpointFromBytes rebuilds an endpoint from its 16-byte address and port.
func EndpointFromBytes(b [16]byte, port uint16) Endpoint {
	return Endpoint{IP: netip.AddrFrom16(b).Unmap(), Port: port}
}

// ParseEndpoint parses "host:port" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{IP: ap.Addr().Unmap(), Port: ap.Port()}, nil
}
