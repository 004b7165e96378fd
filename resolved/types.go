package resolved

import (
	"fmt"
	"net/netip"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// Bus names, paths and interfaces of the systemd-resolved service.
const (
	resolvedService  = "org.freedesktop.resolve1"
	resolvedPath     = dbus.ObjectPath("/org/freedesktop/resolve1")
	managerInterface = "org.freedesktop.resolve1.Manager"
	linkInterface    = "org.freedesktop.resolve1.Link"
)

// DNSServer maps to the (iay) D-Bus tuple resolved uses for one
// upstream server: address family plus raw address bytes.
type DNSServer struct {
	Family  int32
	Address []byte
}

// NewDNSServer converts addr into resolved's wire representation.
func NewDNSServer(addr netip.Addr) DNSServer {
	family := int32(unix.AF_INET)
	if addr.Is6() {
		family = int32(unix.AF_INET6)
	}
	return DNSServer{Family: family, Address: addr.AsSlice()}
}

// Addr converts the wire tuple back into an address.
func (s DNSServer) Addr() (netip.Addr, bool) {
	return netip.AddrFromSlice(s.Address)
}

func (s DNSServer) String() string {
	addr, ok := s.Addr()
	if !ok {
		return fmt.Sprintf("[invalid address, family %d]", s.Family)
	}
	return addr.String()
}

// SearchDomain maps to the (sb) D-Bus tuple for one search or routing
// domain. With Routing set the domain only steers queries to this link
// and is not appended to single-label lookups.
type SearchDomain struct {
	Search  string
	Routing bool
}
