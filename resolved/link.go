package resolved

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/fosrl/newt/logger"
	dbus "github.com/godbus/dbus/v5"
)

// Link drives the DNS configuration of one network interface inside
// systemd-resolved. Reads go straight to the service; writes are handed
// to the shared background dispatcher and return before the service has
// confirmed them. Terminal write failures land in the shared error
// store under this link's object path and can be drained with
// GetErrors.
type Link struct {
	ifIndex int32
	device  string
	path    dbus.ObjectPath

	client     Client
	dispatcher *Dispatcher
	errors     *ErrorStorage

	// Cleared permanently once resolved rejects SetLinkDefaultRoute;
	// older resolved versions do not implement the method and there is
	// no point hammering them with retries.
	featureDefaultRoute atomic.Bool
}

func newLink(client Client, dispatcher *Dispatcher, errors *ErrorStorage, ifIndex int32, path dbus.ObjectPath, device string) *Link {
	l := &Link{
		ifIndex:    ifIndex,
		device:     device,
		path:       path,
		client:     client,
		dispatcher: dispatcher,
		errors:     errors,
	}
	l.featureDefaultRoute.Store(true)
	return l
}

// Path returns the link's D-Bus object path.
func (l *Link) Path() dbus.ObjectPath {
	return l.path
}

// Device returns the local interface name the link was resolved from.
func (l *Link) Device() string {
	return l.device
}

// GetDNSServers returns the DNS servers currently configured on the
// link.
func (l *Link) GetDNSServers() ([]string, error) {
	v, err := l.client.GetProperty(l.path, linkInterface, "DNS")
	if err != nil {
		return nil, fmt.Errorf("could not retrieve DNS servers: %w", err)
	}
	var servers []DNSServer
	if err := v.Store(&servers); err != nil {
		return nil, fmt.Errorf("could not retrieve DNS servers: %w", err)
	}
	list := make([]string, 0, len(servers))
	for _, srv := range servers {
		list = append(list, srv.String())
	}
	return list, nil
}

// SetDNSServers replaces the link's DNS servers. The call runs in the
// background; the returned list is what was submitted, not what the
// service confirmed.
func (l *Link) SetDNSServers(servers []netip.Addr) ([]string, error) {
	wire := make([]DNSServer, 0, len(servers))
	applied := make([]string, 0, len(servers))
	for _, srv := range servers {
		wire = append(wire, NewDNSServer(srv))
		applied = append(applied, srv.String())
	}
	if err := l.background("SetLinkDNS", []interface{}{l.ifIndex, wire}, nil); err != nil {
		return nil, err
	}
	return applied, nil
}

// GetCurrentDNSServer returns the server resolved is currently using on
// this link, or an empty string when that cannot be determined. The
// value is advisory only, so failures are not propagated.
func (l *Link) GetCurrentDNSServer() string {
	v, err := l.client.GetProperty(l.path, linkInterface, "CurrentDNSServer")
	if err != nil {
		return ""
	}
	var srv DNSServer
	if err := v.Store(&srv); err != nil {
		return ""
	}
	addr, ok := srv.Addr()
	if !ok {
		return ""
	}
	return addr.String()
}

// GetDomains returns the search and routing domains configured on the
// link.
func (l *Link) GetDomains() ([]SearchDomain, error) {
	v, err := l.client.GetProperty(l.path, linkInterface, "Domains")
	if err != nil {
		return nil, fmt.Errorf("could not retrieve search domains: %w", err)
	}
	var domains []SearchDomain
	if err := v.Store(&domains); err != nil {
		return nil, fmt.Errorf("could not retrieve search domains: %w", err)
	}
	return domains, nil
}

// SetDomains replaces the link's search and routing domains in the
// background. Entries with an empty search string are skipped. Returns
// the submitted domain names.
func (l *Link) SetDomains(domains []SearchDomain) ([]string, error) {
	wire := make([]SearchDomain, 0, len(domains))
	applied := make([]string, 0, len(domains))
	for _, dom := range domains {
		if dom.Search == "" {
			continue
		}
		wire = append(wire, dom)
		applied = append(applied, dom.Search)
	}
	if err := l.background("SetLinkDomains", []interface{}{l.ifIndex, wire}, nil); err != nil {
		return nil, err
	}
	return applied, nil
}

// GetDefaultRoute reports whether the link is the default route for
// DNS lookups.
func (l *Link) GetDefaultRoute() (bool, error) {
	v, err := l.client.GetProperty(l.path, linkInterface, "DefaultRoute")
	if err != nil {
		return false, fmt.Errorf("could not retrieve DefaultRoute: %w", err)
	}
	var route bool
	if err := v.Store(&route); err != nil {
		return false, fmt.Errorf("could not retrieve DefaultRoute: %w", err)
	}
	return route, nil
}

// SetDefaultRoute requests the link to become (or stop being) the
// default route for DNS lookups. Once the running resolved has rejected
// the call, the feature is considered unsupported and further calls are
// no-ops.
func (l *Link) SetDefaultRoute(route bool) error {
	if !l.featureDefaultRoute.Load() {
		logger.Debug("SetDefaultRoute(%v) skipped on %s: not supported by this systemd-resolved", route, l.device)
		return nil
	}
	feature := &l.featureDefaultRoute
	return l.background("SetLinkDefaultRoute", []interface{}{l.ifIndex, route}, func() {
		feature.Store(false)
	})
}

// DefaultRouteSupported reports whether SetDefaultRoute still reaches
// the service.
func (l *Link) DefaultRouteSupported() bool {
	return l.featureDefaultRoute.Load()
}

// GetDNSSEC returns the link's DNSSEC mode.
func (l *Link) GetDNSSEC() (string, error) {
	mode, err := l.getStringProperty("DNSSEC")
	if err != nil {
		return "", fmt.Errorf("could not retrieve DNSSEC mode: %w", err)
	}
	return mode, nil
}

// SetDNSSEC changes the link's DNSSEC mode in the background. Valid
// modes are "yes", "no" and "allow-downgrade".
func (l *Link) SetDNSSEC(mode string) error {
	switch mode {
	case "yes", "no", "allow-downgrade":
	default:
		return fmt.Errorf("invalid DNSSEC mode requested: %s", mode)
	}
	return l.background("SetLinkDNSSEC", []interface{}{l.ifIndex, mode}, nil)
}

// GetDNSOverTLS returns the link's DNS-over-TLS mode.
func (l *Link) GetDNSOverTLS() (string, error) {
	mode, err := l.getStringProperty("DNSOverTLS")
	if err != nil {
		return "", fmt.Errorf("could not retrieve DNSOverTLS mode: %w", err)
	}
	return mode, nil
}

// SetDNSOverTLS changes the link's DNS-over-TLS mode in the background.
// Valid modes are "no", "false", "yes", "true" and "opportunistic".
func (l *Link) SetDNSOverTLS(mode string) error {
	switch mode {
	case "no", "false", "yes", "true", "opportunistic":
	default:
		return fmt.Errorf("invalid DNSOverTLS mode requested: %s", mode)
	}
	return l.background("SetLinkDNSOverTLS", []interface{}{l.ifIndex, mode}, nil)
}

// Revert asks resolved to reset the link's DNS configuration to its
// defaults.
func (l *Link) Revert() error {
	return l.background("RevertLink", []interface{}{l.ifIndex}, nil)
}

// GetErrors drains this link's accumulated background call failures.
func (l *Link) GetErrors() []Error {
	return l.errors.GetErrors(string(l.path))
}

// WaitForBackgroundTasks blocks until the dispatcher has no
// outstanding work left.
func (l *Link) WaitForBackgroundTasks() {
	l.dispatcher.WaitForBackgroundTasks()
}

func (l *Link) getStringProperty(name string) (string, error) {
	v, err := l.client.GetProperty(l.path, linkInterface, name)
	if err != nil {
		return "", err
	}
	var value string
	if err := v.Store(&value); err != nil {
		return "", err
	}
	return value, nil
}

// background submits one resolved.Manager call for this link. The
// failure callback captures the object path, the error store and
// whatever onTerminal needs, never the Link itself: the link may be
// released while the call is still in flight.
func (l *Link) background(method string, args []interface{}, onTerminal func()) error {
	path := string(l.path)
	store := l.errors
	return l.dispatcher.Submit(resolvedPath, managerInterface, method, args, func(messages []string) {
		for _, msg := range messages {
			store.Add(path, method, msg)
		}
		if onTerminal != nil {
			onTerminal()
		}
	})
}
