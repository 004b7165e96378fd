// Package dnscheck verifies that a DNS server actually answers
// queries. Used after handing new servers to systemd-resolved, where
// the configuration calls are fire-and-forget and a misbehaving
// upstream would otherwise only show up as silent lookup failures.
package dnscheck

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const queryTimeout = 5 * time.Second

// Result describes one successful probe.
type Result struct {
	Server string
	RTT    time.Duration
	Rcode  string
}

// Probe sends an A query for name to server and reports whether an
// answer came back. server may be a bare address; port 53 is assumed.
func Probe(server, name string) (*Result, error) {
	server = withDefaultPort(server)

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: queryTimeout}
	reply, rtt, err := client.Exchange(msg, server)
	if err != nil {
		return nil, fmt.Errorf("query %s against %s: %w", name, server, err)
	}
	return &Result{Server: server, RTT: rtt, Rcode: dns.RcodeToString[reply.Rcode]}, nil
}

// withDefaultPort appends :53 unless server already carries a port,
// bracketing bare IPv6 addresses on the way.
func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	if ip := net.ParseIP(server); ip != nil && ip.To4() == nil {
		return "[" + server + "]:53"
	}
	return server + ":53"
}
