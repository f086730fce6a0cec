package netutil

import (
	"net"
	"net/netip"
)

// FilterResult is the outcome of ValidateAddress.
type FilterResult struct {
	Addr    netip.Addr
	Reason  string
	Allowed bool
}

type netfilterConfig struct {
	blockPrivate   bool
	blockLocalhost bool
	resolveDNS     bool
}

// NetfilterOption configures ValidateAddress.
type NetfilterOption func(*netfilterConfig)

// WithBlockPrivate controls blocking of private and link-local ranges.
func WithBlockPrivate(block bool) NetfilterOption {
	return func(c *netfilterConfig) { c.blockPrivate = block }
}

// WithBlockLocalhost controls blocking of loopback addresses.
func WithBlockLocalhost(block bool) NetfilterOption {
	return func(c *netfilterConfig) { c.blockLocalhost = block }
}

// WithResolveDNS controls whether host names are resolved. When false,
// names that are not IP literals are allowed unchecked.
func WithResolveDNS(resolve bool) NetfilterOption {
	return func(c *netfilterConfig) { c.resolveDNS = resolve }
}

var cloudMetadata = netip.MustParseAddr("169.254.169.254")

// ValidateAddress decides whether addr ("host" or "host:port") may be
// dialed by a guest. Unspecified, multicast and cloud metadata addresses
// are always refused.
func ValidateAddress(addr string, opts ...NetfilterOption) FilterResult {
	cfg := netfilterConfig{blockPrivate: true, blockLocalhost: true, resolveDNS: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		if !cfg.resolveDNS {
			return FilterResult{Allowed: true}
		}
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return FilterResult{Reason: "host does not resolve"}
		}
		for _, resolved := range ips {
			a, ok := netip.AddrFromSlice(resolved)
			if !ok {
				continue
			}
			if r := classify(a.Unmap(), cfg); !r.Allowed {
				return r
			}
		}
		a, _ := netip.AddrFromSlice(ips[0])
		return FilterResult{Addr: a.Unmap(), Allowed: true}
	}
	return classify(ip.Unmap(), cfg)
}

func classify(ip netip.Addr, cfg netfilterConfig) FilterResult {
	deny := func(reason string) FilterResult {
		return FilterResult{Addr: ip, Reason: reason}
	}
	switch {
	case ip.IsUnspecified():
		return deny("unspecified address")
	case ip.IsMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsLinkLocalMulticast():
		return deny("multicast address")
	case ip == cloudMetadata:
		return deny("cloud metadata endpoint")
	case cfg.blockLocalhost && ip.IsLoopback():
		return deny("loopback address")
	case cfg.blockPrivate && ip.IsPrivate():
		return deny("private address (RFC 1918/4193)")
	case cfg.blockPrivate && ip.IsLinkLocalUnicast():
		return deny("link-local address")
	}
	return FilterResult{Addr: ip, Allowed: true}
}
