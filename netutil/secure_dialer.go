package netutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

// SecureDialer resolves each host once, refuses addresses that
// ValidateAddress rejects, and dials the pinned address for the cache
// lifetime so a later DNS answer cannot redirect the guest.
type SecureDialer struct {
	// OnBlocked is called when an address is refused.
	OnBlocked func(addr string, reason string)

	// Resolver is an optional custom DNS resolver.
	Resolver *net.Resolver

	// Logger receives pinning events at debug level.
	Logger *slog.Logger

	// Timeout is the dial timeout. Default: 30s.
	Timeout time.Duration

	// CacheTTL is how long a resolution stays pinned. Default: 5min.
	CacheTTL time.Duration

	// AllowPrivateNetwork admits loopback and private ranges.
	AllowPrivateNetwork bool

	cache map[string]pinned
	mu    sync.RWMutex
}

type pinned struct {
	at   time.Time
	addr netip.Addr
}

// DialContext dials addr through the pinning cache.
func (d *SecureDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	if ip, ok := d.cached(host); ok {
		return d.dial(ctx, network, ip, port)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		ip, err = d.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
	}
	ip = ip.Unmap()
	if err := d.validate(ip); err != nil {
		return nil, err
	}
	d.pin(host, ip)
	return d.dial(ctx, network, ip, port)
}

// resolve looks up host, preferring IPv4.
func (d *SecureDialer) resolve(ctx context.Context, host string) (netip.Addr, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("DNS lookup failed for %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("no IP addresses found for %q", host)
	}
	chosen := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			chosen = a
			break
		}
	}
	d.logger().Debug("pinned DNS resolution", "host", host, "ip", chosen.String())
	return chosen, nil
}

func (d *SecureDialer) validate(ip netip.Addr) error {
	opts := []NetfilterOption{WithResolveDNS(false)}
	if d.AllowPrivateNetwork {
		opts = append(opts, WithBlockPrivate(false), WithBlockLocalhost(false))
	}
	result := ValidateAddress(ip.String(), opts...)
	if result.Allowed {
		return nil
	}
	if d.OnBlocked != nil {
		d.OnBlocked(ip.String(), result.Reason)
	}
	return &SSRFBlockedError{Address: ip.String(), Reason: result.Reason}
}

func (d *SecureDialer) cached(host string) (netip.Addr, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.cache[host]
	if !ok {
		return netip.Addr{}, false
	}
	ttl := d.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if time.Since(entry.at) >= ttl {
		return netip.Addr{}, false
	}
	return entry.addr, true
}

func (d *SecureDialer) pin(host string, ip netip.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache == nil {
		d.cache = make(map[string]pinned)
	}
	d.cache[host] = pinned{addr: ip, at: time.Now()}
}

func (d *SecureDialer) dial(ctx context.Context, network string, ip netip.Addr, port string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

func (d *SecureDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// SSRFBlockedError is returned when the dialer refuses an address.
type SSRFBlockedError struct {
	Address string
	Reason  string
}

func (e *SSRFBlockedError) Error() string {
	return fmt.Sprintf("SSRF protection blocked connection to %s: %s", e.Address, e.Reason)
}

// IsSSRFBlockedError returns true if the error is an SSRFBlockedError.
func IsSSRFBlockedError(err error) bool {
	var ssrfErr *SSRFBlockedError
	return errors.As(err, &ssrfErr)
}
