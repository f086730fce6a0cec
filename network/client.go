// Package network implements the request, transfer and socket
// capabilities. Every operation returns a task handle; results are
// delivered through the task's future.
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/netutil"
	"github.com/reglet-dev/minihost/policy"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxBodySize = 10 << 20
	DefaultMaxSockets  = 5
	DefaultMaxFileSize = 200 << 20
)

// Client issues guest network operations.
type Client struct {
	sched      loop.Scheduler
	fs         *fsys.Manager
	policy     policy.Policy
	grants     *policy.Grants
	logger     *slog.Logger
	tlsConfig  *tls.Config
	dialer     *netutil.SecureDialer
	http       *http.Client
	userAgent  string
	timeout    time.Duration
	maxBody    int64
	maxFile    int64
	maxSockets int32
	sockets    atomic.Int32
}

// Option configures a Client.
type Option func(*Client)

// WithAllowList restricts every operation to the hosts granted. Without
// it all public hosts are reachable.
func WithAllowList(p policy.Policy, grants *policy.Grants) Option {
	return func(c *Client) {
		c.policy = p
		c.grants = grants
	}
}

// WithFileSystem sets the file system used by downloads and uploads.
func WithFileSystem(m *fsys.Manager) Option {
	return func(c *Client) { c.fs = m }
}

// WithTimeout sets the default per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodySize caps request response bodies.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithMaxFileSize caps downloaded files.
func WithMaxFileSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxFile = n
		}
	}
}

// WithMaxSockets caps concurrently open sockets.
func WithMaxSockets(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxSockets = int32(n) //nolint:gosec // small configured limit
		}
	}
}

// WithPrivateNetwork admits loopback and private addresses.
func WithPrivateNetwork(allow bool) Option {
	return func(c *Client) { c.dialer.AllowPrivateNetwork = allow }
}

// WithTLSConfig overrides the client TLS configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.tlsConfig = cfg
		}
	}
}

// WithUserAgent sets the User-Agent sent when the guest sets none.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client delivering results on sched.
func New(sched loop.Scheduler, opts ...Option) *Client {
	c := &Client{
		sched:      sched,
		logger:     slog.Default(),
		tlsConfig:  netutil.TLSConfig(),
		dialer:     &netutil.SecureDialer{},
		timeout:    DefaultTimeout,
		maxBody:    DefaultMaxBodySize,
		maxFile:    DefaultMaxFileSize,
		maxSockets: DefaultMaxSockets,
		userAgent:  "minihost",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer.Logger = c.logger
	c.dialer.OnBlocked = func(addr, reason string) {
		c.logger.Warn("blocked guest connection", "addr", addr, "reason", reason)
	}
	transport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       c.tlsConfig,
		DialContext:           c.dialer.DialContext,
	}
	c.http = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			// Redirect targets are held to the same allow-list.
			return c.checkDomain(policy.KindRequest, req.URL)
		},
	}
	return c
}

// Sockets returns the number of open sockets.
func (c *Client) Sockets() int { return int(c.sockets.Load()) }

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// parseURL validates a guest URL for the given schemes as a contract check.
func parseURL(raw string, schemes ...string) (*url.URL, error) {
	if raw == "" {
		return nil, hosterr.Contract("url", "must not be empty")
	}
	u, ok := netutil.ParseAbsolute(raw, schemes...)
	if !ok {
		return nil, hosterr.Contract("url", "invalid url %q", netutil.StripCredentials(raw))
	}
	return u, nil
}

func (c *Client) checkDomain(kind string, u *url.URL) error {
	if c.policy == nil || c.grants == nil {
		return nil
	}
	host, port := netutil.HostPort(u)
	if c.policy.CheckNetwork(policy.NetworkRequest{Kind: kind, Host: host, Port: port}, c.grants) {
		return nil
	}
	return hosterr.Host(hosterr.CodePermissionDenied, "url not in domain list: %s", host)
}

func (c *Client) timeoutFor(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return c.timeout
}

// classify maps a transport error to the host error taxonomy.
func classify(err error) *hosterr.Error {
	var he *hosterr.Error
	var netErr net.Error
	switch {
	case errors.As(err, &he):
		return he
	case netutil.IsSSRFBlockedError(err):
		return hosterr.Wrap(hosterr.CodePermissionDenied, err, "%v", err)
	case netutil.IsSizeLimitExceededError(err):
		return hosterr.Wrap(hosterr.CodeLimitExceeded, err, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return hosterr.Wrap(hosterr.CodeTimeout, err, "timeout")
	case errors.Is(err, context.Canceled):
		return hosterr.Wrap(hosterr.CodeAborted, err, "abort")
	}
	return hosterr.Wrap(hosterr.CodeNetwork, err, "%v", err)
}
