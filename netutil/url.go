package netutil

import (
	"net/url"
	"strconv"
	"strings"
)

// StripCredentials removes user:password@ from a URL for safe logging.
// Returns the original string if the URL cannot be parsed.
func StripCredentials(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.User = nil
	return parsed.String()
}

// HasCredentials returns true if the URL contains credentials.
func HasCredentials(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.User != nil
}

var defaultPorts = map[string]int{
	"http":  80,
	"ws":    80,
	"https": 443,
	"wss":   443,
}

// HostPort returns the lowercased host name and port of u, filling in the
// scheme's default port.
func HostPort(u *url.URL) (string, int) {
	host := strings.ToLower(u.Hostname())
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return host, n
		}
	}
	return host, defaultPorts[strings.ToLower(u.Scheme)]
}

// ParseAbsolute parses rawURL and requires one of the given schemes and a
// host. It reports false for anything else.
func ParseAbsolute(rawURL string, schemes ...string) (*url.URL, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	scheme := strings.ToLower(parsed.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return parsed, true
		}
	}
	return nil, false
}

// IsHTTPS returns true if the URL uses a TLS scheme (https or wss).
func IsHTTPS(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return s == "https" || s == "wss"
}

// IsOCI returns true if the URL uses the OCI scheme.
func IsOCI(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.ToLower(parsed.Scheme) == "oci"
}
