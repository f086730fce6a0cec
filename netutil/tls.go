package netutil

import (
	"crypto/tls"
	"crypto/x509"
)

// TLSConfig returns the client TLS configuration used for guest requests
// and sockets: TLS 1.2 minimum with AEAD cipher suites only.
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			// TLS 1.3 suites are not configurable and always enabled.
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}

// TLSConfigWithRoots is TLSConfig trusting only roots, for hosts that pin
// their own certificate authority.
func TLSConfigWithRoots(roots *x509.CertPool) *tls.Config {
	cfg := TLSConfig()
	cfg.RootCAs = roots
	return cfg
}

// InsecureTLSConfig skips certificate verification. Only the developer
// tools path enables it.
func InsecureTLSConfig() *tls.Config {
	cfg := TLSConfig()
	cfg.InsecureSkipVerify = true
	return cfg
}

// TLSVersionString returns a human-readable TLS version string.
func TLSVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}
