// Package parser reads capability manifests: documents declaring extra
// capabilities the host exposes with a fixed result.
package parser

// ManifestParser parses raw manifest bytes into a Manifest.
type ManifestParser interface {
	// Parse unmarshals manifest bytes into a Manifest struct.
	Parse(data []byte) (*Manifest, error)
}
