package subpackage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/reglet-dev/minihost/netutil"
)

// Media types of a subpackage artifact.
const (
	ArtifactType    = "application/vnd.minihost.subpackage.v1"
	ConfigMediaType = "application/vnd.minihost.subpackage.config.v1+json"
	LayerMediaType  = "application/vnd.minihost.subpackage.layer.v1+zip"
)

// ProgressFunc receives bytes written and bytes expected.
type ProgressFunc func(written, total int64)

// Metadata is the config blob of a subpackage artifact.
type Metadata struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Artifact is a pulled subpackage. Signer names the key that signed it
// when the source verifies signatures.
type Artifact struct {
	Meta    Metadata
	Ref     string
	Signer  string
	Digest  digest.Digest
	Archive []byte
}

// Source fetches subpackage artifacts.
type Source interface {
	Pull(ctx context.Context, ref string, progress ProgressFunc) (*Artifact, error)
}

// AuthProvider retrieves authentication credentials for registries.
type AuthProvider interface {
	// GetCredentials returns (username, password, error).
	GetCredentials(ctx context.Context, registry string) (string, string, error)
}

// EnvAuthProvider retrieves credentials from MINIHOST_REGISTRY_USERNAME and
// MINIHOST_REGISTRY_PASSWORD.
type EnvAuthProvider struct{}

// GetCredentials returns username and password for a registry.
func (EnvAuthProvider) GetCredentials(context.Context, string) (string, string, error) {
	return os.Getenv("MINIHOST_REGISTRY_USERNAME"), os.Getenv("MINIHOST_REGISTRY_PASSWORD"), nil
}

// TargetFunc opens the repository named by ref.
type TargetFunc func(ctx context.Context, ref registry.Reference) (oras.ReadOnlyTarget, error)

// OCISource pulls subpackages from an OCI registry with oras.
type OCISource struct {
	auth      AuthProvider
	target    TargetFunc
	verifier  SignatureVerifier
	plainHTTP bool
}

// OCIOption configures an OCISource.
type OCIOption func(*OCISource)

// WithAuth sets the credential provider.
func WithAuth(p AuthProvider) OCIOption {
	return func(s *OCISource) { s.auth = p }
}

// WithPlainHTTP talks to registries over HTTP.
func WithPlainHTTP(plain bool) OCIOption {
	return func(s *OCISource) { s.plainHTTP = plain }
}

// WithTarget replaces the remote repository, for example with an
// in-memory store.
func WithTarget(fn TargetFunc) OCIOption {
	return func(s *OCISource) { s.target = fn }
}

// WithVerifier requires every pulled manifest to pass v.
func WithVerifier(v SignatureVerifier) OCIOption {
	return func(s *OCISource) { s.verifier = v }
}

// NewOCISource creates an OCI source.
func NewOCISource(opts ...OCIOption) *OCISource {
	s := &OCISource{auth: EnvAuthProvider{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.target == nil {
		s.target = s.remote
	}
	return s
}

func (s *OCISource) remote(ctx context.Context, ref registry.Reference) (oras.ReadOnlyTarget, error) {
	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	repo.PlainHTTP = s.plainHTTP

	username, password, err := s.auth.GetCredentials(ctx, ref.Registry)
	if err == nil && username != "" {
		repo.Client = &auth.Client{
			Credential: func(ctx context.Context, registry string) (auth.Credential, error) {
				return auth.Credential{
					Username: username,
					Password: password,
				}, nil
			},
		}
	}
	return repo, nil
}

// Pull resolves ref, then fetches its manifest, config and zip layer.
// Progress covers the layer bytes. With a verifier the manifest signature
// is checked before the artifact is returned.
func (s *OCISource) Pull(ctx context.Context, ref string, progress ProgressFunc) (*Artifact, error) {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid subpackage reference %q: %w", ref, err)
	}
	target, err := s.target(ctx, parsed)
	if err != nil {
		return nil, err
	}

	manifestDesc, err := target.Resolve(ctx, parsed.ReferenceOrDefault())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	manifestBytes, err := content.FetchAll(ctx, target, manifestDesc)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}

	var meta Metadata
	if manifest.Config.MediaType == ConfigMediaType {
		configBytes, err := content.FetchAll(ctx, target, manifest.Config)
		if err != nil {
			return nil, fmt.Errorf("fetch config: %w", err)
		}
		if err := json.Unmarshal(configBytes, &meta); err != nil {
			return nil, fmt.Errorf("invalid config JSON: %w", err)
		}
	}

	layer, err := findLayer(&manifest)
	if err != nil {
		return nil, err
	}
	rc, err := target.Fetch(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("fetch layer: %w", err)
	}
	defer func() { _ = rc.Close() }()

	var r io.Reader = rc
	if progress != nil {
		progress(0, layer.Size)
		r = &netutil.ProgressReader{R: rc, Total: layer.Size, OnChange: progress}
	}
	archive, err := io.ReadAll(io.LimitReader(r, layer.Size+1))
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}
	if int64(len(archive)) != layer.Size {
		return nil, fmt.Errorf("layer size mismatch: expected %d, got %d", layer.Size, len(archive))
	}
	if err := Verify(layer.Digest, archive); err != nil {
		return nil, err
	}

	artifact := &Artifact{Meta: meta, Ref: ref, Digest: layer.Digest, Archive: archive}
	if s.verifier != nil {
		pinned := fmt.Sprintf("%s/%s@%s", parsed.Registry, parsed.Repository, manifestDesc.Digest)
		res, err := s.verifier.VerifySignature(ctx, pinned)
		if err != nil {
			var sigErr *SignatureError
			if !errors.As(err, &sigErr) {
				err = &SignatureError{Ref: pinned, Cause: err}
			}
			return nil, err
		}
		artifact.Signer = res.Signer
	}
	return artifact, nil
}

func findLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	for _, layer := range manifest.Layers {
		if layer.MediaType == LayerMediaType {
			return layer, nil
		}
	}
	return ocispec.Descriptor{}, fmt.Errorf("no subpackage layer found")
}
