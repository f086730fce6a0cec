package subpackage

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrremote "github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	ociremote "github.com/sigstore/cosign/v2/pkg/oci/remote"
	cosignsig "github.com/sigstore/cosign/v2/pkg/signature"
	"github.com/sigstore/sigstore/pkg/signature"
)

// ErrSignatureInvalid is returned when a pulled artifact carries no
// signature from a trusted key.
var ErrSignatureInvalid = errors.New("signature verification failed")

// SignatureError wraps the verifier's reason for rejecting ref.
type SignatureError struct {
	Ref   string
	Cause error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature verification failed for %s: %v", e.Ref, e.Cause)
}

func (e *SignatureError) Unwrap() error { return e.Cause }

// Is implements error matching for errors.Is() checks.
func (e *SignatureError) Is(target error) bool {
	return target == ErrSignatureInvalid
}

// SignatureResult describes an accepted signature.
type SignatureResult struct {
	Signer     string
	Signatures int
	Verified   bool
}

// SignatureVerifier checks the signature of a manifest. ref names the
// repository and the manifest digest, as in registry/repo@sha256:...
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, ref string) (*SignatureResult, error)
}

// CosignVerifier accepts manifests signed by one of its public keys with
// cosign. Transparency log checks are skipped; the keys are the trust root.
type CosignVerifier struct {
	keys      map[string]signature.Verifier
	order     []string
	auth      AuthProvider
	plainHTTP bool
}

// CosignOption configures a CosignVerifier.
type CosignOption func(*CosignVerifier)

// WithVerifierAuth sets the credentials used to fetch signatures.
func WithVerifierAuth(p AuthProvider) CosignOption {
	return func(v *CosignVerifier) { v.auth = p }
}

// WithVerifierPlainHTTP fetches signatures over HTTP.
func WithVerifierPlainHTTP(plain bool) CosignOption {
	return func(v *CosignVerifier) { v.plainHTTP = plain }
}

// NewCosignVerifier loads the PEM public keys at publicKeys.
func NewCosignVerifier(publicKeys []string, opts ...CosignOption) (*CosignVerifier, error) {
	if len(publicKeys) == 0 {
		return nil, errors.New("cosign verifier needs at least one public key")
	}
	v := &CosignVerifier{keys: make(map[string]signature.Verifier), auth: EnvAuthProvider{}}
	for _, opt := range opts {
		opt(v)
	}
	for _, keyPath := range publicKeys {
		raw, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		verifier, err := cosignsig.LoadPublicKeyRaw(raw, crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("load public key %s: %w", keyPath, err)
		}
		v.keys[keyPath] = verifier
		v.order = append(v.order, keyPath)
	}
	return v, nil
}

// VerifySignature implements SignatureVerifier. The first key with a
// valid signature wins.
func (v *CosignVerifier) VerifySignature(ctx context.Context, ref string) (*SignatureResult, error) {
	var nameOpts []name.Option
	if v.plainHTTP {
		nameOpts = append(nameOpts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref, nameOpts...)
	if err != nil {
		return nil, &SignatureError{Ref: ref, Cause: err}
	}

	remoteOpts := []ggcrremote.Option{ggcrremote.WithContext(ctx)}
	if username, password, err := v.auth.GetCredentials(ctx, parsed.Context().RegistryStr()); err == nil && username != "" {
		remoteOpts = append(remoteOpts, ggcrremote.WithAuth(authn.FromConfig(authn.AuthConfig{
			Username: username,
			Password: password,
		})))
	}

	var errs []error
	for _, keyPath := range v.order {
		opts := &cosign.CheckOpts{
			RegistryClientOpts: []ociremote.Option{ociremote.WithRemoteOptions(remoteOpts...)},
			SigVerifier:        v.keys[keyPath],
			ClaimVerifier:      cosign.SimpleClaimVerifier,
			IgnoreTlog:         true,
			IgnoreSCT:          true,
		}
		sigs, _, err := cosign.VerifyImageSignatures(ctx, parsed, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", keyPath, err))
			continue
		}
		return &SignatureResult{Signer: keyPath, Signatures: len(sigs), Verified: true}, nil
	}
	return nil, &SignatureError{Ref: ref, Cause: errors.Join(errs...)}
}
