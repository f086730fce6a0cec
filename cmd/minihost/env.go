package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja_nodejs/require"
	"github.com/opencontainers/go-digest"

	"github.com/reglet-dev/minihost"
	"github.com/reglet-dev/minihost/capability"
	"github.com/reglet-dev/minihost/capability/gatekeeper"
	"github.com/reglet-dev/minihost/capability/grantstore"
	"github.com/reglet-dev/minihost/config"
	"github.com/reglet-dev/minihost/device"
	"github.com/reglet-dev/minihost/extractor"
	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/loop"
	"github.com/reglet-dev/minihost/media"
	"github.com/reglet-dev/minihost/netutil"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/parser"
	"github.com/reglet-dev/minihost/policy"
	"github.com/reglet-dev/minihost/profile"
	"github.com/reglet-dev/minihost/storage"
	"github.com/reglet-dev/minihost/subpackage"
	"github.com/reglet-dev/minihost/ui"
	"github.com/reglet-dev/minihost/worker"
)

// envOptions are the command line inputs shared by run, repl and call.
type envOptions struct {
	appConfig string
	manifests []string
}

// env is a host wired to a JS event loop.
type env struct {
	host   *minihost.Host
	loop   *loop.EventLoop
	fs     *fsys.Manager
	logger *slog.Logger
}

func (e *env) Close() {
	_ = e.host.Close()
	if e.fs != nil {
		_ = e.fs.Close()
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// newEnv builds the host described by cfg and the app config.
func newEnv(cfg *config.Config, opts envOptions) (*env, error) {
	logger := newLogger(cfg)

	var app *extractor.AppConfig
	if opts.appConfig != "" {
		var err error
		if app, err = extractor.LoadAppConfig(opts.appConfig); err != nil {
			return nil, err
		}
	}

	// The subpackage manager is created after the loop it schedules on,
	// so require() resolves through it lazily.
	var subpackages *subpackage.Manager
	requireRegistry := require.NewRegistry(require.WithLoader(func(path string) ([]byte, error) {
		if subpackages == nil {
			return require.DefaultSourceLoader(path)
		}
		return subpackages.SourceLoader(nil)(path)
	}))
	el := loop.NewEventLoop(loop.WithRequireRegistry(requireRegistry), loop.WithEventLoopLogger(logger))

	fs, err := fsys.New(cfg.FSRoot, fsys.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg, logger)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}

	storeOpts := []grantstore.FileStoreOption{}
	if cfg.GrantFile != "" {
		storeOpts = append(storeOpts, grantstore.WithPath(cfg.GrantFile))
	}
	gk := gatekeeper.NewGatekeeper(
		gatekeeper.WithStore(grantstore.NewFileStore(storeOpts...)),
		gatekeeper.WithSecurityLevel(cfg.Security),
		gatekeeper.WithTrustAll(cfg.TrustAll),
		gatekeeper.WithLogger(logger),
	)

	grants := &capability.GrantSet{Domains: cfg.Domains}
	timeout := cfg.RequestTimeout
	if app != nil {
		reg := capability.NewRegistry()
		extractor.RegisterDefaultExtractors(reg)
		req := extractor.Extract(reg, app)
		// Declared domains are approved before the guest runs; scopes are
		// asked for when the guest first needs them.
		approved, err := gk.GrantRequired(context.Background(), &capability.GrantSet{Domains: req.Grants.Domains})
		if err != nil {
			_ = fs.Close()
			return nil, err
		}
		grants.Merge(&capability.GrantSet{Domains: approved.Domains})
		timeout = req.Timeouts.For("request", timeout)
	}
	netOpts := []network.Option{
		network.WithFileSystem(fs),
		network.WithTimeout(timeout),
		network.WithMaxBodySize(cfg.MaxBodySize),
		network.WithMaxSockets(cfg.SocketLimit),
		network.WithUserAgent(userAgent(cfg)),
		network.WithLogger(logger),
	}
	tlsConfig, err := clientTLS(cfg)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	if tlsConfig != nil {
		netOpts = append(netOpts, network.WithTLSConfig(tlsConfig))
	}
	if len(grants.Domains) > 0 {
		p := policy.NewPolicy(policy.WithDenialHandler(&policy.SlogDenialHandler{Logger: logger}))
		netOpts = append(netOpts, network.WithAllowList(p, grants.Policy()))
	}

	info := device.DefaultSystemInfo(cfg.HostVersion)
	info.Platform = cfg.Platform
	clipboard := device.Clipboard(&device.MemoryClipboard{})
	if device.SystemClipboardAvailable() {
		clipboard = device.SystemClipboard{}
	}

	album, err := media.NewDirAlbum(cfg.AlbumDir)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	var presenter ui.Presenter = ui.NewHeadless(logger)
	if term := ui.NewTerminal(); term.IsInteractive() {
		presenter = term
	}
	user := profile.Default()
	if cfg.ProfileFile != "" {
		if user, err = profile.Load(cfg.ProfileFile); err != nil {
			_ = fs.Close()
			return nil, err
		}
	}

	hostOpts := []minihost.Option{
		minihost.WithLogger(logger),
		minihost.WithHostVersion(cfg.HostVersion),
		minihost.WithStorage(store),
		minihost.WithFileSystem(fs),
		minihost.WithNetwork(network.New(el, netOpts...)),
		minihost.WithDevice(device.New(el,
			device.WithSystemInfo(info),
			device.WithClipboard(clipboard),
			device.WithLogger(logger),
		)),
		minihost.WithWorkers(worker.NewManager(el, worker.WithLogger(logger))),
		minihost.WithAuthorizer(gk),
		minihost.WithUserAgent(userAgent(cfg)),
		minihost.WithAppID(cfg.AppID),
		minihost.WithAlbum(album),
		minihost.WithProfile(user),
		minihost.WithUI(ui.New(el, ui.WithPresenter(presenter), ui.WithLogger(logger))),
		minihost.WithDenialHandler(func(_ context.Context, name string, scope capability.Scope, msg string) {
			logger.Warn("capability denied", "capability", name, "scope", scope, "reason", msg)
		}),
	}

	if app != nil && len(app.Subpackages) > 0 {
		repo, err := subpackage.NewFSRepository(cfg.Subpackage.CacheDir)
		if err != nil {
			_ = fs.Close()
			return nil, err
		}
		sourceOpts := []subpackage.OCIOption{
			subpackage.WithPlainHTTP(cfg.Subpackage.PlainHTTP),
			subpackage.WithAuth(subpackage.EnvAuthProvider{}),
		}
		if len(cfg.Subpackage.PublicKeys) > 0 {
			verifier, err := subpackage.NewCosignVerifier(cfg.Subpackage.PublicKeys,
				subpackage.WithVerifierPlainHTTP(cfg.Subpackage.PlainHTTP),
			)
			if err != nil {
				_ = fs.Close()
				return nil, err
			}
			sourceOpts = append(sourceOpts, subpackage.WithVerifier(verifier))
		}
		source := subpackage.NewOCISource(sourceOpts...)
		subpackages = subpackage.NewManager(el, source, repo,
			subpackage.WithLockfile(cfg.Subpackage.Lockfile, nil),
			subpackage.WithLogger(logger),
		)
		for _, d := range app.Subpackages {
			subpackages.Declare(subpackage.Spec{
				Name:   d.Name,
				Root:   d.Root,
				Ref:    d.Ref,
				Digest: digest.Digest(d.Digest),
			})
		}
		hostOpts = append(hostOpts, minihost.WithSubpackages(subpackages))
	}

	h, err := minihost.New(el, hostOpts...)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	for _, path := range opts.manifests {
		m, err := loadManifest(path)
		if err != nil {
			_ = fs.Close()
			return nil, err
		}
		if err := h.RegisterManifest(m); err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}
	return &env{host: h, loop: el, fs: fs, logger: logger}, nil
}

func newStore(cfg *config.Config, logger *slog.Logger) (*storage.Store, error) {
	var backend storage.Backend = storage.NewMemoryBackend()
	if cfg.StorageFile != "" {
		fb, err := storage.NewFileBackend(cfg.StorageFile)
		if err != nil {
			return nil, err
		}
		backend = fb
	}
	return storage.New(backend, storage.WithLimitKB(cfg.StorageQuotaKB), storage.WithLogger(logger))
}

func loadManifest(path string) (*parser.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := parser.ForFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(data)
}

func userAgent(cfg *config.Config) string {
	return fmt.Sprintf("minihost/%s (%s)", cfg.HostVersion, cfg.Platform)
}

// scriptName is the name a script is reported under in stack traces.
func scriptName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return strings.TrimSpace(path)
}

// clientTLS returns nil when the client defaults apply.
func clientTLS(cfg *config.Config) (*tls.Config, error) {
	if cfg.InsecureTLS {
		return netutil.InsecureTLSConfig(), nil
	}
	if cfg.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
	}
	return netutil.TLSConfigWithRoots(pool), nil
}
