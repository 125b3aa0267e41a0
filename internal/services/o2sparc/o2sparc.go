// Package o2sparc implements the o²S²PARC computational service client:
// solver lookup, job submission, progress, results and logs.
package o2sparc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

const (
	// Name is the registry name of the o2sparc service.
	Name = "o2sparc"
	// DefaultHost is the public o²S²PARC API endpoint.
	DefaultHost = "https://api.osparc.io"
	// SupportedServers is the range of API server versions this client speaks.
	SupportedServers = ">=0.3.0 <1.0.0"

	debugProfile = "test"
)

// ErrUnsupportedServer indicates the API server version is outside SupportedServers.
var ErrUnsupportedServer = errors.New("unsupported server version")

var supportedRange = semver.MustParseRange(SupportedServers)

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger used by the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithTransport sets retry and timeout tuning for the HTTP client.
func WithTransport(o transport.Options) Option {
	return func(s *Service) { s.tuning = o }
}

// Service wraps the o²S²PARC public API.
type Service struct {
	mu            sync.RWMutex
	host          string
	username      string
	password      string
	debug         bool
	serverVersion string
	versionKnown  bool
	supported     bool
	connected     bool
	closed        bool

	client *transport.Client
	tuning transport.Options
	log    *slog.Logger
}

var _ services.Service = (*Service)(nil)

// Factory returns a services.Factory producing o2sparc services.
func Factory(opts ...Option) services.Factory {
	return func(ctx context.Context, cfg config.Section, connect bool) (services.Service, error) {
		return New(ctx, cfg, connect, opts...)
	}
}

// New creates an o2sparc service. Host and credentials come from the
// O2SPARC_HOST, O2SPARC_USERNAME and O2SPARC_PASSWORD environment variables,
// falling back to the o2sparc_* keys of the profile section. A Pennsieve
// profile named "test" turns on request debugging.
func New(ctx context.Context, cfg config.Section, connect bool, opts ...Option) (*Service, error) {
	host := cfg.EnvOr("O2SPARC_HOST", "o2sparc_host")
	if host == "" {
		host = DefaultHost
	}

	s := &Service{
		host:     strings.TrimSuffix(host, "/"),
		username: cfg.EnvOr("O2SPARC_USERNAME", "o2sparc_username"),
		password: cfg.EnvOr("O2SPARC_PASSWORD", "o2sparc_password"),
		debug:    cfg.GetOrDefault("pennsieve_profile_name", "prod") == debugProfile,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", Name)
	s.log.Info("initializing o2sparc", "host", s.host, "debug", s.debug)

	s.client = s.newClient()

	if connect {
		if _, err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) newClient() *transport.Client {
	opts := s.tuning
	opts.Service = Name
	opts.BaseURL = s.host + "/v0"
	opts.Username = s.username
	opts.Password = s.password
	opts.Debug = opts.Debug || s.debug
	opts.Logger = s.log
	return transport.New(opts)
}

// Connect fetches the server metadata and returns the endpoint. A server
// outside SupportedServers is logged but still accepted.
func (s *Service) Connect(ctx context.Context) (string, error) {
	meta, err := s.meta(ctx)
	if err != nil {
		return "", wrap("Connect", err)
	}

	_, verr := checkVersion(meta.Version)
	if verr != nil {
		s.log.Warn("server version not supported", "version", meta.Version, "supported", SupportedServers, "error", verr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverVersion = meta.Version
	s.versionKnown = true
	s.supported = verr == nil
	s.connected = true
	s.closed = false
	s.log.Debug("connected", "server", meta.Name, "version", meta.Version)
	return s.host, nil
}

// Info returns the server version once connected, the endpoint before that.
func (s *Service) Info() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serverVersion != "" {
		return s.serverVersion
	}
	return s.host
}

// GetProfile returns the login of the authenticated user.
func (s *Service) GetProfile(ctx context.Context) (string, error) {
	c, err := s.open("GetProfile")
	if err != nil {
		return "", err
	}

	var p Profile
	if err := c.Get(ctx, "me", nil, &p); err != nil {
		return "", wrap("GetProfile", err)
	}
	return p.Login, nil
}

// SetProfile switches to the API key and secret carried by p and returns the
// login they authenticate as.
func (s *Service) SetProfile(ctx context.Context, p services.Profile) (string, error) {
	if p.Username == "" || p.Password == "" {
		return "", services.NewError(Name, "SetProfile", fmt.Errorf("%w: username and password required", services.ErrInvalidProfile))
	}

	s.mu.Lock()
	s.username = p.Username
	s.password = p.Password
	s.client = s.newClient()
	s.mu.Unlock()

	return s.GetProfile(ctx)
}

// Close marks the service closed. Calling it again has no effect.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

// Connected reports whether Connect succeeded since the last Close.
func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// CheckServerVersion fetches the server version and verifies it falls
// within SupportedServers.
func (s *Service) CheckServerVersion(ctx context.Context) (semver.Version, error) {
	meta, err := s.meta(ctx)
	if err != nil {
		return semver.Version{}, wrap("CheckServerVersion", err)
	}

	v, err := checkVersion(meta.Version)
	if err != nil {
		return v, services.NewError(Name, "CheckServerVersion", err)
	}
	return v, nil
}

// ServerSupported reports whether the server seen by the last Connect falls
// within SupportedServers. known is false until Connect succeeds.
func (s *Service) ServerSupported() (supported, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supported, s.versionKnown
}

func checkVersion(raw string) (semver.Version, error) {
	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, fmt.Errorf("%w: parse version %q: %v", ErrUnsupportedServer, raw, err)
	}
	if !supportedRange(v) {
		return v, fmt.Errorf("%w: %s not in %s", ErrUnsupportedServer, v, SupportedServers)
	}
	return v, nil
}

// GetSolver looks up a released solver by key and version.
func (s *Service) GetSolver(ctx context.Context, key, version string) (*Solver, error) {
	c, err := s.open("GetSolver")
	if err != nil {
		return nil, err
	}
	if key == "" || version == "" {
		return nil, services.NewError(Name, "GetSolver", fmt.Errorf("%w: solver key and version required", services.ErrInvalidArgument))
	}

	var info SolverInfo
	endpoint := fmt.Sprintf("solvers/%s/releases/%s", url.PathEscape(key), url.PathEscape(version))
	if err := c.Get(ctx, endpoint, nil, &info); err != nil {
		return nil, wrap("GetSolver", err)
	}
	if info.ID == "" {
		info.ID = key
	}
	if info.Version == "" {
		info.Version = version
	}
	return &Solver{svc: s, info: info}, nil
}

func (s *Service) meta(ctx context.Context) (*Meta, error) {
	var m Meta
	if err := s.http().Get(ctx, "meta", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) http() *transport.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Service) open(op string) (*transport.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, services.NewError(Name, op, services.ErrClosed)
	}
	return s.client, nil
}

func wrap(op string, err error) error {
	var se *services.Error
	if errors.As(err, &se) {
		return err
	}
	return services.NewErrorWithCode(Name, op, err, transport.StatusCode(err))
}
