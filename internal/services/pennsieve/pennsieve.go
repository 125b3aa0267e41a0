// Package pennsieve implements the Pennsieve discover service: published
// dataset listings, file search and file download.
package pennsieve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

const (
	// Name is the registry name of the Pennsieve service.
	Name = "pennsieve"
	// DefaultHost is the Pennsieve API endpoint.
	DefaultHost = "https://api.pennsieve.io"
	// DefaultProfile is used when the section names no profile.
	DefaultProfile = "default"

	defaultLimit = 10
)

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

// Service talks to the Pennsieve discover API.
type Service struct {
	mu        sync.RWMutex
	host      string
	profile   string
	apiKey    string
	connected bool
	closed    bool

	client *transport.Client
	tuning transport.Options
	log    *slog.Logger
}

var _ services.Service = (*Service)(nil)

// Factory returns a services.Factory producing Pennsieve services.
func Factory(opts ...Option) services.Factory {
	return func(ctx context.Context, cfg config.Section, connect bool) (services.Service, error) {
		return New(ctx, cfg, connect, opts...)
	}
}

// New creates a Pennsieve service from the profile section.
func New(ctx context.Context, cfg config.Section, connect bool, opts ...Option) (*Service, error) {
	s := &Service{
		host:    strings.TrimSuffix(cfg.GetOrDefault("pennsieve_host", DefaultHost), "/"),
		profile: cfg.GetOrDefault("pennsieve_profile_name", DefaultProfile),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", Name)
	s.log.Info("initializing pennsieve", "host", s.host, "profile", s.profile)

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
	opts.BaseURL = s.host
	opts.Logger = s.log
	if s.apiKey != "" {
		headers := make(map[string]string, len(opts.Headers)+1)
		for k, v := range opts.Headers {
			headers[k] = v
		}
		headers["Authorization"] = "Bearer " + s.apiKey
		opts.Headers = headers
	}
	return transport.New(opts)
}

// Connect checks the discover API is reachable and returns the endpoint.
func (s *Service) Connect(ctx context.Context) (string, error) {
	s.log.Info("connecting to pennsieve", "profile", s.Profile())

	query := url.Values{"limit": {"1"}}
	var page DatasetPage
	if err := s.http().Get(ctx, "discover/datasets", query, &page); err != nil {
		return "", wrap("Connect", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.closed = false
	return s.host, nil
}

// Info returns the endpoint the service targets.
func (s *Service) Info() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// GetProfile returns the active profile name.
func (s *Service) GetProfile(ctx context.Context) (string, error) {
	return s.Profile(), nil
}

// Profile returns the active profile name without a context.
func (s *Service) Profile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile switches to the profile named by p. An API key, when present,
// is sent as a bearer token on subsequent requests.
func (s *Service) SetProfile(ctx context.Context, p services.Profile) (string, error) {
	if p.Name == "" {
		return "", services.NewError(Name, "SetProfile", fmt.Errorf("%w: profile name required", services.ErrInvalidProfile))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p.Name
	s.apiKey = p.APIKey
	s.client = s.newClient()
	return s.profile, nil
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

// ListDatasets returns one page of published datasets.
func (s *Service) ListDatasets(ctx context.Context, q DatasetQuery) (*DatasetPage, error) {
	c, err := s.open("ListDatasets")
	if err != nil {
		return nil, err
	}

	var page DatasetPage
	if err := c.Get(ctx, "discover/datasets", q.values(), &page); err != nil {
		return nil, wrap("ListDatasets", err)
	}
	return &page, nil
}

// ListFiles searches published files.
func (s *Service) ListFiles(ctx context.Context, q FileQuery) (*FilePage, error) {
	c, err := s.open("ListFiles")
	if err != nil {
		return nil, err
	}

	var page FilePage
	if err := c.Get(ctx, "discover/search/files", q.values(), &page); err != nil {
		return nil, wrap("ListFiles", err)
	}
	return &page, nil
}

// Manifest resolves download URLs for paths inside one dataset version.
func (s *Service) Manifest(ctx context.Context, datasetID, version int, paths []string) (*Manifest, error) {
	c, err := s.open("Manifest")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, services.NewError(Name, "Manifest", fmt.Errorf("%w: no paths", services.ErrInvalidArgument))
	}

	endpoint := fmt.Sprintf("discover/datasets/%d/versions/%d/files/download-manifest", datasetID, version)
	var m Manifest
	if err := c.Post(ctx, endpoint, nil, manifestRequest{Paths: paths}, &m); err != nil {
		return nil, wrap("Manifest", err)
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
	return services.NewErrorWithCode(Name, op, err, transport.StatusCode(err))
}

// DatasetQuery filters a dataset listing. Zero values are omitted.
type DatasetQuery struct {
	Limit          int
	Offset         int
	IDs            []int
	Tags           []string
	OrderBy        string
	OrderDirection string
}

func (q DatasetQuery) values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(orDefault(q.Limit, defaultLimit)))
	v.Set("offset", strconv.Itoa(max(q.Offset, 0)))
	for _, id := range q.IDs {
		v.Add("ids", strconv.Itoa(id))
	}
	for _, tag := range q.Tags {
		v.Add("tags", tag)
	}
	if q.OrderBy != "" {
		v.Set("orderBy", q.OrderBy)
	}
	if q.OrderDirection != "" {
		v.Set("orderDirection", q.OrderDirection)
	}
	return v
}

// FileQuery filters a file search. Zero values are omitted.
type FileQuery struct {
	Limit          int
	Offset         int
	FileType       string
	Query          string
	Organization   string
	OrganizationID int
	DatasetID      int
}

func (q FileQuery) values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(orDefault(q.Limit, defaultLimit)))
	v.Set("offset", strconv.Itoa(max(q.Offset, 0)))
	if q.FileType != "" {
		v.Set("fileType", q.FileType)
	}
	if q.Query != "" {
		v.Set("query", q.Query)
	}
	if q.Organization != "" {
		v.Set("organization", q.Organization)
	}
	if q.OrganizationID != 0 {
		v.Set("organizationId", strconv.Itoa(q.OrganizationID))
	}
	if q.DatasetID != 0 {
		v.Set("datasetId", strconv.Itoa(q.DatasetID))
	}
	return v
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
