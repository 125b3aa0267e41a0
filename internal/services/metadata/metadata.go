// Package metadata implements the SciCrunch Elasticsearch metadata service.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

const (
	// Name is the registry name of the metadata service.
	Name = "metadata"
	// DefaultHost is the SciCrunch Elasticsearch endpoint.
	DefaultHost = "https://scicrunch.org/api/1/elastic"
	// MatchAllQuery is sent when SearchDatasets receives an empty query.
	MatchAllQuery = `{"query": {"match_all": {}}}`

	searchPath       = "SPARC_Algolia_pr/_search"
	defaultListLimit = 10
	apiKeyEnv        = "SCICRUNCH_API_KEY"
)

var emptyResult = json.RawMessage(`{}`)

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger used by the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithTransport sets retry and timeout tuning for the HTTP client.
// Service, BaseURL and credentials are always filled in by the service.
func WithTransport(o transport.Options) Option {
	return func(s *Service) { s.tuning = o }
}

// Service queries SPARC dataset metadata.
type Service struct {
	mu          sync.RWMutex
	host        string
	apiKey      string
	profileName string
	connected   bool
	closed      bool

	client *transport.Client
	tuning transport.Options
	log    *slog.Logger
}

var _ services.Service = (*Service)(nil)

// Factory returns a services.Factory producing metadata services.
func Factory(opts ...Option) services.Factory {
	return func(ctx context.Context, cfg config.Section, connect bool) (services.Service, error) {
		return New(ctx, cfg, connect, opts...)
	}
}

// New creates a metadata service from the profile section. The API key is
// read from scicrunch_api_key, falling back to SCICRUNCH_API_KEY.
func New(ctx context.Context, cfg config.Section, connect bool, opts ...Option) (*Service, error) {
	s := &Service{
		host:        strings.TrimSuffix(cfg.GetOrDefault("scicrunch_host", DefaultHost), "/"),
		apiKey:      cfg.Get("scicrunch_api_key"),
		profileName: cfg.Get("pennsieve_profile_name"),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", Name)

	if s.apiKey == "" {
		s.apiKey = os.Getenv(apiKeyEnv)
	}
	if s.apiKey == "" {
		s.log.Warn("SciCrunch API key not found")
	}
	s.log.Info("initializing metadata service", "host", s.host, "profile", s.profileName)

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
	if opts.RetryStatuses == nil {
		opts.RetryStatuses = transport.SearchRetryStatuses
	}
	return transport.New(opts)
}

// Connect marks the service ready. Metadata calls are stateless REST requests,
// so no session is opened and the endpoint URL is returned.
func (s *Service) Connect(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	s.closed = false
	s.log.Info("metadata REST services available", "host", s.host)
	return s.host, nil
}

// Info returns the endpoint the service targets.
func (s *Service) Info() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// GetProfile returns the SciCrunch API key in use.
func (s *Service) GetProfile(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey, nil
}

// SetProfile switches to the API key carried by p.
func (s *Service) SetProfile(ctx context.Context, p services.Profile) (string, error) {
	if p.APIKey == "" {
		return "", services.NewError(Name, "SetProfile", fmt.Errorf("%w: api key required", services.ErrInvalidProfile))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = p.APIKey
	return s.apiKey, nil
}

// Close marks the service closed. Calling it again has no effect.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

// Connected reports whether Connect has been called since the last Close.
func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ListDatasets returns one page of dataset metadata. A non-positive limit
// selects the default page size.
func (s *Service) ListDatasets(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	key, err := s.requestKey("ListDatasets")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := url.Values{}
	query.Set("from", strconv.Itoa(offset))
	query.Set("size", strconv.Itoa(limit))
	query.Set("key", key)

	var raw []byte
	if err := s.client.Get(ctx, searchPath, query, &raw); err != nil {
		return s.result(nil, "ListDatasets", err)
	}
	return s.result(raw, "ListDatasets", nil)
}

// SearchDatasets runs an Elasticsearch query. query may be a JSON string, a
// []byte or json.RawMessage, or any value that marshals to JSON. An empty
// query matches every dataset.
func (s *Service) SearchDatasets(ctx context.Context, query any) (json.RawMessage, error) {
	key, err := s.requestKey("SearchDatasets")
	if err != nil {
		return nil, err
	}

	body, err := normalizeQuery(query)
	if err != nil {
		return nil, services.NewError(Name, "SearchDatasets", err)
	}

	params := url.Values{}
	params.Set("key", key)

	var raw []byte
	if err := s.client.Post(ctx, searchPath, params, body, &raw); err != nil {
		return s.result(nil, "SearchDatasets", err)
	}
	return s.result(raw, "SearchDatasets", nil)
}

func (s *Service) requestKey(op string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", services.NewError(Name, op, services.ErrClosed)
	}
	if s.apiKey == "" {
		return "", services.NewError(Name, op, fmt.Errorf("%w: scicrunch_api_key not set", services.ErrInvalidProfile))
	}
	return s.apiKey, nil
}

// result converts an unpublished resource into an empty document and wraps
// every other failure.
func (s *Service) result(raw []byte, op string, err error) (json.RawMessage, error) {
	if err == nil {
		if len(raw) == 0 {
			return emptyResult, nil
		}
		return json.RawMessage(raw), nil
	}
	if errors.Is(err, services.ErrGone) {
		return emptyResult, nil
	}
	return nil, services.NewErrorWithCode(Name, op, err, transport.StatusCode(err))
}

func normalizeQuery(query any) (json.RawMessage, error) {
	var raw []byte
	switch q := query.(type) {
	case nil:
	case string:
		raw = []byte(q)
	case []byte:
		raw = q
	case json.RawMessage:
		raw = q
	default:
		b, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", services.ErrInvalidArgument, err)
		}
		raw = b
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(MatchAllQuery), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: query body is not valid JSON", services.ErrInvalidArgument)
	}
	return json.RawMessage(raw), nil
}
