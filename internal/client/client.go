// Package client provides the SPARC client facade: it reads the profile
// store, builds every registered service for the active profile and exposes
// them by name.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/registry"
	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/builtin"
	"github.com/nih-sparc/sparc-client-go/internal/services/metadata"
	"github.com/nih-sparc/sparc-client-go/internal/services/o2sparc"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

// ErrConfigurationMissing is returned when no configuration path is given.
var ErrConfigurationMissing = errors.New("configuration file not given")

// State is the connection state of the facade.
type State int

const (
	// Unconnected means services are built but Connect has not succeeded.
	Unconnected State = iota
	// Connected means every service connected successfully.
	Connected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	default:
		return "unconnected"
	}
}

type options struct {
	connect     bool
	catalog     *registry.Catalog
	concurrency int
	logger      *slog.Logger
	transport   transport.Options
}

// Option configures New.
type Option func(*options)

// WithConnect controls whether New connects every service. Default true.
func WithConnect(connect bool) Option {
	return func(o *options) { o.connect = connect }
}

// WithCatalog replaces the built-in service catalog.
func WithCatalog(c *registry.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithConnectConcurrency connects up to n services at once. The default of 1
// connects them one by one in registration order.
func WithConnectConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithLogger sets the logger for the facade and the built-in services.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransport tunes the HTTP client of the built-in services.
func WithTransport(t transport.Options) Option {
	return func(o *options) { o.transport = t }
}

// Client is the facade over every registered service.
type Client struct {
	mu          sync.RWMutex
	profile     string
	section     config.Section
	catalog     *registry.Catalog
	regs        []registry.Registration
	state       State
	concurrency int
	log         *slog.Logger
}

// New reads configFile, resolves the active profile and builds one service
// per catalog entry. Services are constructed without connecting; when
// connecting is enabled Connect runs once everything is built.
func New(ctx context.Context, configFile string, opts ...Option) (*Client, error) {
	if configFile == "" {
		return nil, ErrConfigurationMissing
	}

	o := options{connect: true, concurrency: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.catalog == nil {
		o.catalog = builtin.Catalog(builtin.Options{Logger: o.logger, Transport: o.transport})
	}

	store, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	profile, section, err := store.ActiveProfile()
	if err != nil {
		return nil, err
	}

	log := o.logger.With("component", "client")
	log.Debug("profile selected", "profile", profile, "config", store.Path())

	regs, err := o.catalog.Build(ctx, section, false)
	if err != nil {
		return nil, err
	}

	c := &Client{
		profile:     profile,
		section:     section,
		catalog:     o.catalog,
		regs:        regs,
		concurrency: o.concurrency,
		log:         log,
	}

	if o.connect {
		if err := c.Connect(ctx); err != nil {
			c.closeAll()
			return nil, err
		}
	}
	return c, nil
}

// Connect connects every registered service. Errors from a service are
// returned unchanged. No new services are discovered.
func (c *Client) Connect(ctx context.Context) error {
	regs := c.Registrations()

	if c.concurrency <= 1 {
		for _, r := range regs {
			if _, err := r.Service.Connect(ctx); err != nil {
				return err
			}
			c.log.Debug("service connected", "service", r.Name)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for _, r := range regs {
			r := r
			g.Go(func() error {
				_, err := r.Service.Connect(gctx)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.state = Connected
	c.mu.Unlock()
	return nil
}

// Alive reports that the facade is usable.
func (c *Client) Alive() bool {
	return true
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Profile returns the name of the active profile.
func (c *Client) Profile() string {
	return c.profile
}

// Settings returns a copy of the active profile section.
func (c *Client) Settings() config.Section {
	return c.section.Clone()
}

// ModuleNames returns the registered service names in registration order.
func (c *Client) ModuleNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.regs))
	for i, r := range c.regs {
		names[i] = r.Name
	}
	return names
}

// Registrations returns a copy of the registered services.
func (c *Client) Registrations() []registry.Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]registry.Registration(nil), c.regs...)
}

// Service returns the service registered under name.
func (c *Client) Service(name string) (services.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.regs {
		if r.Name == name {
			return r.Service, nil
		}
	}
	return nil, &registry.Error{Service: name, Op: "lookup", Err: registry.ErrUnknownService}
}

// Metadata returns the registered metadata service.
func (c *Client) Metadata() (*metadata.Service, error) {
	return serviceAs[*metadata.Service](c, metadata.Name)
}

// Pennsieve returns the registered Pennsieve service.
func (c *Client) Pennsieve() (*pennsieve.Service, error) {
	return serviceAs[*pennsieve.Service](c, pennsieve.Name)
}

// O2Sparc returns the registered o2sparc service.
func (c *Client) O2Sparc() (*o2sparc.Service, error) {
	return serviceAs[*o2sparc.Service](c, o2sparc.Name)
}

func serviceAs[T services.Service](c *Client, name string) (T, error) {
	var zero T
	svc, err := c.Service(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %T, not %T", name, svc, zero)
	}
	return typed, nil
}

// AddModule builds the catalog entry registered under name and adds it to the
// facade. Existing registrations are left untouched when it fails.
func (c *Client) AddModule(ctx context.Context, name string, connect bool) error {
	if _, err := c.Service(name); err == nil {
		return &registry.Error{Service: name, Op: "add", Err: registry.ErrDuplicateService}
	}

	reg, err := c.catalog.Instantiate(ctx, name, c.section, false)
	if err != nil {
		return err
	}
	if connect {
		if _, err := reg.Service.Connect(ctx); err != nil {
			_ = reg.Service.Close()
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.regs {
		if r.Name == name {
			_ = reg.Service.Close()
			return &registry.Error{Service: name, Op: "add", Err: registry.ErrDuplicateService}
		}
	}
	c.regs = append(c.regs, reg)
	c.log.Info("module added", "service", name, "connected", connect)
	return nil
}

func (c *Client) closeAll() {
	for _, r := range c.Registrations() {
		if err := r.Service.Close(); err != nil {
			c.log.Warn("close failed", "service", r.Name, "error", err)
		}
	}
}
