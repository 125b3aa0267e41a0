// Package registry maps service names to the factories that build them.
//
// A Catalog replaces runtime discovery: every backend is registered by name
// explicitly, and enumeration always follows lexical name order so the facade
// sees the same services in the same order on every run.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services"
)

var (
	// ErrDuplicateService indicates a name was registered twice.
	ErrDuplicateService = errors.New("service already registered")
	// ErrUnknownService indicates no factory is registered under a name.
	ErrUnknownService = errors.New("unknown service")
	// ErrInvalidRegistration indicates an empty name or nil factory.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Error reports which service and step of the registry failed.
type Error struct {
	Service string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry %s %q: %v", e.Op, e.Service, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Registration pairs a constructed service with the name it was built under.
type Registration struct {
	Name    string
	Service services.Service
}

// Catalog holds the name to factory mapping. The zero value is not usable,
// create one with NewCatalog.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]services.Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]services.Factory)}
}

// Register adds a factory under name.
func (c *Catalog) Register(name string, factory services.Factory) error {
	if name == "" || factory == nil {
		return &Error{Service: name, Op: "register", Err: ErrInvalidRegistration}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return &Error{Service: name, Op: "register", Err: ErrDuplicateService}
	}
	c.factories[name] = factory
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// catalogs assembled from constants at startup.
func (c *Catalog) MustRegister(name string, factory services.Factory) {
	if err := c.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names returns the registered names in lexical order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered factories.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.factories)
}

// Lookup returns the factory registered under name.
func (c *Catalog) Lookup(name string) (services.Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	factory, ok := c.factories[name]
	if !ok {
		return nil, &Error{Service: name, Op: "lookup", Err: ErrUnknownService}
	}
	return factory, nil
}

// Instantiate builds the service registered under name. Each factory gets its
// own copy of cfg.
func (c *Catalog) Instantiate(ctx context.Context, name string, cfg config.Section, connect bool) (Registration, error) {
	factory, err := c.Lookup(name)
	if err != nil {
		return Registration{}, err
	}

	svc, err := factory(ctx, cfg.Clone(), connect)
	if err != nil {
		return Registration{}, &Error{Service: name, Op: "construct", Err: err}
	}
	if svc == nil {
		return Registration{}, &Error{Service: name, Op: "construct", Err: services.ErrNotImplemented}
	}
	return Registration{Name: name, Service: svc}, nil
}

// Build instantiates every registered service in lexical order without
// connecting, then connects each one in the same order when connect is true.
// On failure the services built so far are closed and no registrations are
// returned.
func (c *Catalog) Build(ctx context.Context, cfg config.Section, connect bool) ([]Registration, error) {
	names := c.Names()
	regs := make([]Registration, 0, len(names))

	fail := func(err error) ([]Registration, error) {
		for _, r := range regs {
			_ = r.Service.Close()
		}
		return nil, err
	}

	for _, name := range names {
		reg, err := c.Instantiate(ctx, name, cfg, false)
		if err != nil {
			return fail(err)
		}
		regs = append(regs, reg)
	}

	if connect {
		for _, r := range regs {
			if _, err := r.Service.Connect(ctx); err != nil {
				return fail(&Error{Service: r.Name, Op: "connect", Err: err})
			}
		}
	}
	return regs, nil
}
