// Package services defines the lifecycle contract every SPARC service backend
// implements, along with the profile and error types shared between them.
package services

import (
	"context"

	"github.com/nih-sparc/sparc-client-go/internal/config"
)

// Service is the capability set the client facade relies on. Backends are
// built by a Factory and never connect implicitly unless asked to.
type Service interface {
	// Connect establishes or validates a session with the remote endpoint and
	// returns a session identifier. Calling it on a connected service is safe.
	Connect(ctx context.Context) (string, error)

	// Info returns the endpoint or version the service targets.
	// It never performs network I/O.
	Info() string

	// GetProfile returns the name of the credential profile in use.
	GetProfile(ctx context.Context) (string, error)

	// SetProfile switches credentials and returns the resulting profile name.
	SetProfile(ctx context.Context, profile Profile) (string, error)

	// Close releases any session state. It is safe to call more than once.
	Close() error
}

// Factory builds a service from the active profile section. When connect is
// true the factory also calls Connect before returning.
type Factory func(ctx context.Context, cfg config.Section, connect bool) (Service, error)

// Profile names a set of credentials understood by a backend. Backends use
// the fields that apply to them and reject the rest with ErrInvalidProfile.
type Profile struct {
	Name     string `json:"name"`
	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Empty reports whether no credential field is set.
func (p Profile) Empty() bool {
	return p == Profile{}
}
