package api

import (
	"log/slog"

	"github.com/nih-sparc/sparc-client-go/internal/database"
	"github.com/nih-sparc/sparc-client-go/internal/registry"
	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/metadata"
	"github.com/nih-sparc/sparc-client-go/internal/services/o2sparc"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
)

// Facade is the part of the client the gateway serves.
type Facade interface {
	Alive() bool
	Profile() string
	Registrations() []registry.Registration
	Service(name string) (services.Service, error)
	Metadata() (*metadata.Service, error)
	Pennsieve() (*pennsieve.Service, error)
	O2Sparc() (*o2sparc.Service, error)
}

// Gateway provides HTTP handlers over a client facade
type Gateway struct {
	client  Facade
	jobs    *database.Jobs
	limiter *Limiter
	log     *slog.Logger
}

// NewGateway creates a gateway. jobs may be nil, which disables the job routes.
func NewGateway(client Facade, jobs *database.Jobs, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		client: client,
		jobs:   jobs,
		log:    log.With("component", "api"),
	}
}

// UseLimiter bounds concurrent /api/v1 requests and exposes /api/v1/stats.
func (g *Gateway) UseLimiter(l *Limiter) *Gateway {
	g.limiter = l
	return g
}
