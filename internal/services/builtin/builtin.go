// Package builtin assembles the catalog of services shipped with the client.
package builtin

import (
	"log/slog"

	"github.com/nih-sparc/sparc-client-go/internal/registry"
	"github.com/nih-sparc/sparc-client-go/internal/services/metadata"
	"github.com/nih-sparc/sparc-client-go/internal/services/o2sparc"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

// Options tunes every built-in service the same way.
type Options struct {
	Logger    *slog.Logger
	Transport transport.Options
}

// Catalog returns a fresh catalog holding the metadata, o2sparc and pennsieve
// services.
func Catalog(opts Options) *registry.Catalog {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := registry.NewCatalog()
	c.MustRegister(metadata.Name, metadata.Factory(
		metadata.WithLogger(log),
		metadata.WithTransport(opts.Transport),
	))
	c.MustRegister(o2sparc.Name, o2sparc.Factory(
		o2sparc.WithLogger(log),
		o2sparc.WithTransport(opts.Transport),
	))
	c.MustRegister(pennsieve.Name, pennsieve.Factory(
		pennsieve.WithLogger(log),
		pennsieve.WithTransport(opts.Transport),
	))
	return c
}
