package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services/metadata"
	"github.com/nih-sparc/sparc-client-go/internal/services/o2sparc"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
)

func TestCatalogNames(t *testing.T) {
	c := Catalog(Options{})
	require.Equal(t, []string{"metadata", "o2sparc", "pennsieve"}, c.Names())
}

func TestCatalogIsFresh(t *testing.T) {
	a := Catalog(Options{})
	b := Catalog(Options{})
	require.NotSame(t, a, b)
}

func TestCatalogBuildsWithoutConnecting(t *testing.T) {
	regs, err := Catalog(Options{}).Build(context.Background(), config.Section{
		"scicrunch_api_key":      "key",
		"pennsieve_profile_name": "ci",
		"o2sparc_host":           "http://o2sparc.invalid",
		"pennsieve_host":         "http://pennsieve.invalid",
	}, false)
	require.NoError(t, err)
	require.Len(t, regs, 3)

	require.IsType(t, &metadata.Service{}, regs[0].Service)
	require.IsType(t, &o2sparc.Service{}, regs[1].Service)
	require.IsType(t, &pennsieve.Service{}, regs[2].Service)
	require.Equal(t, "http://pennsieve.invalid", regs[2].Service.Info())
}
