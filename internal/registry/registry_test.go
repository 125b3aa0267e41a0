package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services"
)

type stubService struct {
	name       string
	cfg        config.Section
	closed     int
	connectErr error
	connects   *[]string
}

var _ services.Service = (*stubService)(nil)

func (s *stubService) Connect(context.Context) (string, error) {
	if s.connects != nil {
		*s.connects = append(*s.connects, s.name)
	}
	return s.name, s.connectErr
}

func (s *stubService) Info() string { return s.name }
func (s *stubService) GetProfile(context.Context) (string, error) {
	return s.cfg.Get("profile"), nil
}
func (s *stubService) SetProfile(_ context.Context, p services.Profile) (string, error) {
	return p.Name, nil
}
func (s *stubService) Close() error { s.closed++; return nil }

func stubFactory(name string) services.Factory {
	return func(_ context.Context, cfg config.Section, _ bool) (services.Service, error) {
		return &stubService{name: name, cfg: cfg}, nil
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register("metadata", stubFactory("metadata")))

	err := c.Register("metadata", stubFactory("other"))
	require.ErrorIs(t, err, ErrDuplicateService)
	require.Equal(t, 1, c.Len())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	c := NewCatalog()
	require.ErrorIs(t, c.Register("", stubFactory("x")), ErrInvalidRegistration)
	require.ErrorIs(t, c.Register("x", nil), ErrInvalidRegistration)
	require.Panics(t, func() { c.MustRegister("", nil) })
}

func TestNamesAreLexical(t *testing.T) {
	c := NewCatalog()
	for _, name := range []string{"pennsieve", "o2sparc", "metadata"} {
		c.MustRegister(name, stubFactory(name))
	}
	require.Equal(t, []string{"metadata", "o2sparc", "pennsieve"}, c.Names())
}

func TestLookupUnknown(t *testing.T) {
	_, err := NewCatalog().Lookup("nope")
	require.ErrorIs(t, err, ErrUnknownService)

	var regErr *Error
	require.True(t, errors.As(err, &regErr))
	require.Equal(t, "nope", regErr.Service)
}

func TestInstantiateNilServiceIsNotImplemented(t *testing.T) {
	c := NewCatalog()
	c.MustRegister("abstract", func(context.Context, config.Section, bool) (services.Service, error) {
		return nil, nil
	})

	_, err := c.Instantiate(context.Background(), "abstract", config.Section{}, false)
	require.ErrorIs(t, err, services.ErrNotImplemented)
}

func TestInstantiateIsolatesConfig(t *testing.T) {
	c := NewCatalog()
	c.MustRegister("mutator", func(_ context.Context, cfg config.Section, _ bool) (services.Service, error) {
		cfg["profile"] = "changed"
		return &stubService{cfg: cfg}, nil
	})

	cfg := config.Section{"profile": "ci"}
	reg, err := c.Instantiate(context.Background(), "mutator", cfg, false)
	require.NoError(t, err)
	require.Equal(t, "mutator", reg.Name)
	require.Equal(t, "ci", cfg.Get("profile"))
}

func TestBuildInOrder(t *testing.T) {
	c := NewCatalog()
	c.MustRegister("b", stubFactory("b"))
	c.MustRegister("a", stubFactory("a"))

	regs, err := c.Build(context.Background(), config.Section{"profile": "ci"}, false)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, "a", regs[0].Name)
	require.Equal(t, "b", regs[1].Name)

	p, err := regs[0].Service.GetProfile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ci", p)
}

func TestBuildClosesOnFailure(t *testing.T) {
	built := &stubService{name: "a"}
	boom := errors.New("boom")

	c := NewCatalog()
	c.MustRegister("a", func(context.Context, config.Section, bool) (services.Service, error) {
		return built, nil
	})
	c.MustRegister("b", func(context.Context, config.Section, bool) (services.Service, error) {
		return nil, boom
	})

	_, err := c.Build(context.Background(), config.Section{}, false)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, built.closed)
}

func TestBuildConnectsAfterConstruction(t *testing.T) {
	var events []string
	factory := func(name string) services.Factory {
		return func(_ context.Context, _ config.Section, connect bool) (services.Service, error) {
			require.False(t, connect)
			events = append(events, "construct "+name)
			return &stubService{name: name, connects: &events}, nil
		}
	}

	c := NewCatalog()
	c.MustRegister("pennsieve", factory("pennsieve"))
	c.MustRegister("metadata", factory("metadata"))

	_, err := c.Build(context.Background(), config.Section{}, true)
	require.NoError(t, err)
	require.Equal(t, []string{"construct metadata", "construct pennsieve", "metadata", "pennsieve"}, events)
}

func TestBuildConnectFailure(t *testing.T) {
	refused := errors.New("refused")
	first := &stubService{name: "a"}

	c := NewCatalog()
	c.MustRegister("a", func(context.Context, config.Section, bool) (services.Service, error) {
		return first, nil
	})
	c.MustRegister("b", func(context.Context, config.Section, bool) (services.Service, error) {
		return &stubService{name: "b", connectErr: refused}, nil
	})

	regs, err := c.Build(context.Background(), config.Section{}, true)
	require.ErrorIs(t, err, refused)
	require.Nil(t, regs)
	require.Equal(t, 1, first.closed)

	var regErr *Error
	require.True(t, errors.As(err, &regErr))
	require.Equal(t, "connect", regErr.Op)
	require.Equal(t, "b", regErr.Service)
}
