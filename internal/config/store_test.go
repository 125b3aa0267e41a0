package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadINI(t *testing.T) {
	path := writeFile(t, "config.ini", `
[DEFAULT]
pennsieve_host = https://api.pennsieve.io

[global]
default_profile = ci

[ci]
Pennsieve_Profile_Name = ci
scicrunch_api_key = abc
`)

	st, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, st.Path())
	require.Equal(t, []string{"ci", "global"}, st.Sections())

	name, sec, err := st.ActiveProfile()
	require.NoError(t, err)
	require.Equal(t, "ci", name)
	require.Equal(t, "ci", sec.Get("pennsieve_profile_name"))
	require.Equal(t, "abc", sec.Get("SCICRUNCH_API_KEY"))
	require.Equal(t, "https://api.pennsieve.io", sec.Get("pennsieve_host"))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
o2sparc_host = "https://api.osparc.io"

[global]
default_profile = "prod"

[prod]
pennsieve_profile_name = "prod"
retries = 3
`)

	st, err := Load(path)
	require.NoError(t, err)

	name, sec, err := st.ActiveProfile()
	require.NoError(t, err)
	require.Equal(t, "prod", name)
	require.Equal(t, "3", sec.Get("retries"))
	require.Equal(t, "https://api.osparc.io", sec.Get("o2sparc_host"))
}

func TestLoadMissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	require.NoError(t, err)
	require.Empty(t, st.Sections())

	_, _, err = st.ActiveProfile()
	require.ErrorIs(t, err, ErrProfileSectionMissing)
}

func TestActiveProfileErrors(t *testing.T) {
	tests := []struct {
		name     string
		sections map[string]Section
	}{
		{name: "no global", sections: map[string]Section{"ci": {}}},
		{name: "no pointer", sections: map[string]Section{"global": {}}},
		{name: "dangling pointer", sections: map[string]Section{"global": {"default_profile": "prod"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewStore(tt.sections).ActiveProfile()
			require.ErrorIs(t, err, ErrProfileSectionMissing)
		})
	}
}

func TestActiveProfileReturnsCopy(t *testing.T) {
	st := NewStore(map[string]Section{
		"global": {"Default_Profile": "ci"},
		"ci":     {"key": "value"},
	})

	_, sec, err := st.ActiveProfile()
	require.NoError(t, err)
	sec["key"] = "changed"

	_, again, err := st.ActiveProfile()
	require.NoError(t, err)
	require.Equal(t, "value", again.Get("key"))
}

func TestSectionHelpers(t *testing.T) {
	sec := Section{"host": "https://example.org", "empty": ""}

	v, ok := sec.Lookup("HOST")
	require.True(t, ok)
	require.Equal(t, "https://example.org", v)
	require.Equal(t, "fallback", sec.GetOrDefault("empty", "fallback"))

	t.Setenv("SPARC_TEST_HOST", "https://env.example.org")
	require.Equal(t, "https://env.example.org", sec.EnvOr("SPARC_TEST_HOST", "host"))
	require.Equal(t, "https://example.org", sec.EnvOr("SPARC_TEST_UNSET", "host"))
}

func TestLoadDaemonDefaults(t *testing.T) {
	cfg, err := LoadDaemon(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultBind, cfg.Server.Bind)
	require.True(t, cfg.Client.Connect)
	require.Equal(t, DefaultConfigFile, cfg.Client.ConfigFile)
	require.Equal(t, 8, cfg.Server.MaxConcurrentRequests)
	require.Equal(t, "30s", cfg.Server.QueueTimeout.String())
}

func TestDaemonRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sparcd.toml")
	require.NoError(t, WriteDefaultDaemon(path))

	cfg, err := LoadDaemon(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Server.AuthToken)
	require.Equal(t, "10s", cfg.Server.ShutdownTimeout.String())

	// Existing files are left untouched.
	token := cfg.Server.AuthToken
	require.NoError(t, WriteDefaultDaemon(path))
	cfg, err = LoadDaemon(path)
	require.NoError(t, err)
	require.Equal(t, token, cfg.Server.AuthToken)
}
