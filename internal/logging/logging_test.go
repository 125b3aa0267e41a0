package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nih-sparc/sparc-client-go/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "warn", JSON: true, Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info("dropped")
	log.Warn("kept", "service", "pennsieve")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "pennsieve", entry["service"])
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparcd.log")
	log, closer, err := New(Options{File: path, NoTerminal: true, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("service connected", "service", "metadata")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "service connected")
	require.Contains(t, string(data), "service=metadata")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	opts := FromConfig(config.LogConfig{Level: "debug", JSON: true, MaxSizeMB: 5, MaxBackups: 2, MaxAgeDays: 7})
	require.Equal(t, Options{Level: "debug", JSON: true, MaxSizeMB: 5, MaxBackups: 2, MaxAgeDays: 7}, opts)
}
