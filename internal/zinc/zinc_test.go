package zinc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nih-sparc/sparc-client-go/internal/config"
	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
)

// fakeSource serves files from an in-memory map keyed by file name.
type fakeSource struct {
	contents map[string]string
	queries  []pennsieve.FileQuery
}

func (f *fakeSource) ListFiles(_ context.Context, q pennsieve.FileQuery) (*pennsieve.FilePage, error) {
	f.queries = append(f.queries, q)
	page := &pennsieve.FilePage{}
	for name := range f.contents {
		if q.Query == "" || q.Query == name {
			page.Files = append(page.Files, pennsieve.File{Name: name, DatasetID: q.DatasetID})
		}
	}
	return page, nil
}

func (f *fakeSource) DownloadFiles(_ context.Context, files []pennsieve.File, dir string) ([]string, error) {
	var paths []string
	for _, file := range files {
		p := filepath.Join(dir, file.Name)
		if err := os.WriteFile(p, []byte(f.contents[file.Name]), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

type fakeExporter struct {
	scaffold     json.RawMessage
	segmentation string
	output       string
}

func (e *fakeExporter) ExportScaffold(_ context.Context, pkg json.RawMessage, output string) error {
	e.scaffold, e.output = pkg, output
	return nil
}

func (e *fakeExporter) ExportSegmentation(_ context.Context, seg, output string) error {
	e.segmentation, e.output = seg, output
	return nil
}

func (e *fakeExporter) Analyse(_ context.Context, input, organ, species string) (string, error) {
	return "The data file " + input + " is perfectly suited for mapping to the given organ.", nil
}

func newHelper(t *testing.T, contents map[string]string) (*Helper, *fakeSource, *fakeExporter) {
	t.Helper()
	src := &fakeSource{contents: contents}
	exp := &fakeExporter{}
	h, err := New(src, exp, WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	return h, src, exp
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &fakeExporter{})
	require.Error(t, err)
}

func TestScaffoldVTK(t *testing.T) {
	h, src, exp := newHelper(t, map[string]string{
		ScaffoldSettingsFile: `{"scaffold_settings": {"scaffoldPackage": {"scaffoldType": "3D Stomach 1"}}}`,
	})

	require.NoError(t, h.ScaffoldVTK(context.Background(), 292, "out.vtk"))
	require.JSONEq(t, `{"scaffoldType": "3D Stomach 1"}`, string(exp.scaffold))
	require.Equal(t, "out.vtk", exp.output)
	require.Equal(t, pennsieve.FileQuery{Limit: 1, FileType: "JSON", Query: ScaffoldSettingsFile, DatasetID: 292}, src.queries[0])
}

func TestScaffoldVTKErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents map[string]string
		want     error
	}{
		{name: "no settings file", contents: map[string]string{}, want: ErrNoFiles},
		{name: "missing package", contents: map[string]string{ScaffoldSettingsFile: `{"scaffold_settings": {}}`}, want: ErrInvalidScaffoldSettings},
		{name: "not json", contents: map[string]string{ScaffoldSettingsFile: `{"scaffold`}, want: ErrInvalidScaffoldSettings},
		{name: "wrong document", contents: map[string]string{ScaffoldSettingsFile: `[]`}, want: ErrInvalidScaffoldSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, exp := newHelper(t, tt.contents)
			err := h.ScaffoldVTK(context.Background(), 77, "out.vtk")
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, exp.output)
		})
	}
}

func TestMBFVTK(t *testing.T) {
	h, _, exp := newHelper(t, map[string]string{
		"10991.xml": `<mbf version="4.0"><contour name="Stomach"/></mbf>`,
		"15_1.xml":  `<mbf><contour></mbf>`,
	})
	ctx := context.Background()

	require.NoError(t, h.MBFVTK(ctx, 107, "10991.xml", "mbf.vtk"))
	require.Equal(t, "10991.xml", filepath.Base(exp.segmentation))
	require.Equal(t, "mbf.vtk", exp.output)

	err := h.MBFVTK(ctx, 287, "15_1.xml", "bad.vtk")
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestAnalyse(t *testing.T) {
	h, _, _ := newHelper(t, nil)
	dir := t.TempDir()

	good := filepath.Join(dir, "3Dscaffold-CGRP-Mice-Dorsal-2.xml")
	require.NoError(t, os.WriteFile(good, []byte(`<mbf><contour/></mbf>`), 0o644))
	msg, err := h.Analyse(context.Background(), good, "stomach", "Mice")
	require.NoError(t, err)
	require.Contains(t, msg, "perfectly suited")

	_, err = h.Analyse(context.Background(), filepath.Join(dir, "data.exf"), "stomach", "Mice")
	require.ErrorIs(t, err, ErrInvalidInput)

	bad := filepath.Join(dir, "broken.xml")
	require.NoError(t, os.WriteFile(bad, []byte(`<mbf><contour>`), 0o644))
	_, err = h.Analyse(context.Background(), bad, "stomach", "Mice")
	require.ErrorIs(t, err, ErrMalformedInput)

	empty := filepath.Join(dir, "empty.xml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = h.Analyse(context.Background(), empty, "stomach", "Mice")
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestCommandExporter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	_, err := NewCommandExporter(config.Section{})
	require.True(t, errors.Is(err, ErrExporterNotConfigured))

	exp, err := NewCommandExporter(config.Section{"zinc_export_command": `sh -c`})
	require.NoError(t, err)
	exp.Command = append(exp.Command, `echo "$0 $1 $2 $3"`)

	msg, err := exp.Analyse(context.Background(), "in.xml", "stomach", "Mice")
	require.NoError(t, err)
	require.Equal(t, "analyse in.xml stomach Mice", msg)

	version, err := (&CommandExporter{Command: []string{"sh", "-c", `printf 'zinc 4.1\nextra\n'`}}).Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "zinc 4.1", version)

	_, err = (&CommandExporter{Command: []string{"no-such-zinc-binary"}}).Version(context.Background())
	require.ErrorIs(t, err, exec.ErrNotFound)

	failing := &CommandExporter{Command: []string{"sh", "-c", `echo "no region" >&2; exit 3`}}
	err = failing.ExportSegmentation(context.Background(), "in.xml", "out.vtk")
	require.EqualError(t, err, "zinc segmentation: no region")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())

	silent := &CommandExporter{Command: []string{"sh", "-c", "exit 4"}}
	err = silent.ExportSegmentation(context.Background(), "in.xml", "out.vtk")
	require.EqualError(t, err, "zinc segmentation: exit status 4")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&CommandExporter{Command: []string{"sh", "-c", "sleep 5"}}).Analyse(ctx, "in.xml", "stomach", "Mice")
	require.ErrorIs(t, err, context.Canceled)

	out := filepath.Join(t.TempDir(), "copy.json")
	copier := &CommandExporter{Command: []string{"sh", "-c", `cp "$1" "$2"`}}
	require.NoError(t, copier.ExportScaffold(context.Background(), json.RawMessage(`{"a":1}`), out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(data))
}
