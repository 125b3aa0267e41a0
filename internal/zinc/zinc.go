// Package zinc turns published scaffold and segmentation files into VTK
// geometry. Files are fetched through the Pennsieve service; the geometry
// work itself is delegated to an Exporter.
package zinc

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
)

// ScaffoldSettingsFile is the file name scaffold datasets publish their settings under.
const ScaffoldSettingsFile = "Scaffold_Creator-settings.json"

var (
	// ErrNoFiles indicates a file search matched nothing.
	ErrNoFiles = errors.New("no matching files")
	// ErrInvalidScaffoldSettings indicates the settings file lacks scaffold_settings.scaffoldPackage.
	ErrInvalidScaffoldSettings = errors.New("invalid scaffold settings")
	// ErrInvalidInput indicates an input file of the wrong kind.
	ErrInvalidInput = errors.New("invalid input file")
	// ErrMalformedInput indicates an input file that does not parse.
	ErrMalformedInput = errors.New("malformed input file")
)

const scaffoldSettingsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["scaffold_settings"],
	"properties": {
		"scaffold_settings": {
			"type": "object",
			"required": ["scaffoldPackage"],
			"properties": {
				"scaffoldPackage": {"type": ["object", "string"]}
			}
		}
	}
}`

// FileSource finds and downloads published files.
type FileSource interface {
	ListFiles(ctx context.Context, q pennsieve.FileQuery) (*pennsieve.FilePage, error)
	DownloadFiles(ctx context.Context, files []pennsieve.File, dir string) ([]string, error)
}

var _ FileSource = (*pennsieve.Service)(nil)

// Exporter performs the geometry work.
type Exporter interface {
	// ExportScaffold generates a scaffold from its package description and
	// writes it to output as VTK.
	ExportScaffold(ctx context.Context, scaffoldPackage json.RawMessage, output string) error
	// ExportSegmentation converts an MBF XML segmentation file to VTK.
	ExportSegmentation(ctx context.Context, segmentation, output string) error
	// Analyse reports how well an MBF XML file suits mapping to organ.
	Analyse(ctx context.Context, input, organ, species string) (string, error)
}

// Option configures a Helper.
type Option func(*Helper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Helper) { h.log = l }
}

// WithWorkDir sets the directory downloads are stored in. By default a new
// temporary directory is created per download.
func WithWorkDir(dir string) Option {
	return func(h *Helper) { h.workDir = dir }
}

// Helper couples a file source with an exporter.
type Helper struct {
	files    FileSource
	exporter Exporter
	workDir  string
	schema   *jsonschema.Schema
	log      *slog.Logger
}

// New creates a Helper.
func New(files FileSource, exporter Exporter, opts ...Option) (*Helper, error) {
	if files == nil || exporter == nil {
		return nil, errors.New("zinc: file source and exporter are required")
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile scaffold settings schema: %w", err)
	}

	h := &Helper{
		files:    files,
		exporter: exporter,
		schema:   schema,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "zinc")
	return h, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(scaffoldSettingsSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("scaffold-settings.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("scaffold-settings.json")
}

// DownloadFiles searches for files, downloads every match and returns the
// local path of the first one.
func (h *Helper) DownloadFiles(ctx context.Context, q pennsieve.FileQuery) (string, error) {
	page, err := h.files.ListFiles(ctx, q)
	if err != nil {
		return "", err
	}
	if len(page.Files) == 0 {
		return "", fmt.Errorf("%w: query %q type %q dataset %d", ErrNoFiles, q.Query, q.FileType, q.DatasetID)
	}

	dir := h.workDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "sparc-zinc-"); err != nil {
			return "", fmt.Errorf("create work directory: %w", err)
		}
	}

	paths, err := h.files.DownloadFiles(ctx, page.Files, dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w: download returned no files", ErrNoFiles)
	}
	h.log.Debug("files downloaded", "count", len(paths), "first", paths[0])
	return paths[0], nil
}

// ScaffoldVTK downloads the scaffold settings of a dataset, validates them
// and exports the described scaffold to output.
func (h *Helper) ScaffoldVTK(ctx context.Context, datasetID int, output string) error {
	path, err := h.DownloadFiles(ctx, pennsieve.FileQuery{
		Limit:     1,
		FileType:  "JSON",
		Query:     ScaffoldSettingsFile,
		DatasetID: datasetID,
	})
	if err != nil {
		return err
	}

	pkg, err := h.scaffoldPackage(path)
	if err != nil {
		return err
	}
	return h.exporter.ExportScaffold(ctx, pkg, output)
}

func (h *Helper) scaffoldPackage(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaffold settings: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScaffoldSettings, err)
	}
	if err := h.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScaffoldSettings, err)
	}

	var doc struct {
		Settings struct {
			Package json.RawMessage `json:"scaffoldPackage"`
		} `json:"scaffold_settings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScaffoldSettings, err)
	}
	return doc.Settings.Package, nil
}

// MBFVTK downloads an MBF XML segmentation from a dataset and exports it to
// output. file narrows the search to one file name; empty picks the first XML
// file of the dataset.
func (h *Helper) MBFVTK(ctx context.Context, datasetID int, file, output string) error {
	path, err := h.DownloadFiles(ctx, pennsieve.FileQuery{
		Limit:     1,
		FileType:  "XML",
		Query:     file,
		DatasetID: datasetID,
	})
	if err != nil {
		return err
	}
	if err := checkXML(path); err != nil {
		return err
	}
	return h.exporter.ExportSegmentation(ctx, path, output)
}

// Analyse checks that input is a well-formed MBF XML file and reports how
// well it suits mapping to organ for species.
func (h *Helper) Analyse(ctx context.Context, input, organ, species string) (string, error) {
	if !strings.EqualFold(filepath.Ext(input), ".xml") {
		return "", fmt.Errorf("%w: %s is not an XML file", ErrInvalidInput, input)
	}
	if err := checkXML(input); err != nil {
		return "", err
	}
	return h.exporter.Analyse(ctx, input, organ, species)
}

func checkXML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	sawElement := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return fmt.Errorf("%w: %s has no root element", ErrMalformedInput, path)
	}
	return nil
}
