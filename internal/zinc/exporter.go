package zinc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nih-sparc/sparc-client-go/internal/config"
)

// ErrExporterNotConfigured indicates no export command is configured.
var ErrExporterNotConfigured = errors.New("zinc export command not configured")

// CommandError reports a failed export command. Its message is the command's
// stderr when it wrote any.
type CommandError struct {
	Verb   string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("zinc %s: %v", e.Verb, e.Err)
	}
	return fmt.Sprintf("zinc %s: %s", e.Verb, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandExporter runs an external toolkit command for every export. The
// command receives a verb followed by its arguments:
//
//	<command> scaffold <package.json> <output>
//	<command> segmentation <input.xml> <output>
//	<command> analyse <input.xml> <organ> <species>
//
// analyse prints its report on stdout.
type CommandExporter struct {
	Command []string
}

var _ Exporter = (*CommandExporter)(nil)

// NewCommandExporter reads zinc_export_command from the profile section.
func NewCommandExporter(cfg config.Section) (*CommandExporter, error) {
	fields := strings.Fields(cfg.Get("zinc_export_command"))
	if len(fields) == 0 {
		return nil, ErrExporterNotConfigured
	}
	return &CommandExporter{Command: fields}, nil
}

// Version checks the command is executable and returns the first line it
// prints for the version verb.
func (e *CommandExporter) Version(ctx context.Context) (string, error) {
	if len(e.Command) == 0 {
		return "", ErrExporterNotConfigured
	}
	if _, err := exec.LookPath(e.Command[0]); err != nil {
		return "", fmt.Errorf("zinc exporter not executable: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := e.run(ctx, "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

func (e *CommandExporter) ExportScaffold(ctx context.Context, scaffoldPackage json.RawMessage, output string) error {
	f, err := os.CreateTemp("", "scaffold-package-*.json")
	if err != nil {
		return fmt.Errorf("write scaffold package: %w", err)
	}
	defer os.Remove(f.Name())

	_, err = f.Write(scaffoldPackage)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write scaffold package: %w", err)
	}

	_, err = e.run(ctx, "scaffold", f.Name(), output)
	return err
}

func (e *CommandExporter) ExportSegmentation(ctx context.Context, segmentation, output string) error {
	_, err := e.run(ctx, "segmentation", segmentation, output)
	return err
}

func (e *CommandExporter) Analyse(ctx context.Context, input, organ, species string) (string, error) {
	out, err := e.run(ctx, "analyse", input, organ, species)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *CommandExporter) run(ctx context.Context, verb string, args ...string) (string, error) {
	if len(e.Command) == 0 {
		return "", ErrExporterNotConfigured
	}

	argv := append(append(append([]string(nil), e.Command[1:]...), verb), args...)
	cmd := exec.CommandContext(ctx, e.Command[0], argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &CommandError{Verb: verb, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.String(), nil
}
