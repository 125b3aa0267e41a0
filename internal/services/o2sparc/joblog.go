package o2sparc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/nih-sparc/sparc-client-go/internal/services"
)

// ErrLogUnavailable indicates the job log archive could not be retrieved.
var ErrLogUnavailable = errors.New("could not download logfiles")

// JobLog downloads the log archive of a job and extracts it into a new
// temporary directory. The caller owns the directory and removes it when done.
func (s *Solver) JobLog(ctx context.Context, jobID string) (string, error) {
	c, err := s.svc.open("JobLog")
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "o2sparc-log-*.zip")
	if err != nil {
		return "", fmt.Errorf("create log archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = c.Download(ctx, s.jobPath(jobID, "/outputs/logfile"), tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", wrap("JobLog", err)
	}

	dir, err := os.MkdirTemp("", "o2sparc-log-")
	if err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	if err := extractZip(tmp.Name(), dir); err != nil {
		os.RemoveAll(dir)
		return "", services.NewError(Name, "JobLog", err)
	}
	return dir, nil
}

func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	defer zr.Close()

	base := filepath.Clean(dir)
	root := base + string(os.PathSeparator)
	for _, f := range zr.File {
		dest := filepath.Join(dir, f.Name)
		if dest != base && !strings.HasPrefix(dest, root) {
			return fmt.Errorf("%w: entry %q escapes archive root", ErrLogUnavailable, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
