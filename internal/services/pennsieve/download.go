package pennsieve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nih-sparc/sparc-client-go/internal/services"
)

// ErrEmptyManifest indicates the manifest resolved none of the requested files.
var ErrEmptyManifest = errors.New("download manifest is empty")

type datasetVersion struct {
	id      int
	version int
}

// DownloadFiles fetches files into dir and returns the local paths in the
// order the manifest lists them. Files are grouped per dataset version so each
// group needs a single manifest request.
func (s *Service) DownloadFiles(ctx context.Context, files []File, dir string) ([]string, error) {
	if len(files) == 0 {
		return nil, services.NewError(Name, "DownloadFiles", fmt.Errorf("%w: no files", services.ErrInvalidArgument))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	groups := make(map[datasetVersion][]string)
	var order []datasetVersion
	for _, f := range files {
		key := datasetVersion{id: f.DatasetID, version: f.DatasetVersion}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f.Path())
	}

	var paths []string
	for _, key := range order {
		m, err := s.Manifest(ctx, key.id, key.version, groups[key])
		if err != nil {
			return nil, err
		}
		if len(m.Data) == 0 {
			return nil, services.NewError(Name, "DownloadFiles", fmt.Errorf("%w: dataset %d version %d", ErrEmptyManifest, key.id, key.version))
		}
		s.log.Info("downloading files", "dataset", key.id, "version", key.version, "count", m.Header.Count, "size", humanize.Bytes(uint64(m.Header.Size)))

		for _, entry := range m.Data {
			dest := filepath.Join(dir, filepath.Base(entry.Name))
			if err := s.download(ctx, entry.URL, dest); err != nil {
				return nil, err
			}
			paths = append(paths, dest)
		}
	}
	return paths, nil
}

func (s *Service) download(ctx context.Context, url, dest string) error {
	c, err := s.open("DownloadFiles")
	if err != nil {
		return err
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	start := time.Now()
	n, err := c.Download(ctx, url, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return wrap("DownloadFiles", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", dest, err)
	}

	s.log.Debug("file downloaded", "path", dest, "size", humanize.Bytes(uint64(n)), "elapsed", time.Since(start))
	return nil
}
