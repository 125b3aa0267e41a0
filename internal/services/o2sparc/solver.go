package o2sparc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/nih-sparc/sparc-client-go/internal/services"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

// ErrJobNotDone indicates results were requested before the job stopped.
var ErrJobNotDone = errors.New("job is not done")

// LocalFile is a path on the local filesystem. As a job input it is uploaded
// before the job is created; as a result it points at the downloaded output.
type LocalFile string

// Solver is a released computational service jobs can be submitted to.
type Solver struct {
	svc  *Service
	info SolverInfo

	mu   sync.Mutex
	jobs []Job
}

// Info returns the solver description.
func (s *Solver) Info() SolverInfo {
	return s.info
}

// Jobs returns the jobs submitted through this solver.
func (s *Solver) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func (s *Solver) jobPath(jobID, suffix string) string {
	return fmt.Sprintf("solvers/%s/releases/%s/jobs/%s%s",
		url.PathEscape(s.info.ID), url.PathEscape(s.info.Version), url.PathEscape(jobID), suffix)
}

// SubmitJob creates and starts a job. Input values must be strings, numbers,
// booleans or LocalFile paths; files are uploaded first.
func (s *Solver) SubmitJob(ctx context.Context, inputs map[string]any) (string, error) {
	c, err := s.svc.open("SubmitJob")
	if err != nil {
		return "", err
	}

	values := make(map[string]any, len(inputs))
	for key, in := range inputs {
		switch v := in.(type) {
		case LocalFile:
			f, err := s.upload(ctx, c, key, string(v))
			if err != nil {
				return "", err
			}
			values[key] = f
		case string, bool, int, int32, int64, float32, float64, json.Number:
			values[key] = v
		default:
			return "", services.NewError(Name, "SubmitJob", fmt.Errorf("%w: input %q has unsupported type %T", services.ErrInvalidArgument, key, in))
		}
	}

	var job Job
	endpoint := fmt.Sprintf("solvers/%s/releases/%s/jobs", url.PathEscape(s.info.ID), url.PathEscape(s.info.Version))
	if err := c.Post(ctx, endpoint, nil, jobInputs{Values: values}, &job); err != nil {
		return "", wrap("SubmitJob", err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	if err := c.Post(ctx, s.jobPath(job.ID, ":start"), nil, nil, nil); err != nil {
		return "", wrap("SubmitJob", err)
	}
	s.svc.log.Info("job submitted", "solver", s.info.ID, "version", s.info.Version, "job", job.ID)
	return job.ID, nil
}

func (s *Solver) upload(ctx context.Context, c *transport.Client, key, path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return File{}, services.NewError(Name, "SubmitJob", fmt.Errorf("%w: input %s is not a file", services.ErrInvalidArgument, key))
	}

	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open input %s: %w", key, err)
	}
	defer f.Close()

	var out File
	if err := c.Upload(ctx, http.MethodPut, "files/content", "file", filepath.Base(path), f, &out); err != nil {
		return File{}, wrap("SubmitJob", err)
	}
	return out, nil
}

// Inspect returns the current status of a job.
func (s *Solver) Inspect(ctx context.Context, jobID string) (*JobStatus, error) {
	c, err := s.svc.open("Inspect")
	if err != nil {
		return nil, err
	}

	var st JobStatus
	if err := c.Post(ctx, s.jobPath(jobID, ":inspect"), nil, nil, &st); err != nil {
		return nil, wrap("Inspect", err)
	}
	return &st, nil
}

// JobProgress returns the job progress between 0.0 and 1.0, where 1.0 means done.
func (s *Solver) JobProgress(ctx context.Context, jobID string) (float64, error) {
	st, err := s.Inspect(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return float64(st.Progress) / 100, nil
}

// JobDone reports whether the job has stopped.
func (s *Solver) JobDone(ctx context.Context, jobID string) (bool, error) {
	st, err := s.Inspect(ctx, jobID)
	if err != nil {
		return false, err
	}
	return st.Done(), nil
}

// Results returns the outputs of a finished job. File outputs are downloaded
// into dir and reported as LocalFile values.
func (s *Solver) Results(ctx context.Context, jobID, dir string) (map[string]any, error) {
	done, err := s.JobDone(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, services.NewError(Name, "Results", fmt.Errorf("%w: %s", ErrJobNotDone, jobID))
	}

	c, err := s.svc.open("Results")
	if err != nil {
		return nil, err
	}

	var out jobOutputs
	if err := c.Get(ctx, s.jobPath(jobID, "/outputs"), nil, &out); err != nil {
		return nil, wrap("Results", err)
	}

	results := make(map[string]any, len(out.Results))
	for key, raw := range out.Results {
		var f File
		if err := json.Unmarshal(raw, &f); err == nil && f.ID != "" && f.Filename != "" {
			path, err := s.downloadFile(ctx, c, f, dir)
			if err != nil {
				return nil, err
			}
			results[key] = LocalFile(path)
			continue
		}

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, services.NewError(Name, "Results", fmt.Errorf("decode output %q: %w", key, err))
		}
		results[key] = v
	}
	return results, nil
}

func (s *Solver) downloadFile(ctx context.Context, c *transport.Client, f File, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(f.Filename))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := c.Download(ctx, fmt.Sprintf("files/%s/content", url.PathEscape(f.ID)), out); err != nil {
		os.Remove(dest)
		return "", wrap("Results", err)
	}
	return dest, nil
}
