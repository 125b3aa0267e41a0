// Package database holds the daemon's sqlite store: the o2sparc job ledger
// and a small settings table.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned when no ledger row matches.
var ErrJobNotFound = errors.New("job not found")

const timeLayout = "2006-01-02 15:04:05"

// Open opens (creating if needed) the sqlite database at path and runs the
// migrations. ":memory:" and "file:" URIs are passed through.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Job is one submitted o2sparc job.
type Job struct {
	ID            string    `json:"id"`
	Profile       string    `json:"profile"`
	SolverKey     string    `json:"solver_key"`
	SolverVersion string    `json:"solver_version"`
	JobID         string    `json:"job_id"`
	State         string    `json:"state"`
	Progress      float64   `json:"progress"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Jobs records submitted jobs.
type Jobs struct {
	db *sql.DB
}

// NewJobs returns a ledger backed by db. db must be migrated.
func NewJobs(db *sql.DB) *Jobs {
	return &Jobs{db: db}
}

// Record inserts a job and returns it with its ledger ID filled in.
func (j *Jobs) Record(profile, solverKey, solverVersion, jobID string) (*Job, error) {
	job := &Job{
		ID:            uuid.NewString(),
		Profile:       profile,
		SolverKey:     solverKey,
		SolverVersion: solverVersion,
		JobID:         jobID,
		State:         "PUBLISHED",
	}
	_, err := j.db.Exec(`
		INSERT INTO jobs (id, profile, solver_key, solver_version, job_id, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.Profile, job.SolverKey, job.SolverVersion, job.JobID, job.State)
	if err != nil {
		return nil, fmt.Errorf("record job %s: %w", jobID, err)
	}
	return j.Get(job.ID)
}

// UpdateProgress stores the latest state and progress of a job.
func (j *Jobs) UpdateProgress(id, state string, progress float64) error {
	res, err := j.db.Exec(`
		UPDATE jobs SET state = ?, progress = ?, updated_at = datetime('now')
		WHERE id = ?
	`, state, progress, id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Get returns the job with ledger ID id.
func (j *Jobs) Get(id string) (*Job, error) {
	row := j.db.QueryRow(`
		SELECT id, profile, solver_key, solver_version, job_id, state, progress, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// List returns up to limit jobs, newest first.
func (j *Jobs) List(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, profile, solver_key, solver_version, job_id, state, progress, created_at, updated_at
		FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var job Job
	var created, updated string
	err := s.Scan(&job.ID, &job.Profile, &job.SolverKey, &job.SolverVersion, &job.JobID,
		&job.State, &job.Progress, &created, &updated)
	if err != nil {
		return nil, err
	}
	if job.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", job.ID, err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("job %s updated_at: %w", job.ID, err)
	}
	return &job, nil
}

// SetSetting stores value under key.
func SetSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	return err
}

// GetSetting loads the value stored under key. A missing key yields "".
func GetSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
