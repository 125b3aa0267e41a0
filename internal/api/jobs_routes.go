package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errLedgerDisabled = errors.New("job ledger not configured")

// SubmitJobRequest starts a solver job.
type SubmitJobRequest struct {
	Solver  string         `json:"solver" binding:"required"`
	Version string         `json:"version" binding:"required"`
	Inputs  map[string]any `json:"inputs"`
}

// SubmitJobHandler submits a job to an o2sparc solver and records it
func (g *Gateway) SubmitJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.jobs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": errLedgerDisabled.Error()})
			return
		}

		var req SubmitJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		o2, err := g.client.O2Sparc()
		if err != nil {
			g.fail(c, err)
			return
		}
		ctx := c.Request.Context()
		solver, err := o2.GetSolver(ctx, req.Solver, req.Version)
		if err != nil {
			g.fail(c, err)
			return
		}
		jobID, err := solver.SubmitJob(ctx, req.Inputs)
		if err != nil {
			g.fail(c, err)
			return
		}

		job, err := g.jobs.Record(g.client.Profile(), req.Solver, req.Version, jobID)
		if err != nil {
			g.log.Error("failed to record job", "job", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "job_id": jobID})
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

// ListJobsHandler returns recorded jobs, newest first
func (g *Gateway) ListJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.jobs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": errLedgerDisabled.Error()})
			return
		}
		jobs, err := g.jobs.List(queryInt(c, "limit"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// GetJobHandler inspects a recorded job and refreshes its ledger entry
func (g *Gateway) GetJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.jobs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": errLedgerDisabled.Error()})
			return
		}

		job, err := g.jobs.Get(c.Param("id"))
		if err != nil {
			g.fail(c, err)
			return
		}

		o2, err := g.client.O2Sparc()
		if err != nil {
			g.fail(c, err)
			return
		}
		ctx := c.Request.Context()
		solver, err := o2.GetSolver(ctx, job.SolverKey, job.SolverVersion)
		if err != nil {
			g.fail(c, err)
			return
		}
		st, err := solver.Inspect(ctx, job.JobID)
		if err != nil {
			g.fail(c, err)
			return
		}

		if err := g.jobs.UpdateProgress(job.ID, st.State, float64(st.Progress)/100); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		job, err = g.jobs.Get(job.ID)
		if err != nil {
			g.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": job, "done": st.Done()})
	}
}
