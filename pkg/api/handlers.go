package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/longformai/coherence/pkg/model"
)

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	kind := model.JobKindReconstruction
	if req.Kind != "" {
		kind = model.JobKind(req.Kind)
	}

	if kind == model.JobKindExpansion {
		s.handleSubmitExpansion(c, req)
		return
	}

	j, err := s.controller.Submit(c.Request.Context(), kind, req.SourceText, req.DirectiveRaw)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newJobResponse(j))
}

// handleSubmitExpansion persists an expansion job and kicks off its
// section-generation loop in a background goroutine — unlike reconstruction
// jobs, expansion jobs aren't claimed off a queue by the worker pool, so
// nothing else would ever drive this one to completion (spec §1's "second,
// structurally similar subsystem").
func (s *Server) handleSubmitExpansion(c *gin.Context, req SubmitJobRequest) {
	if s.expander == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "expansion jobs are not enabled on this server"})
		return
	}

	j, err := s.expander.Submit(c.Request.Context(), req.DirectiveRaw, req.SourceText)
	if err != nil {
		respondError(c, err)
		return
	}

	go func() {
		if err := s.expander.Run(context.Background(), j); err != nil {
			slog.Error("expansion job run ended with error", "job_id", j.ID, "error", err)
		}
	}()

	c.JSON(http.StatusCreated, newJobResponse(j))
}

func (s *Server) handleGet(c *gin.Context) {
	j, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(j))
}

// handleAbort requests cooperative abort of a running job (spec §4.I).
// Preference order: signal the in-process registry (takes effect at the
// next chunk boundary); if this process isn't the one running it, fall
// back to a direct store transition so the job is marked aborted even if
// its runner already exited or is on another replica.
func (s *Server) handleAbort(c *gin.Context) {
	id := c.Param("id")
	if s.pool.Abort(id) {
		c.JSON(http.StatusAccepted, gin.H{"job_id": id, "abort": "signaled"})
		return
	}

	if err := s.store.AbortJob(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "abort": "applied"})
}

// handleResume releases an aborted job back to pending so the worker pool
// picks it up again at its currentChunk (spec §4.I's resume semantics).
func (s *Server) handleResume(c *gin.Context) {
	id := c.Param("id")
	j, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if j.Status != model.JobStatusAborted {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "only an aborted job can be resumed"})
		return
	}
	if err := s.store.TransitionStatus(c.Request.Context(), id, model.JobStatusAborted, model.JobStatusPending); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "resume": "queued"})
}
