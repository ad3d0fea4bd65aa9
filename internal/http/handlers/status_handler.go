// Job status HTTP handlers.
//
// This file exposes the read-only job endpoints:
//   - GET /jobs/{id}   (single job status, progress, and terminal payload)
//   - GET /jobs        (paginated job history for the caller)
//
// Ownership is enforced in the service: a valid job ID belonging to another
// owner answers 403, an unknown ID answers 404, so an ID leak reveals nothing
// beyond existence.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumistory/go-studio-backend/internal/services"
	"github.com/lumistory/go-studio-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []services.JobStatusView `json:"jobs"`
	Pagination Pagination               `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// GetJob godoc
// @ID          getJob
// @Summary     Get job status
// @Description Returns the current status of a generation job, with an estimated
// @Description progress percentage while it is processing and the result or error
// @Description once it has settled.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-User-ID     header  string  false "Registered user ID"  example(user123)
// @Param       X-Session-ID  header  string  false "Guest session ID"    example(3f2c1b7a)
// @Param       id            path    string  true  "Job ID (UUID)"       format(uuid)
//
// @Success     200  {object}  services.JobStatusView
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     403  {object}  handlers.ErrorResponse "Job belongs to another owner"
// @Failure     404  {object}  handlers.ErrorResponse "Job not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	owner, known := requestOwner(c)
	if !known {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Session-ID header required")
		return
	}
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	view, err := h.statusSvc.GetStatus(ctx, owner.Key, jobID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		case errors.Is(err, services.ErrUnauthorised):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "job belongs to another owner")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, view)
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List jobs
// @Description Returns a paginated list of the caller's generation jobs, newest first.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-User-ID     header  string  false "Registered user ID"  example(user123)
// @Param       X-Session-ID  header  string  false "Guest session ID"    example(3f2c1b7a)
// @Param       page          query   int     false "Page number"         minimum(1) default(1)
// @Param       page_size     query   int     false "Items per page"      minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListJobsResponse
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	owner, known := requestOwner(c)
	if !known {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Session-ID header required")
		return
	}

	page, pageSize := clampPagination(c)
	items, total, page, pageSize, err := h.statusSvc.ListJobs(ctx, owner.Key, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListJobsResponse{
		Jobs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
