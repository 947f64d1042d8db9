// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the analysis endpoints:
//
//	POST /api/v1/analyze/code    – submit inline source for review (≤100 KB)
//	POST /api/v1/analyze/zip     – submit a ZIP of source files (≤50 MB)
//	GET  /api/v1/analysis/:id    – poll the status record of a submission
//
// Submission is asynchronous: a 200 from either analyze endpoint only means
// the payload was accepted and durably recorded as QUEUED. The outcome is
// observable exclusively through the poll endpoint.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/somdiproy/smartcode-review/internal/archive"
	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/http/middleware"
	"github.com/somdiproy/smartcode-review/internal/services"
)

// AnalyzeCodeRequest is the body for POST /analyze/code.
type AnalyzeCodeRequest struct {
	// Source text to review
	Code string `json:"code" binding:"required"`
	// Language hint forwarded to the reviewer (free-form)
	Language string `json:"language" example:"go"`
}

// AnalyzeResponse acknowledges an accepted submission.
type AnalyzeResponse struct {
	Success    bool   `json:"success"`
	AnalysisID string `json:"analysisId" example:"123e4567-e89b-12d3-a456-426614174000"`
	Status     string `json:"status" example:"queued"`
}

// AnalysisStatusResponse is the polled view of a submission.
type AnalysisStatusResponse struct {
	Success            bool                 `json:"success"`
	Status             string               `json:"status" example:"PROCESSING"`
	Message            string               `json:"message" example:"Analyzing code"`
	Result             *domain.ReviewResult `json:"result,omitempty"`
	ProgressPercentage int                  `json:"progressPercentage" example:"50"`
}

// AnalyzeCode godoc
// @ID          analyzeCode
// @Summary     Submit source code for review
// @Description Accepts up to 100 KB of inline source and queues it for AI
// @Description review. Returns the analysis id to poll; the submission
// @Description outcome is never reported on this call.
// @Tags        Analysis
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.AnalyzeCodeRequest  true  "Source payload"
//
// @Success     200  {object}  handlers.AnalyzeResponse  "Accepted and queued"
// @Failure     400  {object}  handlers.ErrorResponse    "Empty or malformed payload"
// @Failure     401  {object}  handlers.ErrorResponse    "Missing or expired token"
// @Failure     413  {object}  handlers.ErrorResponse    "Payload over 100 KB"
// @Failure     503  {object}  handlers.ErrorResponse    "Status store unavailable"
// @Router      /analyze/code [post]
func (h *Handlers) AnalyzeCode(c *gin.Context) {
	var req AnalyzeCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.CountSubmission("rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}

	id, err := h.analyses.Submit(c.Request.Context(), middleware.SessionToken(c), req.Code, req.Language)
	if err != nil {
		h.submitError(c, err)
		return
	}
	middleware.CountSubmission("accepted")
	ok(c, http.StatusOK, AnalyzeResponse{Success: true, AnalysisID: id, Status: "queued"})
}

// AnalyzeZip godoc
// @ID          analyzeZip
// @Summary     Submit a ZIP archive of source files for review
// @Description Accepts a multipart upload (field "file", ≤50 MB), extracts
// @Description recognizable source text, and queues the combined content.
// @Description Binary entries and metadata directories are skipped.
// @Tags        Analysis
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
//
// @Param       file      formData  file    true   "ZIP archive"
// @Param       language  formData  string  false  "Language hint"
//
// @Success     200  {object}  handlers.AnalyzeResponse  "Accepted and queued"
// @Failure     400  {object}  handlers.ErrorResponse    "Missing file or no source inside"
// @Failure     401  {object}  handlers.ErrorResponse    "Missing or expired token"
// @Failure     413  {object}  handlers.ErrorResponse    "Archive or extraction too large"
// @Failure     503  {object}  handlers.ErrorResponse    "Status store unavailable"
// @Router      /analyze/zip [post]
func (h *Handlers) AnalyzeZip(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		middleware.CountSubmission("rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'file' required")
		return
	}
	defer file.Close()

	if header.Size > archive.MaxArchiveBytes {
		middleware.CountSubmission("rejected")
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "archive exceeds 50 MB limit")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, archive.MaxArchiveBytes+1))
	if err != nil {
		middleware.CountSubmission("rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read upload")
		return
	}
	if len(data) > archive.MaxArchiveBytes {
		middleware.CountSubmission("rejected")
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "archive exceeds 50 MB limit")
		return
	}

	code, err := archive.ExtractText(data, services.DefaultMaxArchivePayload)
	switch {
	case errors.Is(err, archive.ErrNoSource):
		middleware.CountSubmission("rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "archive contains no source files")
		return
	case errors.Is(err, archive.ErrTooLarge):
		middleware.CountSubmission("rejected")
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "extracted content exceeds size limit")
		return
	case err != nil:
		middleware.CountSubmission("rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid ZIP archive")
		return
	}

	id, err := h.analyses.SubmitArchive(c.Request.Context(), middleware.SessionToken(c), code, c.PostForm("language"))
	if err != nil {
		h.submitError(c, err)
		return
	}
	middleware.CountSubmission("accepted")
	ok(c, http.StatusOK, AnalyzeResponse{Success: true, AnalysisID: id, Status: "queued"})
}

// GetAnalysis godoc
// @ID          getAnalysis
// @Summary     Poll the status of a submission
// @Description Returns the current status record. Safe to call at any
// @Description frequency; polling has no side effects on the record.
// @Tags        Analysis
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Analysis ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.AnalysisStatusResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or expired token"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown analysis id"
// @Failure     503  {object}  handlers.ErrorResponse  "Status store unavailable"
// @Router      /analysis/{id} [get]
func (h *Handlers) GetAnalysis(c *gin.Context) {
	rec, err := h.analyses.Poll(c.Request.Context(), middleware.SessionToken(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuth):
			fail(c, http.StatusUnauthorized, ErrCodeAuth, "invalid or expired session")
		case errors.Is(err, services.ErrAnalysisNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "analysis not found")
		case errors.Is(err, services.ErrPersistence):
			fail(c, http.StatusServiceUnavailable, ErrCodePersistence, "status store unavailable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "status lookup failed")
		}
		return
	}
	ok(c, http.StatusOK, AnalysisStatusResponse{
		Success:            true,
		Status:             string(rec.Status),
		Message:            rec.Message,
		Result:             rec.Result,
		ProgressPercentage: rec.Progress,
	})
}

// submitError maps submission sentinels onto the HTTP taxonomy.
func (h *Handlers) submitError(c *gin.Context, err error) {
	middleware.CountSubmission("rejected")
	switch {
	case errors.Is(err, services.ErrAuth):
		fail(c, http.StatusUnauthorized, ErrCodeAuth, "invalid or expired session")
	case errors.Is(err, services.ErrEmptyPayload):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
	case errors.Is(err, services.ErrPayloadTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload exceeds size limit")
	case errors.Is(err, services.ErrPersistence):
		fail(c, http.StatusServiceUnavailable, ErrCodePersistence, "status store unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "submission failed")
	}
}
