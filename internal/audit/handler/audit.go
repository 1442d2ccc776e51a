// Package handler exposes the audit pipeline over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/report"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/httputil"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// AuditService is the slice of the batch service the handlers need.
type AuditService interface {
	ValidateBatch(ctx context.Context, r io.Reader) (*domain.BatchResult, error)
	LookupNCM(ctx context.Context, ncm string) (*domain.RuleRecord, error)
	SuggestClassification(ctx context.Context, description, currentCode string) (*rules.ClassificationSuggestion, error)
	ReloadOverrides() error
}

// AuditHandler handles batch validation and rule lookup endpoints.
type AuditHandler struct {
	service AuditService
	logger  *logger.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(svc AuditService, log *logger.Logger) *AuditHandler {
	return &AuditHandler{
		service: svc,
		logger:  log,
	}
}

// BatchResponse is the HTTP rendering of a validated batch.
type BatchResponse struct {
	BatchID       string                 `json:"batch_id"`
	Capability    domain.ParseCapability `json:"capability"`
	DocumentCount int                    `json:"document_count"`
	InvalidCount  int                    `json:"invalid_count"`
	ParseErrors   []domain.ParseError    `json:"parse_errors,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Reports       []ReportEnvelope       `json:"reports"`
}

// ReportEnvelope is one document report, optionally with its Markdown
// narrative.
type ReportEnvelope struct {
	*report.Payload
	Markdown string `json:"markdown,omitempty"`
}

// ValidateBatch accepts a CSV upload and runs it through the pipeline.
// ?format=markdown attaches the Markdown narrative to each report.
func (h *AuditHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	withMarkdown := r.URL.Query().Get("format") == "markdown"

	result, err := h.service.ValidateBatch(r.Context(), r.Body)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	reports := make([]ReportEnvelope, 0, len(result.Reports))
	for _, rep := range result.Reports {
		envelope := ReportEnvelope{Payload: report.BuildPayload(rep)}
		if withMarkdown {
			envelope.Markdown = report.RenderMarkdown(rep)
		}
		reports = append(reports, envelope)
	}

	httputil.JSON(w, http.StatusOK, BatchResponse{
		BatchID:       result.BatchID,
		Capability:    result.Capability,
		DocumentCount: result.DocumentCount,
		InvalidCount:  result.InvalidCount,
		ParseErrors:   result.ParseErrors,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		Reports:       reports,
	})
}

// GetNCMRule resolves the classification rule for an NCM code.
func (h *AuditHandler) GetNCMRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	record, err := h.service.LookupNCM(r.Context(), code)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if record == nil {
		httputil.Error(w, errors.NotFound("NCM rule"))
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// SuggestClassificationRequest is the assist endpoint request body.
type SuggestClassificationRequest struct {
	Description string `json:"description"`
	CurrentCode string `json:"current_code,omitempty"`
}

// SuggestClassification asks the advisory layer for an NCM suggestion.
func (h *AuditHandler) SuggestClassification(w http.ResponseWriter, r *http.Request) {
	var req SuggestClassificationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.Description == "" {
		httputil.Error(w, errors.BadRequest("description is required"))
		return
	}

	suggestion, err := h.service.SuggestClassification(r.Context(), req.Description, req.CurrentCode)
	if err != nil {
		h.logger.Warn().Err(err).Msg("classification suggestion failed")
		httputil.Error(w, errors.Wrap(err, "ASSISTANT_UNAVAILABLE", "classification assistant unavailable", http.StatusBadGateway))
		return
	}
	if suggestion == nil {
		httputil.Error(w, errors.New("ASSISTANT_DISABLED", "classification assistant is not enabled", http.StatusServiceUnavailable))
		return
	}

	httputil.JSON(w, http.StatusOK, suggestion)
}

// ReloadOverrides re-reads the override table from disk.
func (h *AuditHandler) ReloadOverrides(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadOverrides(); err != nil {
		httputil.Error(w, errors.Wrap(err, "OVERRIDE_RELOAD_FAILED", "failed to reload override table", http.StatusInternalServerError))
		return
	}

	h.logger.Info().Msg("override table reloaded")
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
