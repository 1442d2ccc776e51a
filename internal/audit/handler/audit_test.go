package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/handler"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/report"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

type stubService struct {
	batchResult *domain.BatchResult
	batchErr    error
	record      *domain.RuleRecord
	suggestion  *rules.ClassificationSuggestion
	suggestErr  error
	reloadErr   error

	receivedBody string
}

func (s *stubService) ValidateBatch(ctx context.Context, r io.Reader) (*domain.BatchResult, error) {
	body, _ := io.ReadAll(r)
	s.receivedBody = string(body)
	return s.batchResult, s.batchErr
}

func (s *stubService) LookupNCM(ctx context.Context, ncm string) (*domain.RuleRecord, error) {
	return s.record, nil
}

func (s *stubService) SuggestClassification(ctx context.Context, description, currentCode string) (*rules.ClassificationSuggestion, error) {
	return s.suggestion, s.suggestErr
}

func (s *stubService) ReloadOverrides() error {
	return s.reloadErr
}

func newRouter(svc handler.AuditService) http.Handler {
	log := logger.New("audit-service-test", "development")
	h := handler.NewAuditHandler(svc, log)

	r := chi.NewRouter()
	r.Post("/batches", h.ValidateBatch)
	r.Get("/rules/ncm/{code}", h.GetNCMRule)
	r.Post("/assist/classification", h.SuggestClassification)
	r.Post("/rules/overrides/reload", h.ReloadOverrides)
	return r
}

func sampleBatchResult() *domain.BatchResult {
	doc := &domain.Document{
		AccessKey:        "44230512345678901234567890123456789012345678",
		Number:           "000001",
		Series:           "1",
		IssuedAt:         time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC),
		Issuer:           domain.Party{CNPJ: "12345678000190", LegalName: "USINA ACUCAR LTDA", State: "SP"},
		Recipient:        domain.Party{CNPJ: "98765432000180", LegalName: "DISTRIBUIDORA ABC LTDA", State: "PE"},
		OriginState:      "SP",
		DestinationState: "PE",
		DocumentCFOP:     "6101",
		Status:           domain.StatusValid,
		Items: []domain.Item{{
			Number:      1,
			Description: "ACUCAR CRISTAL 50KG",
			NCM:         "17019900",
			CFOP:        "6101",
			Total:       decimal.RequireFromString("85500"),
		}},
	}

	now := time.Now()
	return &domain.BatchResult{
		BatchID:       "b7f3a1c2-0000-0000-0000-000000000000",
		Reports:       []*domain.Report{report.NewAggregator().Build(doc)},
		DocumentCount: 1,
		StartedAt:     now,
		FinishedAt:    now,
	}
}

func TestValidateBatch(t *testing.T) {
	svc := &stubService{batchResult: sampleBatchResult()}
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader("chave_acesso,ncm\n"))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chave_acesso,ncm\n", svc.receivedBody)

	var resp struct {
		Success bool                  `json:"success"`
		Data    handler.BatchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.Success)
	assert.Equal(t, "b7f3a1c2-0000-0000-0000-000000000000", resp.Data.BatchID)
	assert.Equal(t, 1, resp.Data.DocumentCount)
	require.Len(t, resp.Data.Reports, 1)
	assert.Empty(t, resp.Data.Reports[0].Markdown)
}

func TestValidateBatch_MarkdownFormat(t *testing.T) {
	router := newRouter(&stubService{batchResult: sampleBatchResult()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batches?format=markdown", strings.NewReader("x\n"))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data handler.BatchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Reports, 1)
	assert.Contains(t, resp.Data.Reports[0].Markdown, "# Relatorio de Auditoria Fiscal")
}

func TestValidateBatch_EmptyBatchIsUnprocessable(t *testing.T) {
	router := newRouter(&stubService{batchErr: errors.EmptyBatch("no usable rows")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader("\n"))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMPTY_BATCH")
}

func TestValidateBatch_StoreDownIs503(t *testing.T) {
	router := newRouter(&stubService{batchErr: errors.StoreDown(io.ErrUnexpectedEOF)})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader("x\n"))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "RULE_STORE_UNAVAILABLE")
}

func TestGetNCMRule(t *testing.T) {
	record := domain.NewClassificationRecord(&domain.ClassificationRule{
		NCM:         "17019900",
		Description: "Acucar de cana refinado",
	}, domain.RuleSourceStore)

	router := newRouter(&stubService{record: record})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rules/ncm/17019900", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "17019900")
}

func TestGetNCMRule_NotFound(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rules/ncm/99999999", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestClassification(t *testing.T) {
	router := newRouter(&stubService{suggestion: &rules.ClassificationSuggestion{
		SuggestedCode: "17019900",
		Confidence:    0.92,
		Rationale:     "acucar refinado",
	}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/assist/classification",
		strings.NewReader(`{"description":"acucar refinado","current_code":"17019100"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"suggested_code":"17019900"`)
}

func TestSuggestClassification_RequiresDescription(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/assist/classification", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestClassification_DisabledAssistant(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/assist/classification",
		strings.NewReader(`{"description":"acucar"}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ASSISTANT_DISABLED")
}

func TestReloadOverrides(t *testing.T) {
	router := newRouter(&stubService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rules/overrides/reload", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reloaded")
}
