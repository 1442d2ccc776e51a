// Package service orchestrates batch validation: normalization, rule
// resolution, the validator chain, aggregation and event publication.
package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/events"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/normalizer"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/report"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/validator"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/config"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// AuditService runs uploaded batches through the full validation pipeline.
type AuditService struct {
	parser     *normalizer.Parser
	overrides  *rules.OverrideTable
	store      *rules.Store
	advisor    rules.Advisor
	aggregator *report.Aggregator
	publisher  *events.AuditPublisher
	logger     *logger.Logger

	workers   int
	tolerance decimal.Decimal
	now       func() time.Time
}

// NewAuditService wires the audit pipeline. advisor may be nil when the
// assistant is disabled.
func NewAuditService(
	overrides *rules.OverrideTable,
	store *rules.Store,
	advisor rules.Advisor,
	publisher *events.AuditPublisher,
	cfg *config.ValidationConfig,
	log *logger.Logger,
) *AuditService {
	tolerance, err := decimal.NewFromString(cfg.Tolerance)
	if err != nil {
		tolerance = decimal.NewFromFloat(0.02)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &AuditService{
		parser:     normalizer.New(log),
		overrides:  overrides,
		store:      store,
		advisor:    advisor,
		aggregator: report.NewAggregator(),
		publisher:  publisher,
		logger:     log.WithComponent("audit-service"),
		workers:    workers,
		tolerance:  tolerance,
		now:        time.Now,
	}
}

// ValidateBatch normalizes the CSV stream and validates every document.
// The rule store must be reachable before any document is touched; results
// preserve input order regardless of worker scheduling.
func (s *AuditService) ValidateBatch(ctx context.Context, r io.Reader) (*domain.BatchResult, error) {
	startedAt := s.now()

	if err := s.store.Ping(ctx); err != nil {
		return nil, err
	}

	out, err := s.parser.Parse(r)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	log := s.logger.WithBatchID(batchID)
	log.Info().
		Int("documents", len(out.Documents)).
		Int("parse_errors", len(out.ParseErrors)).
		Msg("batch accepted")

	resolver := rules.NewResolver(s.overrides.Snapshot(), s.store, s.advisor, s.logger, startedAt)
	chain := validator.NewChain(resolver, s.logger, validator.WithTolerance(s.tolerance))

	if err := s.validateAll(ctx, chain, out.Documents); err != nil {
		return nil, err
	}

	result := &domain.BatchResult{
		BatchID:       batchID,
		Capability:    out.Capability,
		Reports:       make([]*domain.Report, 0, len(out.Documents)),
		ParseErrors:   out.ParseErrors,
		DocumentCount: len(out.Documents),
		StartedAt:     startedAt,
	}

	for _, doc := range out.Documents {
		rep := s.aggregator.Build(doc)
		if rep.Status == domain.ReportInvalid {
			result.InvalidCount++
		}
		result.Reports = append(result.Reports, rep)
		s.publisher.DocumentValidated(ctx, batchID, rep)
	}

	result.FinishedAt = s.now()
	s.publisher.BatchCompleted(ctx, result)

	log.Info().
		Int("invalid", result.InvalidCount).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("batch completed")

	return result, nil
}

// validateAll fans the documents over a bounded worker pool. The slice is
// indexed, so output order never depends on scheduling.
func (s *AuditService) validateAll(ctx context.Context, chain *validator.Chain, docs []*domain.Document) error {
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error

	for _, doc := range docs {
		wg.Add(1)
		sem <- struct{}{}

		go func(doc *domain.Document) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := chain.ValidateDocument(ctx, doc); err != nil {
				doc.Status = domain.StatusError
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(doc)
	}

	wg.Wait()
	return firstErr
}

// LookupNCM resolves the classification rule for a code without touching
// the advisory layer.
func (s *AuditService) LookupNCM(ctx context.Context, ncm string) (*domain.RuleRecord, error) {
	resolver := rules.NewResolver(s.overrides.Snapshot(), s.store, nil, s.logger, s.now())
	return resolver.Classification(ctx, normalizer.CanonicalNCM(ncm))
}

// SuggestClassification asks the advisory layer for an NCM suggestion. It
// is only reachable through the assist endpoint.
func (s *AuditService) SuggestClassification(ctx context.Context, description, currentCode string) (*rules.ClassificationSuggestion, error) {
	resolver := rules.NewResolver(s.overrides.Snapshot(), s.store, s.advisor, s.logger, s.now())
	return resolver.ResolveAdvisory(ctx, description, normalizer.CanonicalNCM(currentCode))
}

// ReloadOverrides re-reads the override table from disk.
func (s *AuditService) ReloadOverrides() error {
	return s.overrides.Reload()
}
