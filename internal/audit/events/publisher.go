// Package events publishes audit lifecycle events to the message broker.
// Publishing is best-effort: a broker outage never fails a validation.
package events

import (
	"context"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/messaging"
)

// Publisher is the transport slice the audit publisher needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// AuditPublisher emits document and batch events. A nil transport disables
// publishing entirely, for deployments without a broker.
type AuditPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewAuditPublisher creates the audit event publisher. publisher may be nil.
func NewAuditPublisher(publisher Publisher, log *logger.Logger) *AuditPublisher {
	return &AuditPublisher{
		publisher: publisher,
		logger:    log.WithComponent("audit-events"),
	}
}

// DocumentValidated emits the per-document event for a finished report.
func (p *AuditPublisher) DocumentValidated(ctx context.Context, batchID string, report *domain.Report) {
	if p.publisher == nil {
		return
	}

	event := messaging.DocumentValidatedEvent{
		BatchID:         batchID,
		AccessKey:       report.Document.AccessKey,
		Status:          string(report.Status),
		CriticalCount:   report.Counts.Critical,
		ErrorCount:      report.Counts.Error,
		WarningCount:    report.Counts.Warning,
		InfoCount:       report.Counts.Info,
		FinancialImpact: report.TotalFinancialImpact.StringFixed(2),
	}

	if err := p.publisher.Publish(ctx, messaging.EventDocumentValidated, event); err != nil {
		p.logger.Warn().Err(err).
			Str("batch_id", batchID).
			Str("access_key", report.Document.AccessKey).
			Msg("failed to publish document validated event")
	}
}

// BatchCompleted emits the batch summary event.
func (p *AuditPublisher) BatchCompleted(ctx context.Context, result *domain.BatchResult) {
	if p.publisher == nil {
		return
	}

	event := messaging.BatchCompletedEvent{
		BatchID:        result.BatchID,
		DocumentCount:  result.DocumentCount,
		InvalidCount:   result.InvalidCount,
		ParseErrors:    len(result.ParseErrors),
		DurationMillis: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchCompleted, event); err != nil {
		p.logger.Warn().Err(err).
			Str("batch_id", result.BatchID).
			Msg("failed to publish batch completed event")
	}
}
