package validator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// overlayStates are the regions with state-specific rule sets.
var overlayStates = []string{"SP", "PE"}

// Chain runs every validator over a document in a fixed order:
// classification, tax situation and operation code per item, then the
// document-level totals, then the state overlays for every region the
// document touches. A malformed classification code stops the remaining
// checks for that item only.
type Chain struct {
	classification *ClassificationValidator
	taxSituation   *TaxSituationValidator
	operation      *OperationValidator
	totals         *TotalsValidator
	overlays       []*OverlayValidator
	logger         *logger.Logger
	now            func() time.Time
}

// Option adjusts chain construction.
type Option func(*options)

type options struct {
	tolerance     decimal.Decimal
	rateTolerance decimal.Decimal
}

// WithTolerance overrides the currency tolerance used when comparing
// declared against computed amounts.
func WithTolerance(t decimal.Decimal) Option {
	return func(o *options) { o.tolerance = t }
}

// WithRateTolerance overrides the percentage-point tolerance of the overlay
// ICMS rate check.
func WithRateTolerance(t decimal.Decimal) Option {
	return func(o *options) { o.rateTolerance = t }
}

// NewChain wires the full validator chain over a resolver.
func NewChain(resolver RuleResolver, log *logger.Logger, opts ...Option) *Chain {
	o := options{
		tolerance:     defaultValueTolerance,
		rateTolerance: defaultRateTolerance,
	}
	for _, opt := range opts {
		opt(&o)
	}

	overlays := make([]*OverlayValidator, 0, len(overlayStates))
	for _, state := range overlayStates {
		overlays = append(overlays, NewOverlayValidator(resolver, state, o.rateTolerance))
	}

	return &Chain{
		classification: NewClassificationValidator(resolver),
		taxSituation:   NewTaxSituationValidator(resolver, o.tolerance),
		operation:      NewOperationValidator(resolver),
		totals:         NewTotalsValidator(o.tolerance),
		overlays:       overlays,
		logger:         log.WithComponent("validator-chain"),
		now:            time.Now,
	}
}

// ValidateDocument runs the chain and attaches every finding to the
// document. The returned error is infrastructural only; fiscal findings are
// never Go errors.
func (c *Chain) ValidateDocument(ctx context.Context, doc *domain.Document) error {
	doc.Status = domain.StatusValidating

	for i := range doc.Items {
		item := &doc.Items[i]

		errs, err := c.classification.Validate(ctx, item, doc)
		if err != nil {
			return err
		}
		addAll(doc, item, errs)

		if IsMalformedCode(errs) {
			// Tax and operation checks would only chase a garbage code.
			continue
		}

		errs, err = c.taxSituation.Validate(ctx, item, doc)
		if err != nil {
			return err
		}
		addAll(doc, item, errs)

		errs, err = c.operation.Validate(ctx, item, doc)
		if err != nil {
			return err
		}
		addAll(doc, item, errs)
	}

	for _, e := range c.totals.Validate(doc) {
		doc.AddError(e)
	}

	for _, overlay := range c.overlays {
		if !doc.TouchesState(overlay.State()) {
			continue
		}
		for i := range doc.Items {
			item := &doc.Items[i]
			errs, err := overlay.Validate(ctx, item, doc)
			if err != nil {
				return err
			}
			addAll(doc, item, errs)
		}
	}

	if doc.Status != domain.StatusInvalid {
		doc.Status = statusFromFindings(doc)
	}
	validatedAt := c.now()
	doc.ValidatedAt = &validatedAt

	c.logger.Debug().
		Str("access_key", doc.AccessKey).
		Str("status", string(doc.Status)).
		Int("findings", len(doc.Errors)).
		Msg("document validated")

	return nil
}

func addAll(doc *domain.Document, item *domain.Item, errs []domain.ValidationError) {
	for _, e := range errs {
		item.Errors = append(item.Errors, e)
		doc.AddError(e)
	}
}

func statusFromFindings(doc *domain.Document) domain.ValidationStatus {
	for _, e := range doc.Errors {
		if e.Severity.AtLeast(domain.SeverityError) {
			return domain.StatusInvalid
		}
	}
	return domain.StatusValid
}
