package rules

import (
	"context"
	"sync"
	"time"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// ClassificationSuggestion is an advisory answer from the assistant. It
// never enters the deterministic chain.
type ClassificationSuggestion struct {
	SuggestedCode string  `json:"suggested_code"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// Advisor is the optional AI layer consulted only on explicit request.
type Advisor interface {
	SuggestClassification(ctx context.Context, description, currentCode string) (*ClassificationSuggestion, error)
}

// Resolver answers rule lookups through ordered layers: the override
// snapshot first, then the canonical store. The first layer with a
// currently-valid rule wins; a miss in every layer is (nil, nil), not an
// error.
//
// Tax-situation rules are keyed by CST in the store but by NCM in the
// override table, so the override layer participates in tax lookups through
// ExpectedTaxProfile rather than TaxSituation.
type Resolver struct {
	snapshot *OverrideSnapshot
	store    *Store
	advisor  Advisor
	logger   *logger.Logger

	// at anchors every validity-window check so one batch sees one
	// consistent rule set.
	at time.Time

	cstOnce  sync.Once
	cstSet   map[string]struct{}
	cstError error
}

// NewResolver binds a resolver to one batch: an override snapshot and the
// instant used for validity windows. advisor may be nil.
func NewResolver(snapshot *OverrideSnapshot, store *Store, advisor Advisor, log *logger.Logger, at time.Time) *Resolver {
	return &Resolver{
		snapshot: snapshot,
		store:    store,
		advisor:  advisor,
		logger:   log.WithComponent("rule-resolver"),
		at:       at,
	}
}

// Classification resolves the rule for an NCM.
func (r *Resolver) Classification(ctx context.Context, ncm string) (*domain.RuleRecord, error) {
	if rule := r.snapshot.Classification(ncm); rule != nil {
		return domain.NewClassificationRecord(rule, domain.RuleSourceOverride), nil
	}

	rule, err := r.store.Classification(ctx, ncm, r.at)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return domain.NewClassificationRecord(rule, domain.RuleSourceStore), nil
	}
	return nil, nil
}

// TaxSituation resolves the PIS/COFINS rule for a CST from the store.
func (r *Resolver) TaxSituation(ctx context.Context, cst string) (*domain.RuleRecord, error) {
	rule, err := r.store.TaxSituation(ctx, cst, r.at)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return domain.NewTaxSituationRecord(rule, domain.RuleSourceStore), nil
	}
	return nil, nil
}

// ExpectedTaxProfile returns the override table's expected tax treatment for
// an NCM and direction, or nil.
func (r *Resolver) ExpectedTaxProfile(ncm string, direction domain.OperationDirection) *domain.TaxProfile {
	return r.snapshot.TaxProfile(ncm, direction)
}

// Operation resolves the rule for a CFOP.
func (r *Resolver) Operation(ctx context.Context, cfop string) (*domain.RuleRecord, error) {
	if rule := r.snapshot.Operation(cfop); rule != nil {
		return domain.NewOperationRecord(rule, domain.RuleSourceOverride), nil
	}

	rule, err := r.store.Operation(ctx, cfop, r.at)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return domain.NewOperationRecord(rule, domain.RuleSourceStore), nil
	}
	return nil, nil
}

// Overlays returns the state rules applying to an NCM, override-derived
// rules first.
func (r *Resolver) Overlays(ctx context.Context, state, ncm string) ([]domain.OverlayRule, error) {
	overlays := r.snapshot.StateOverlays(state, ncm)

	stored, err := r.store.Overlays(ctx, state, ncm, r.at)
	if err != nil {
		return nil, err
	}
	return append(overlays, stored...), nil
}

// IsValidCST reports whether the CST exists in the canonical catalog. The
// catalog is fetched once per resolver.
func (r *Resolver) IsValidCST(ctx context.Context, cst string) (bool, error) {
	r.cstOnce.Do(func() {
		csts, err := r.store.ValidCSTs(ctx)
		if err != nil {
			r.cstError = err
			return
		}
		r.cstSet = make(map[string]struct{}, len(csts))
		for _, c := range csts {
			r.cstSet[c] = struct{}{}
		}
	})
	if r.cstError != nil {
		return false, r.cstError
	}
	_, ok := r.cstSet[cst]
	return ok, nil
}

// LegalCitation formats the legal reference for a catalog code. Unknown
// codes come back verbatim so findings always carry something citable.
func (r *Resolver) LegalCitation(ctx context.Context, code string) string {
	ref, err := r.store.LegalRef(ctx, code)
	if err != nil {
		r.logger.Warn().Err(err).Str("code", code).Msg("legal reference lookup failed")
		return code
	}
	if ref == nil {
		return code
	}
	return ref.Citation()
}

// ResolveAdvisory consults the AI layer for a classification suggestion.
// Only the assist endpoint reaches this; validators never do.
func (r *Resolver) ResolveAdvisory(ctx context.Context, description, currentCode string) (*ClassificationSuggestion, error) {
	if r.advisor == nil {
		return nil, nil
	}
	return r.advisor.SuggestClassification(ctx, description, currentCode)
}
