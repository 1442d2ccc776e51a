// Package validator implements the per-document rule checks: product
// classification, PIS/COFINS tax situation, operation codes, document totals
// and the SP/PE state overlays. Validators are pure: findings are data on the
// document, Go errors are reserved for infrastructure failures.
package validator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// RuleResolver is the slice of the rules layer the validators consume.
type RuleResolver interface {
	Classification(ctx context.Context, ncm string) (*domain.RuleRecord, error)
	TaxSituation(ctx context.Context, cst string) (*domain.RuleRecord, error)
	Operation(ctx context.Context, cfop string) (*domain.RuleRecord, error)
	Overlays(ctx context.Context, state, ncm string) ([]domain.OverlayRule, error)
	ExpectedTaxProfile(ncm string, direction domain.OperationDirection) *domain.TaxProfile
	IsValidCST(ctx context.Context, cst string) (bool, error)
	LegalCitation(ctx context.Context, code string) string
}

var (
	// valueTolerance is the accepted absolute delta in currency units when
	// comparing declared against computed amounts.
	defaultValueTolerance = decimal.NewFromFloat(0.02)

	// rateTolerance is the accepted delta in percentage points for overlay
	// ICMS rate checks.
	defaultRateTolerance = decimal.NewFromFloat(0.01)

	hundred = decimal.NewFromInt(100)
)

// taxShare computes base × rate / 100 rounded to cents.
func taxShare(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

func impact(d decimal.Decimal) *decimal.Decimal {
	return &d
}
