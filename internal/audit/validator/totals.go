package validator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// TotalsValidator cross-checks the declared document totals against the item
// lines. It is document-level, needs no rule base and always runs, even when
// every item chain stopped early.
type TotalsValidator struct {
	tolerance decimal.Decimal
}

// NewTotalsValidator creates a totals validator with the given currency
// tolerance.
func NewTotalsValidator(tolerance decimal.Decimal) *TotalsValidator {
	return &TotalsValidator{tolerance: tolerance}
}

// Validate returns the totals findings for the document.
func (v *TotalsValidator) Validate(doc *domain.Document) []domain.ValidationError {
	var errs []domain.ValidationError

	var itemSum, pisSum, cofinsSum decimal.Decimal
	for _, item := range doc.Items {
		itemSum = itemSum.Add(item.Total)
		pisSum = pisSum.Add(item.Taxes.PIS.Amount)
		cofinsSum = cofinsSum.Add(item.Taxes.COFINS.Amount)
	}

	if delta := itemSum.Sub(doc.Totals.Products).Abs(); delta.GreaterThan(v.tolerance) {
		errs = append(errs, domain.ValidationError{
			Code:            "TOTAL_001",
			Field:           "valor_produtos",
			Message:         fmt.Sprintf("Valor total dos produtos divergente. Soma itens: %s, Informado: %s", itemSum, doc.Totals.Products),
			Severity:        domain.SeverityCritical,
			ActualValue:     doc.Totals.Products.String(),
			ExpectedValue:   itemSum.String(),
			LegalReference:  "Manual NF-e, Item 7.2",
			FinancialImpact: impact(delta),
			CanAutoCorrect:  true,
			CorrectedValue:  itemSum.String(),
		})
	}

	calculated := doc.Totals.Products.
		Add(doc.Totals.Freight).
		Add(doc.Totals.Insurance).
		Add(doc.Totals.OtherExpenses).
		Sub(doc.Totals.Discount)

	if delta := calculated.Sub(doc.Totals.GrandTotal).Abs(); delta.GreaterThan(v.tolerance) {
		errs = append(errs, domain.ValidationError{
			Code:            "TOTAL_002",
			Field:           "valor_total_nota",
			Message:         fmt.Sprintf("Valor total da nota incorreto. Calculado: %s, Informado: %s", calculated, doc.Totals.GrandTotal),
			Severity:        domain.SeverityCritical,
			ActualValue:     doc.Totals.GrandTotal.String(),
			ExpectedValue:   calculated.String(),
			LegalReference:  "Manual NF-e, Item 7.2",
			FinancialImpact: impact(delta),
			CanAutoCorrect:  true,
			CorrectedValue:  calculated.String(),
		})
	}

	if delta := pisSum.Sub(doc.Totals.PIS).Abs(); delta.GreaterThan(v.tolerance) {
		errs = append(errs, domain.ValidationError{
			Code:            "TOTAL_003",
			Field:           "valor_pis",
			Message:         fmt.Sprintf("Total PIS divergente. Soma itens: %s, Informado: %s", pisSum, doc.Totals.PIS),
			Severity:        domain.SeverityError,
			ActualValue:     doc.Totals.PIS.String(),
			ExpectedValue:   pisSum.String(),
			LegalReference:  "Manual NF-e",
			FinancialImpact: impact(delta),
			CanAutoCorrect:  true,
			CorrectedValue:  pisSum.String(),
		})
	}

	if delta := cofinsSum.Sub(doc.Totals.COFINS).Abs(); delta.GreaterThan(v.tolerance) {
		errs = append(errs, domain.ValidationError{
			Code:            "TOTAL_004",
			Field:           "valor_cofins",
			Message:         fmt.Sprintf("Total COFINS divergente. Soma itens: %s, Informado: %s", cofinsSum, doc.Totals.COFINS),
			Severity:        domain.SeverityError,
			ActualValue:     doc.Totals.COFINS.String(),
			ExpectedValue:   cofinsSum.String(),
			LegalReference:  "Manual NF-e",
			FinancialImpact: impact(delta),
			CanAutoCorrect:  true,
			CorrectedValue:  cofinsSum.String(),
		})
	}

	return errs
}
