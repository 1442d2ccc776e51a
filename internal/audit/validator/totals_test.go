package validator_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/validator"
)

func newTotalsValidator() *validator.TotalsValidator {
	return validator.NewTotalsValidator(decimal.NewFromFloat(0.02))
}

func TestTotalsValidator_ConsistentDocumentIsClean(t *testing.T) {
	assert.Empty(t, newTotalsValidator().Validate(saleDocument()))
}

func TestTotalsValidator_ProductSumMismatch(t *testing.T) {
	doc := saleDocument()
	doc.Totals.Products = dec("99000")
	doc.Totals.GrandTotal = dec("99000")

	errs := newTotalsValidator().Validate(doc)
	require.Len(t, errs, 1)

	e := errs[0]
	assert.Equal(t, "TOTAL_001", e.Code)
	assert.Equal(t, domain.SeverityCritical, e.Severity)
	assert.True(t, e.CanAutoCorrect)
	assert.Equal(t, "100000", e.CorrectedValue)
	require.NotNil(t, e.FinancialImpact)
	assert.Equal(t, "1000", e.FinancialImpact.String())
}

func TestTotalsValidator_GrandTotalFormula(t *testing.T) {
	doc := saleDocument()
	doc.Totals.Freight = dec("500")
	doc.Totals.Insurance = dec("120")
	doc.Totals.OtherExpenses = dec("30")
	doc.Totals.Discount = dec("650")
	// products + freight + insurance + other - discount = 100000
	doc.Totals.GrandTotal = dec("100000")

	assert.Empty(t, newTotalsValidator().Validate(doc))

	doc.Totals.GrandTotal = dec("100100")
	errs := newTotalsValidator().Validate(doc)
	require.Len(t, errs, 1)
	assert.Equal(t, "TOTAL_002", errs[0].Code)
	assert.Equal(t, "100000", errs[0].ExpectedValue)
}

func TestTotalsValidator_TaxTotals(t *testing.T) {
	doc := saleDocument()
	doc.Totals.PIS = dec("1600")
	doc.Totals.COFINS = dec("7700")

	errs := newTotalsValidator().Validate(doc)
	require.Len(t, errs, 2)

	assert.Equal(t, "TOTAL_003", errs[0].Code)
	assert.Equal(t, domain.SeverityError, errs[0].Severity)
	assert.Equal(t, "TOTAL_004", errs[1].Code)
	require.NotNil(t, errs[1].FinancialImpact)
	assert.Equal(t, "100", errs[1].FinancialImpact.String())
}

func TestTotalsValidator_CorrectedValuesConverge(t *testing.T) {
	doc := saleDocument()
	doc.Totals.Products = dec("98000")
	doc.Totals.GrandTotal = dec("97000")
	doc.Totals.PIS = dec("1500")
	doc.Totals.COFINS = dec("7000")

	v := newTotalsValidator()

	for _, e := range v.Validate(doc) {
		require.True(t, e.CanAutoCorrect)
		corrected := dec(e.CorrectedValue)
		switch e.Code {
		case "TOTAL_001":
			doc.Totals.Products = corrected
		case "TOTAL_002":
			doc.Totals.GrandTotal = corrected
		case "TOTAL_003":
			doc.Totals.PIS = corrected
		case "TOTAL_004":
			doc.Totals.COFINS = corrected
		}
	}

	// A second pass may still flag the grand total, which was corrected from
	// the stale products figure. One more application must converge.
	for _, e := range v.Validate(doc) {
		if e.Code == "TOTAL_002" {
			doc.Totals.GrandTotal = dec(e.CorrectedValue)
		}
	}

	assert.Empty(t, v.Validate(doc), "applying corrections must converge to a clean document")
}
