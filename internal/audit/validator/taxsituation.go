package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// TaxSituationValidator checks PIS and COFINS per item: situation code
// validity, expected rate, computed amount and the zero-rate requirement on
// foreign operations.
type TaxSituationValidator struct {
	resolver  RuleResolver
	tolerance decimal.Decimal
}

// NewTaxSituationValidator creates a tax-situation validator with the given
// currency tolerance.
func NewTaxSituationValidator(resolver RuleResolver, tolerance decimal.Decimal) *TaxSituationValidator {
	return &TaxSituationValidator{resolver: resolver, tolerance: tolerance}
}

// contribution names one of the two federal contributions under check.
type contribution struct {
	name          string
	detail        domain.TaxDetail
	lawCode       string
	exportArticle string
}

// Validate returns the tax findings for one item.
func (v *TaxSituationValidator) Validate(ctx context.Context, item *domain.Item, doc *domain.Document) ([]domain.ValidationError, error) {
	var errs []domain.ValidationError

	profile := v.resolver.ExpectedTaxProfile(item.NCM, doc.Direction)

	contributions := []contribution{
		{name: "PIS", detail: item.Taxes.PIS, lawCode: "LEI_10637", exportArticle: "Art. 5 - Exportacoes com aliquota zero"},
		{name: "COFINS", detail: item.Taxes.COFINS, lawCode: "LEI_10833", exportArticle: "Art. 6 - Exportacoes com aliquota zero"},
	}

	for _, c := range contributions {
		found, err := v.validateContribution(ctx, item, doc, c, profile)
		if err != nil {
			return nil, err
		}
		errs = append(errs, found...)
	}

	if item.Taxes.PIS.CST != item.Taxes.COFINS.CST {
		errs = append(errs, domain.ValidationError{
			Code:           "PISCOFINS_001",
			Field:          "pis_cst,cofins_cst",
			Message:        fmt.Sprintf("CST PIS (%s) e COFINS (%s) divergentes", item.Taxes.PIS.CST, item.Taxes.COFINS.CST),
			Severity:       domain.SeverityWarning,
			ActualValue:    fmt.Sprintf("PIS:%s, COFINS:%s", item.Taxes.PIS.CST, item.Taxes.COFINS.CST),
			LegalReference: "Leis 10.637/2002 e 10.833/2003",
			ItemNumber:     item.Number,
			Suggestion:     "PIS e COFINS geralmente devem ter mesma situacao tributaria",
		})
	}

	return errs, nil
}

func (v *TaxSituationValidator) validateContribution(ctx context.Context, item *domain.Item, doc *domain.Document, c contribution, profile *domain.TaxProfile) ([]domain.ValidationError, error) {
	field := strings.ToLower(c.name)

	valid, err := v.resolver.IsValidCST(ctx, c.detail.CST)
	if err != nil {
		return nil, err
	}
	if !valid {
		return []domain.ValidationError{{
			Code:           c.name + "_001",
			Field:          field + "_cst",
			Message:        fmt.Sprintf("CST %s invalido: %s", c.name, c.detail.CST),
			Severity:       domain.SeverityError,
			ActualValue:    c.detail.CST,
			ExpectedValue:  "CST valido conforme base de dados",
			LegalReference: v.resolver.LegalCitation(ctx, c.lawCode),
			ItemNumber:     item.Number,
		}}, nil
	}

	record, err := v.resolver.TaxSituation(ctx, c.detail.CST)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return []domain.ValidationError{{
			Code:           c.name + "_999",
			Field:          field + "_cst",
			Message:        fmt.Sprintf("CST %s %s sem regra cadastrada - validacao de aliquota nao realizada", c.name, c.detail.CST),
			Severity:       domain.SeverityWarning,
			ActualValue:    c.detail.CST,
			ExpectedValue:  "Regra cadastrada na base de dados",
			LegalReference: "Sistema de Validacao",
			ItemNumber:     item.Number,
			Suggestion:     "Verifique se o CST esta correto ou cadastre a regra na tabela de excecoes",
		}}, nil
	}

	rule := record.TaxSituation
	var errs []domain.ValidationError

	if rule.SituationType == domain.SituationTaxed {
		expectedRate := rule.RateFor(c.name)
		if override := profileRate(profile, c.name); override != nil {
			expectedRate = *override
		}

		if !c.detail.Rate.Equal(expectedRate) {
			correct := taxShare(item.Total, expectedRate)
			delta := c.detail.Amount.Sub(correct).Abs()

			errs = append(errs, domain.ValidationError{
				Code:            c.name + "_002",
				Field:           field + "_aliquota",
				Message:         fmt.Sprintf("Aliquota %s incorreta: %s%%", c.name, c.detail.Rate),
				Severity:        domain.SeverityCritical,
				ActualValue:     c.detail.Rate.String(),
				ExpectedValue:   expectedRate.String(),
				LegalReference:  rule.LegalReference,
				LegalArticle:    rule.LegalArticle,
				ItemNumber:      item.Number,
				FinancialImpact: impact(delta),
				Suggestion:      fmt.Sprintf("Aliquota correta: %s%%", expectedRate),
				CorrectedValue:  expectedRate.String(),
			})
		}
	}

	if c.detail.Rate.IsPositive() {
		calculated := taxShare(c.detail.Base, c.detail.Rate)
		delta := calculated.Sub(c.detail.Amount).Abs()

		if delta.GreaterThan(v.tolerance) {
			errs = append(errs, domain.ValidationError{
				Code:            c.name + "_003",
				Field:           field + "_valor",
				Message:         fmt.Sprintf("Valor %s incorreto. Calculado: %s, Informado: %s", c.name, calculated, c.detail.Amount),
				Severity:        domain.SeverityError,
				ActualValue:     c.detail.Amount.String(),
				ExpectedValue:   calculated.String(),
				LegalReference:  rule.LegalReference,
				ItemNumber:      item.Number,
				FinancialImpact: impact(delta),
				CanAutoCorrect:  true,
				CorrectedValue:  calculated.String(),
			})
		}
	}

	if isForeignOperation(doc) && !rule.SituationType.ExemptsFromContribution() {
		declared := c.detail.Amount
		errs = append(errs, domain.ValidationError{
			Code:            c.name + "_004",
			Field:           field + "_cst",
			Message:         fmt.Sprintf("Operacao de exportacao deve ter %s com CST 06 ou 08", c.name),
			Severity:        domain.SeverityCritical,
			ActualValue:     c.detail.CST,
			ExpectedValue:   "06 ou 08",
			LegalReference:  v.resolver.LegalCitation(ctx, c.lawCode),
			LegalArticle:    c.exportArticle,
			ItemNumber:      item.Number,
			FinancialImpact: impact(declared),
			Suggestion:      "Exportacoes sao isentas de PIS/COFINS",
		})
	}

	return errs, nil
}

// profileRate returns the override-table rate for the contribution, when the
// override row also pins the same CST family.
func profileRate(profile *domain.TaxProfile, tax string) *decimal.Decimal {
	if profile == nil {
		return nil
	}
	if strings.EqualFold(tax, "PIS") {
		return profile.PISRate
	}
	return profile.COFINSRate
}

func isForeignOperation(doc *domain.Document) bool {
	return strings.HasPrefix(doc.DocumentCFOP, "7")
}
