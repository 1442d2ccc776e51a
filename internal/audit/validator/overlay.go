package validator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// OverlayValidator applies state-specific ICMS rules on top of the federal
// checks. Findings are advisory: warnings and infos, never blocking.
type OverlayValidator struct {
	resolver      RuleResolver
	state         string
	rateTolerance decimal.Decimal
}

// NewOverlayValidator creates an overlay validator for one state.
func NewOverlayValidator(resolver RuleResolver, state string, rateTolerance decimal.Decimal) *OverlayValidator {
	return &OverlayValidator{resolver: resolver, state: state, rateTolerance: rateTolerance}
}

// State returns the state this overlay covers.
func (v *OverlayValidator) State() string {
	return v.state
}

// Validate returns the overlay findings for one item. The caller only
// invokes it when the document touches the validator's state.
func (v *OverlayValidator) Validate(ctx context.Context, item *domain.Item, doc *domain.Document) ([]domain.ValidationError, error) {
	overlays, err := v.resolver.Overlays(ctx, v.state, item.NCM)
	if err != nil {
		return nil, err
	}

	var errs []domain.ValidationError
	for _, rule := range overlays {
		switch rule.Kind {
		case domain.OverlayICMS:
			if e := v.checkICMSRate(item, rule); e != nil {
				errs = append(errs, *e)
			}
		case domain.OverlayTaxSubstitution:
			if e := v.checkTaxSubstitution(item, rule); e != nil {
				errs = append(errs, *e)
			}
		case domain.OverlayBaseReduction, domain.OverlayPresumedCredit:
			if e := v.checkBenefit(item, rule); e != nil {
				errs = append(errs, *e)
			}
		}
	}
	return errs, nil
}

func (v *OverlayValidator) checkICMSRate(item *domain.Item, rule domain.OverlayRule) *domain.ValidationError {
	if rule.ICMSRate == nil || item.Taxes.ICMS.Rate.IsZero() {
		return nil
	}

	expected := *rule.ICMSRate
	actual := item.Taxes.ICMS.Rate
	if actual.Sub(expected).Abs().LessThanOrEqual(v.rateTolerance) {
		return nil
	}

	// Signed delta: overpayment and underpayment both matter to the report.
	expectedValue := item.Taxes.ICMS.Base.Mul(expected).Div(hundred)
	delta := item.Taxes.ICMS.Amount.Sub(expectedValue)

	name := rule.Name
	if name == "" {
		name = "ICMS padrao"
	}

	return &domain.ValidationError{
		Code:            v.state + "_ICMS_001",
		Field:           fmt.Sprintf("item[%d].impostos.icms_aliquota", item.Number),
		Message:         fmt.Sprintf("Aliquota ICMS divergente da regra %s para NCM %s. Regra: %q", v.state, item.NCM, name),
		Severity:        domain.SeverityWarning,
		ExpectedValue:   expected.String() + "%",
		ActualValue:     actual.String() + "%",
		LegalReference:  rule.Citation(),
		LegalArticle:    rule.LegalArticle,
		ItemNumber:      item.Number,
		FinancialImpact: impact(delta),
	}
}

func (v *OverlayValidator) checkTaxSubstitution(item *domain.Item, rule domain.OverlayRule) *domain.ValidationError {
	if !rule.IsST || !item.Taxes.ICMSSTAmount.IsZero() {
		return nil
	}

	mva := "n/d"
	if rule.STMVA != nil {
		mva = rule.STMVA.String()
	}

	return &domain.ValidationError{
		Code:           v.state + "_ST_001",
		Field:          fmt.Sprintf("item[%d].impostos.icms_st_valor", item.Number),
		Message:        fmt.Sprintf("Item sujeito a Substituicao Tributaria em %s (NCM %s). MVA aplicavel: %s%%. Regra: %q", v.state, item.NCM, mva, rule.Name),
		Severity:       domain.SeverityWarning,
		ExpectedValue:  fmt.Sprintf("ICMS-ST calculado com MVA %s%%", mva),
		ActualValue:    "Nao informado",
		LegalReference: rule.Citation(),
		LegalArticle:   rule.LegalArticle,
		ItemNumber:     item.Number,
	}
}

func (v *OverlayValidator) checkBenefit(item *domain.Item, rule domain.OverlayRule) *domain.ValidationError {
	if item.Taxes.ICMS.Base.IsZero() {
		return nil
	}

	var benefit string
	switch {
	case rule.Kind == domain.OverlayBaseReduction && rule.ReductionRate != nil:
		benefit = fmt.Sprintf("Reducao de %s%% na base de calculo do ICMS", rule.ReductionRate)
	case rule.Kind == domain.OverlayBaseReduction:
		benefit = "Reducao na base de calculo do ICMS"
	case rule.ReductionRate != nil:
		benefit = fmt.Sprintf("Credito presumido de %s%% sobre saidas", rule.ReductionRate)
	default:
		return nil
	}

	return &domain.ValidationError{
		Code:           v.state + "_BENEFICIO_001",
		Field:          fmt.Sprintf("item[%d].impostos.icms_base", item.Number),
		Message:        fmt.Sprintf("Beneficio fiscal disponivel para NCM %s em %s: %s. Regra: %q", item.NCM, v.state, benefit, rule.Name),
		Severity:       domain.SeverityInfo,
		ExpectedValue:  benefit,
		ActualValue:    "Verificar se foi aplicado",
		LegalReference: rule.Citation(),
		LegalArticle:   rule.LegalArticle,
		ItemNumber:     item.Number,
	}
}
