package validator

import (
	"context"
	"fmt"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// OperationValidator checks the item's CFOP: format, presence in the rule
// base and coherence with the document's internal/interstate scope.
type OperationValidator struct {
	resolver RuleResolver
}

// NewOperationValidator creates an operation-code validator.
func NewOperationValidator(resolver RuleResolver) *OperationValidator {
	return &OperationValidator{resolver: resolver}
}

// Validate returns the operation-code findings for one item.
func (v *OperationValidator) Validate(ctx context.Context, item *domain.Item, doc *domain.Document) ([]domain.ValidationError, error) {
	if !isFourDigits(item.CFOP) {
		return []domain.ValidationError{{
			Code:           "CFOP_001",
			Field:          "cfop",
			Message:        fmt.Sprintf("CFOP invalido: %s. Deve ter 4 digitos.", item.CFOP),
			Severity:       domain.SeverityCritical,
			ActualValue:    item.CFOP,
			ExpectedValue:  "4 digitos numericos",
			LegalReference: v.resolver.LegalCitation(ctx, "SINIEF_0705"),
			ItemNumber:     item.Number,
		}}, nil
	}

	record, err := v.resolver.Operation(ctx, item.CFOP)
	if err != nil {
		return nil, err
	}

	var errs []domain.ValidationError

	if record == nil {
		errs = append(errs, domain.ValidationError{
			Code:           "CFOP_002",
			Field:          "cfop",
			Message:        fmt.Sprintf("CFOP %s nao reconhecido para o setor sucroalcooleiro", item.CFOP),
			Severity:       domain.SeverityWarning,
			ActualValue:    item.CFOP,
			LegalReference: "Tabela CFOP - Ajuste SINIEF 07/05",
			ItemNumber:     item.Number,
			Suggestion:     "Verificar Tabela CFOP completa. Base focada em CFOPs comuns de acucar.",
		})
	}

	interstate := doc.IsInterstate()

	if record != nil {
		rule := record.Operation
		switch {
		case interstate && !rule.AllowsInterstate():
			errs = append(errs, scopeMismatch(item, doc, true, rule.LegalReference))
		case !interstate && rule.Scope != domain.ScopeInternal:
			errs = append(errs, scopeMismatch(item, doc, false, rule.LegalReference))
		}
		return errs, nil
	}

	// No rule resolved anywhere: fall back to the first digit.
	first := item.CFOP[0]
	switch {
	case interstate && first != '6' && first != '7':
		e := scopeMismatch(item, doc, true, "Tabela CFOP")
		e.ExpectedValue = "6xxx ou 7xxx"
		errs = append(errs, e)
	case !interstate && first != '5':
		e := scopeMismatch(item, doc, false, "Tabela CFOP")
		e.ExpectedValue = "5xxx"
		errs = append(errs, e)
	}

	return errs, nil
}

func scopeMismatch(item *domain.Item, doc *domain.Document, interstate bool, legalRef string) domain.ValidationError {
	if legalRef == "" {
		legalRef = "Tabela CFOP"
	}

	if interstate {
		suggested := "6" + item.CFOP[1:]
		return domain.ValidationError{
			Code:           "CFOP_003",
			Field:          "cfop",
			Message:        fmt.Sprintf("Operacao interestadual (%s para %s) com CFOP interno (%s)", doc.OriginState, doc.DestinationState, item.CFOP),
			Severity:       domain.SeverityCritical,
			ActualValue:    item.CFOP,
			ExpectedValue:  fmt.Sprintf("%s (interestadual)", suggested),
			LegalReference: legalRef,
			ItemNumber:     item.Number,
			Suggestion:     fmt.Sprintf("Use CFOP %s para operacao interestadual", suggested),
		}
	}

	suggested := "5" + item.CFOP[1:]
	return domain.ValidationError{
		Code:           "CFOP_004",
		Field:          "cfop",
		Message:        fmt.Sprintf("Operacao interna (%s) com CFOP interestadual (%s)", doc.OriginState, item.CFOP),
		Severity:       domain.SeverityCritical,
		ActualValue:    item.CFOP,
		ExpectedValue:  fmt.Sprintf("%s (interno)", suggested),
		LegalReference: legalRef,
		ItemNumber:     item.Number,
		Suggestion:     fmt.Sprintf("Use CFOP %s para operacao interna", suggested),
	}
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
