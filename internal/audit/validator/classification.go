package validator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// ClassificationValidator checks the item's NCM: format, presence in the
// rule base and coherence between description and classification.
type ClassificationValidator struct {
	resolver RuleResolver
}

// NewClassificationValidator creates a classification validator.
func NewClassificationValidator(resolver RuleResolver) *ClassificationValidator {
	return &ClassificationValidator{resolver: resolver}
}

// Validate returns the classification findings for one item. A malformed
// code is the only finding that stops further checks on the item.
func (v *ClassificationValidator) Validate(ctx context.Context, item *domain.Item, doc *domain.Document) ([]domain.ValidationError, error) {
	if !isEightDigits(item.NCM) {
		zero := decimal.Zero
		return []domain.ValidationError{{
			Code:            "CLASS_001",
			Field:           "ncm",
			Message:         fmt.Sprintf("NCM invalido: %s. Deve ter 8 digitos.", item.NCM),
			Severity:        domain.SeverityCritical,
			ActualValue:     item.NCM,
			ExpectedValue:   "8 digitos numericos",
			LegalReference:  v.resolver.LegalCitation(ctx, "IN_2121"),
			ItemNumber:      item.Number,
			FinancialImpact: &zero,
		}}, nil
	}

	record, err := v.resolver.Classification(ctx, item.NCM)
	if err != nil {
		return nil, err
	}

	if record == nil {
		if item.IsSugar() {
			return []domain.ValidationError{{
				Code:           "CLASS_004",
				Field:          "ncm",
				Message:        fmt.Sprintf("NCM %s de acucar nao reconhecido na base de regras", item.NCM),
				Severity:       domain.SeverityInfo,
				ActualValue:    item.NCM,
				LegalReference: v.resolver.LegalCitation(ctx, "TIPI_17"),
				ItemNumber:     item.Number,
				Suggestion:     "Validar com Tabela NCM completa ou consultar despachante aduaneiro",
			}}, nil
		}
		return []domain.ValidationError{{
			Code:           "CLASS_002",
			Field:          "ncm",
			Message:        fmt.Sprintf("NCM %s nao corresponde a acucar (esperado: 1701xxxx)", item.NCM),
			Severity:       domain.SeverityError,
			ActualValue:    item.NCM,
			ExpectedValue:  "1701xxxx (acucar)",
			LegalReference: "Tabela NCM/TIPI - Capitulo 17",
			ItemNumber:     item.Number,
			Suggestion:     "Verificar classificacao fiscal do produto. Validador focado em acucar.",
		}}, nil
	}

	rule := record.Classification
	if !rule.MatchesDescription(item.Description) {
		return []domain.ValidationError{{
			Code:           "CLASS_003",
			Field:          "descricao",
			Message:        fmt.Sprintf("Descricao %q pode nao corresponder ao NCM %s (%s)", item.Description, item.NCM, rule.Description),
			Severity:       domain.SeverityWarning,
			ActualValue:    item.Description,
			ExpectedValue:  rule.Description,
			LegalReference: "Tabela NCM/TIPI - Posicao 1701",
			ItemNumber:     item.Number,
			Suggestion:     fmt.Sprintf("Descricao esperada para NCM %s: %s", item.NCM, rule.Description),
		}}, nil
	}

	return nil, nil
}

func isEightDigits(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsMalformedCode reports whether the finding is the malformed-NCM one that
// halts the remaining item checks.
func IsMalformedCode(errs []domain.ValidationError) bool {
	for _, e := range errs {
		if e.Code == "CLASS_001" {
			return true
		}
	}
	return false
}
