package report_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/report"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validatedDocument() *domain.Document {
	total := dec("100000")
	doc := &domain.Document{
		AccessKey:        "44230512345678901234567890123456789012345678",
		Number:           "000001",
		Series:           "1",
		IssuedAt:         time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC),
		Issuer:           domain.Party{CNPJ: "12345678000190", LegalName: "USINA ACUCAR LTDA", State: "SP"},
		Recipient:        domain.Party{CNPJ: "98765432000180", LegalName: "DISTRIBUIDORA ABC LTDA", State: "PE"},
		OriginState:      "SP",
		DestinationState: "PE",
		DocumentCFOP:     "6101",
		Status:           domain.StatusValid,
		Items: []domain.Item{{
			Number:      1,
			Description: "ACUCAR CRISTAL 50KG",
			NCM:         "17019900",
			CFOP:        "6101",
			Quantity:    dec("1000"),
			Unit:        "SC",
			UnitValue:   dec("100"),
			Total:       total,
			Taxes: domain.ItemTaxes{
				PIS:    domain.TaxDetail{CST: "01", Base: total, Rate: dec("1.65"), Amount: dec("1650")},
				COFINS: domain.TaxDetail{CST: "01", Base: total, Rate: dec("7.6"), Amount: dec("7600")},
			},
		}},
		Totals: domain.Totals{
			Products:   total,
			GrandTotal: total,
			PIS:        dec("1650"),
			COFINS:     dec("7600"),
			ICMS:       dec("12000"),
		},
	}
	return doc
}

func addFindings(doc *domain.Document) {
	impact1 := dec("1000")
	impact2 := dec("-50")

	doc.AddError(domain.ValidationError{
		Code:            "PIS_002",
		Field:           "pis_aliquota",
		Message:         "Aliquota PIS incorreta",
		Severity:        domain.SeverityCritical,
		ItemNumber:      1,
		FinancialImpact: &impact1,
		LegalReference:  "Lei 10.637/2002",
		LegalArticle:    "Art. 2",
	})
	doc.AddError(domain.ValidationError{
		Code:            "SP_ICMS_001",
		Field:           "icms_aliquota",
		Message:         "Aliquota ICMS divergente",
		Severity:        domain.SeverityWarning,
		ItemNumber:      1,
		FinancialImpact: &impact2,
		LegalReference:  "RICMS/SP",
	})
	doc.AddError(domain.ValidationError{
		Code:           "CLASS_003",
		Field:          "descricao",
		Message:        "Descricao pode nao corresponder ao NCM",
		Severity:       domain.SeverityWarning,
		ItemNumber:     1,
		LegalReference: "Lei 10.637/2002",
	})
}

func TestAggregator_Build(t *testing.T) {
	doc := validatedDocument()
	addFindings(doc)

	r := report.NewAggregator().Build(doc)

	assert.Equal(t, domain.ReportInvalid, r.Status)
	assert.Equal(t, 3, r.TotalErrors)
	assert.Equal(t, domain.SeverityCounts{Critical: 1, Warning: 2}, r.Counts)

	// 1000 + |-50|
	assert.Equal(t, "1050", r.TotalFinancialImpact.String())

	assert.Len(t, r.ErrorsByFamily["PIS"], 1)
	assert.Len(t, r.ErrorsByFamily["SP"], 1)
	assert.Len(t, r.ErrorsByFamily["CLASS"], 1)
	assert.Len(t, r.ItemErrors(1), 3)

	assert.Equal(t, report.Version, r.ValidatorVersion)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestAggregator_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		severity domain.Severity
		want     domain.ReportStatus
	}{
		{"critical finding", domain.SeverityCritical, domain.ReportInvalid},
		{"error finding", domain.SeverityError, domain.ReportInvalid},
		{"warning finding", domain.SeverityWarning, domain.ReportValidWithWarnings},
		{"info finding", domain.SeverityInfo, domain.ReportValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validatedDocument()
			doc.AddError(domain.ValidationError{Code: "CLASS_003", Severity: tt.severity})

			r := report.NewAggregator().Build(doc)
			assert.Equal(t, tt.want, r.Status)
		})
	}
}

func TestAggregator_CleanDocumentIsValid(t *testing.T) {
	r := report.NewAggregator().Build(validatedDocument())

	assert.Equal(t, domain.ReportValid, r.Status)
	assert.Zero(t, r.TotalErrors)
	assert.True(t, r.TotalFinancialImpact.IsZero())
	assert.Empty(t, r.Recommendations)
	assert.Empty(t, r.LegalReferences)
}

func TestAggregator_Recommendations(t *testing.T) {
	doc := validatedDocument()
	addFindings(doc)

	r := report.NewAggregator().Build(doc)
	joined := strings.Join(r.Recommendations, "\n")

	assert.Contains(t, joined, "CRITICOS")
	assert.Contains(t, joined, "R$ 1050.00")
	assert.Contains(t, joined, "Tabela NCM/TIPI")
	assert.Contains(t, joined, "Lei 10.833/2003 e Lei 10.637/2002")
}

func TestAggregator_LegalReferencesAreUnique(t *testing.T) {
	doc := validatedDocument()
	addFindings(doc)

	r := report.NewAggregator().Build(doc)
	require.Len(t, r.LegalReferences, 2)

	assert.Equal(t, "Lei 10.637/2002", r.LegalReferences[0].Reference)
	assert.Equal(t, 2, r.LegalReferences[0].Occurrences)
	assert.Equal(t, "RICMS/SP", r.LegalReferences[1].Reference)
	assert.Equal(t, 1, r.LegalReferences[1].Occurrences)
}

func TestBuildPayload(t *testing.T) {
	doc := validatedDocument()
	addFindings(doc)

	payload := report.BuildPayload(report.NewAggregator().Build(doc))

	assert.Equal(t, doc.AccessKey, payload.DocumentInfo.AccessKey)
	assert.Equal(t, "INTERESTADUAL", payload.DocumentInfo.Operation.Type)
	assert.Equal(t, domain.ReportInvalid, payload.ValidationSummary.Status)
	assert.Equal(t, "BRL", payload.ValidationSummary.FinancialImpact.Currency)
	assert.Equal(t, map[string]int{"PIS": 1, "SP": 1, "CLASS": 1}, payload.ErrorsByType)

	require.Len(t, payload.ItemsAnalysis, 1)
	assert.Equal(t, 3, payload.ItemsAnalysis[0].ErrorCount)
	assert.True(t, payload.ItemsAnalysis[0].IsSugar)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, key := range []string{"metadata", "document_info", "validation_summary", "errors", "errors_by_type", "items_analysis", "recommendations", "legal_references"} {
		assert.Contains(t, string(raw), `"`+key+`"`)
	}
}

func TestRenderMarkdown(t *testing.T) {
	doc := validatedDocument()
	addFindings(doc)

	md := report.RenderMarkdown(report.NewAggregator().Build(doc))

	assert.Contains(t, md, "# Relatorio de Auditoria Fiscal")
	assert.Contains(t, md, "12.345.678/0001-90")
	assert.Contains(t, md, "INTERESTADUAL (SP para PE)")
	assert.Contains(t, md, "### Status: INVALID")
	assert.Contains(t, md, "| CRITICO | 1 |")
	assert.Contains(t, md, "**Economia potencial:** R$ 1050.00")
	assert.Contains(t, md, "### ERROS CRITICOS")
	assert.Contains(t, md, "Aliquota PIS incorreta")
	assert.Contains(t, md, "**Base Legal:** Lei 10.637/2002 - Art. 2")
	assert.Contains(t, md, "### Item 1: ACUCAR CRISTAL 50KG")
	assert.Contains(t, md, "- **NCM:** 1701.99.00")
	assert.Contains(t, md, "3 problema(s) encontrado(s) neste item")
	assert.Contains(t, md, "## Recomendacoes")
	assert.Contains(t, md, "| **Valor Total da Nota** | **R$ 100000.00** |")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "12.345.678/0001-90", report.FormatCNPJ("12345678000190"))
	assert.Equal(t, "123", report.FormatCNPJ("123"))
	assert.Equal(t, "1701.99.00", report.FormatNCM("17019900"))
	assert.Equal(t, "1701", report.FormatNCM("1701"))
}
