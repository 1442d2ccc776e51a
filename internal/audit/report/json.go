package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// Payload is the structured JSON rendering of an audit report. Field layout
// is the contract consumed by the dashboard.
type Payload struct {
	Metadata          Metadata                 `json:"metadata"`
	DocumentInfo      DocumentInfo             `json:"document_info"`
	ValidationSummary Summary                  `json:"validation_summary"`
	Errors            []domain.ValidationError `json:"errors"`
	ErrorsByType      map[string]int           `json:"errors_by_type"`
	ItemsAnalysis     []ItemAnalysis           `json:"items_analysis"`
	Recommendations   []string                 `json:"recommendations"`
	LegalReferences   []domain.LegalCitation   `json:"legal_references"`
}

// Metadata stamps the report with version and generation time.
type Metadata struct {
	ReportVersion string    `json:"report_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Validator     string    `json:"validator"`
}

// DocumentInfo summarizes the audited document.
type DocumentInfo struct {
	AccessKey string    `json:"access_key"`
	Number    string    `json:"number"`
	Series    string    `json:"series"`
	IssuedAt  time.Time `json:"issued_at"`

	Issuer    PartyInfo `json:"issuer"`
	Recipient PartyInfo `json:"recipient"`

	Totals    TotalsInfo    `json:"totals"`
	Operation OperationInfo `json:"operation"`
}

// PartyInfo identifies an issuer or recipient.
type PartyInfo struct {
	CNPJ      string `json:"cnpj"`
	LegalName string `json:"legal_name"`
	State     string `json:"state"`
}

// TotalsInfo carries the declared document totals.
type TotalsInfo struct {
	Products   decimal.Decimal `json:"products"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	PIS        decimal.Decimal `json:"pis"`
	COFINS     decimal.Decimal `json:"cofins"`
}

// OperationInfo describes the operation the document records.
type OperationInfo struct {
	CFOP             string `json:"cfop"`
	Nature           string `json:"nature,omitempty"`
	Type             string `json:"type"`
	OriginState      string `json:"origin_state"`
	DestinationState string `json:"destination_state"`
}

// Summary is the verdict block of the payload.
type Summary struct {
	Status          domain.ReportStatus   `json:"status"`
	TotalErrors     int                   `json:"total_errors"`
	BySeverity      domain.SeverityCounts `json:"by_severity"`
	FinancialImpact FinancialImpact       `json:"financial_impact"`
}

// FinancialImpact is the potential saving block.
type FinancialImpact struct {
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// ItemAnalysis is the per-line summary of the payload.
type ItemAnalysis struct {
	Number      int             `json:"number"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Total       decimal.Decimal `json:"total"`
	ErrorCount  int             `json:"error_count"`
	IsSugar     bool            `json:"is_sugar"`
}

// BuildPayload renders a report into the JSON contract.
func BuildPayload(r *domain.Report) *Payload {
	doc := r.Document

	operationType := "INTERNA"
	if doc.IsInterstate() {
		operationType = "INTERESTADUAL"
	}

	byType := make(map[string]int, len(r.ErrorsByFamily))
	for family, errs := range r.ErrorsByFamily {
		byType[family] = len(errs)
	}

	items := make([]ItemAnalysis, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, ItemAnalysis{
			Number:      item.Number,
			Description: item.Description,
			NCM:         item.NCM,
			CFOP:        item.CFOP,
			Total:       item.Total,
			ErrorCount:  len(r.ItemErrors(item.Number)),
			IsSugar:     item.IsSugar(),
		})
	}

	return &Payload{
		Metadata: Metadata{
			ReportVersion: r.ValidatorVersion,
			GeneratedAt:   r.GeneratedAt,
			Validator:     "Fiscal Audit - Setor Sucroalcooleiro",
		},
		DocumentInfo: DocumentInfo{
			AccessKey: doc.AccessKey,
			Number:    doc.Number,
			Series:    doc.Series,
			IssuedAt:  doc.IssuedAt,
			Issuer: PartyInfo{
				CNPJ:      doc.Issuer.CNPJ,
				LegalName: doc.Issuer.LegalName,
				State:     doc.Issuer.State,
			},
			Recipient: PartyInfo{
				CNPJ:      doc.Recipient.CNPJ,
				LegalName: doc.Recipient.LegalName,
				State:     doc.Recipient.State,
			},
			Totals: TotalsInfo{
				Products:   doc.Totals.Products,
				GrandTotal: doc.Totals.GrandTotal,
				PIS:        doc.Totals.PIS,
				COFINS:     doc.Totals.COFINS,
			},
			Operation: OperationInfo{
				CFOP:             doc.DocumentCFOP,
				Nature:           doc.OperationNature,
				Type:             operationType,
				OriginState:      doc.OriginState,
				DestinationState: doc.DestinationState,
			},
		},
		ValidationSummary: Summary{
			Status:      r.Status,
			TotalErrors: r.TotalErrors,
			BySeverity:  r.Counts,
			FinancialImpact: FinancialImpact{
				Total:       r.TotalFinancialImpact,
				Currency:    "BRL",
				Description: "Economia potencial se erros forem corrigidos",
			},
		},
		Errors:          doc.Errors,
		ErrorsByType:    byType,
		ItemsAnalysis:   items,
		Recommendations: r.Recommendations,
		LegalReferences: r.LegalReferences,
	}
}
