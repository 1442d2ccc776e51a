package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus is the verdict derived from a document's findings.
type ReportStatus string

const (
	ReportValid             ReportStatus = "VALID"
	ReportValidWithWarnings ReportStatus = "VALID_WITH_WARNINGS"
	ReportInvalid           ReportStatus = "INVALID"
)

// SeverityCounts is a histogram of findings per severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Error    int `json:"error"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// Total returns the number of findings across all severities.
func (c SeverityCounts) Total() int {
	return c.Critical + c.Error + c.Warning + c.Info
}

// Count increments the bucket for the given severity.
func (c *SeverityCounts) Count(sev Severity) {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeverityError:
		c.Error++
	case SeverityWarning:
		c.Warning++
	case SeverityInfo:
		c.Info++
	}
}

// StatusFor derives the report verdict from the histogram: any Critical or
// Error makes the document Invalid, Warnings alone degrade to
// ValidWithWarnings, Info findings do not affect the verdict.
func (c SeverityCounts) StatusFor() ReportStatus {
	switch {
	case c.Critical > 0 || c.Error > 0:
		return ReportInvalid
	case c.Warning > 0:
		return ReportValidWithWarnings
	default:
		return ReportValid
	}
}

// LegalCitation is one unique legal reference extracted from the findings,
// with how many findings cite it.
type LegalCitation struct {
	Reference   string `json:"reference"`
	Article     string `json:"article,omitempty"`
	Occurrences int    `json:"occurrences"`
}

// Report is the aggregated audit result for one document.
type Report struct {
	Document *Document `json:"-"`

	Status      ReportStatus   `json:"status"`
	TotalErrors int            `json:"total_errors"`
	Counts      SeverityCounts `json:"by_severity"`

	// TotalFinancialImpact is the potential saving if every finding with an
	// impact were corrected. Always non-negative.
	TotalFinancialImpact decimal.Decimal `json:"total_financial_impact"`

	ErrorsByFamily map[string][]ValidationError `json:"errors_by_family,omitempty"`
	ErrorsByItem   map[int][]ValidationError    `json:"errors_by_item,omitempty"`

	Recommendations []string        `json:"recommendations,omitempty"`
	LegalReferences []LegalCitation `json:"legal_references,omitempty"`

	GeneratedAt      time.Time `json:"generated_at"`
	ValidatorVersion string    `json:"validator_version"`
}

// ItemErrors returns the findings attached to the given item number.
func (r *Report) ItemErrors(itemNumber int) []ValidationError {
	return r.ErrorsByItem[itemNumber]
}

// BatchResult is the outcome of validating one uploaded batch.
type BatchResult struct {
	BatchID string `json:"batch_id"`

	Capability ParseCapability `json:"capability"`

	Reports     []*Report    `json:"reports"`
	ParseErrors []ParseError `json:"parse_errors,omitempty"`

	DocumentCount int `json:"document_count"`
	InvalidCount  int `json:"invalid_count"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ParseError records a row or document that could not be normalized. The
// batch continues without it.
type ParseError struct {
	AccessKey string `json:"access_key,omitempty"`
	Row       int    `json:"row,omitempty"`
	Message   string `json:"message"`
}

// ParseCapability reports which validation areas the uploaded columns can
// support. Missing columns disable areas instead of failing the batch.
type ParseCapability struct {
	Identification bool `json:"identification"`
	Parties        bool `json:"parties"`
	Classification bool `json:"classification"`
	OperationCode  bool `json:"operation_code"`
	TaxSituation   bool `json:"tax_situation"`
	Totals         bool `json:"totals"`
	ItemDetail     bool `json:"item_detail"`

	MissingColumns []string `json:"missing_columns,omitempty"`
}
