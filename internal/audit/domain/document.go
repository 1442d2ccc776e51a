package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperationDirection tells whether a document records goods leaving or
// entering the audited company.
type OperationDirection string

const (
	DirectionOutbound OperationDirection = "OUTBOUND"
	DirectionInbound  OperationDirection = "INBOUND"
	DirectionReturn   OperationDirection = "RETURN"
)

// ValidationStatus is the lifecycle state of a document inside a batch.
type ValidationStatus string

const (
	StatusPending    ValidationStatus = "PENDING"
	StatusValidating ValidationStatus = "VALIDATING"
	StatusValid      ValidationStatus = "VALID"
	StatusInvalid    ValidationStatus = "INVALID"
	// StatusError marks documents that could not be validated because of an
	// infrastructure failure, not because of their content.
	StatusError ValidationStatus = "ERROR"
)

// Severity classifies a finding. The order is Info < Warning < Error < Critical.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// Rank returns the ordering position of the severity. Unknown severities rank
// below Info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Party is the issuer or recipient of a document.
type Party struct {
	CNPJ          string `json:"cnpj"`
	LegalName     string `json:"legal_name"`
	TradeName     string `json:"trade_name,omitempty"`
	StateTaxID    string `json:"state_tax_id,omitempty"`
	State         string `json:"state"`
	Municipality  string `json:"municipality,omitempty"`
	TaxRegimeCode string `json:"tax_regime_code,omitempty"`
}

// TaxDetail holds one tax over one item: situation code, base, rate and the
// declared amount.
type TaxDetail struct {
	CST    string          `json:"cst"`
	Base   decimal.Decimal `json:"base"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// ItemTaxes groups the taxes declared on an item. PIS and COFINS drive the
// federal validators; ICMS and IPI feed the state overlays.
type ItemTaxes struct {
	ICMS   TaxDetail `json:"icms"`
	IPI    TaxDetail `json:"ipi"`
	PIS    TaxDetail `json:"pis"`
	COFINS TaxDetail `json:"cofins"`

	// ICMSSTAmount is the declared tax-substitution value, when the item is
	// under the ST regime.
	ICMSSTAmount decimal.Decimal `json:"icms_st_amount"`
}

// Item is one product line of a document.
type Item struct {
	Number      int    `json:"number"`
	ProductCode string `json:"product_code"`
	Description string `json:"description"`

	NCM  string `json:"ncm"`
	CEST string `json:"cest,omitempty"`
	CFOP string `json:"cfop"`

	Unit      string          `json:"unit,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitValue decimal.Decimal `json:"unit_value"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
	Freight   decimal.Decimal `json:"freight"`

	Taxes ItemTaxes `json:"taxes"`

	Errors []ValidationError `json:"errors,omitempty"`
}

// IsSugar reports whether the item belongs to the cane/beet sugar NCM family.
func (i *Item) IsSugar() bool {
	return strings.HasPrefix(i.NCM, "1701")
}

// Totals carries the document-level declared totals.
type Totals struct {
	ICMSBase      decimal.Decimal `json:"icms_base"`
	ICMS          decimal.Decimal `json:"icms"`
	ICMSExempt    decimal.Decimal `json:"icms_exempt"`
	IPI           decimal.Decimal `json:"ipi"`
	PIS           decimal.Decimal `json:"pis"`
	COFINS        decimal.Decimal `json:"cofins"`
	Products      decimal.Decimal `json:"products"`
	Freight       decimal.Decimal `json:"freight"`
	Insurance     decimal.Decimal `json:"insurance"`
	Discount      decimal.Decimal `json:"discount"`
	OtherExpenses decimal.Decimal `json:"other_expenses"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// ValidationError is a single finding produced by a validator. Findings are
// data, not Go errors: a document with findings still flows through the rest
// of the chain.
type ValidationError struct {
	Code     string   `json:"code"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	ExpectedValue string `json:"expected_value,omitempty"`
	ActualValue   string `json:"actual_value,omitempty"`
	Suggestion    string `json:"suggestion,omitempty"`

	LegalReference string `json:"legal_reference,omitempty"`
	LegalArticle   string `json:"legal_article,omitempty"`

	FinancialImpact *decimal.Decimal `json:"financial_impact,omitempty"`

	ItemNumber int `json:"item_number,omitempty"`

	CanAutoCorrect bool   `json:"can_auto_correct"`
	CorrectedValue string `json:"corrected_value,omitempty"`
}

// Family returns the code-prefix family of the finding, e.g. "CFOP" for
// CFOP_003 and "PE" for PE_BENEFICIO_001.
func (e ValidationError) Family() string {
	if idx := strings.Index(e.Code, "_"); idx > 0 {
		return e.Code[:idx]
	}
	return e.Code
}

// Document is one fiscal document assembled from raw rows.
type Document struct {
	AccessKey string    `json:"access_key"`
	Number    string    `json:"number"`
	Series    string    `json:"series"`
	IssuedAt  time.Time `json:"issued_at"`

	Issuer    Party `json:"issuer"`
	Recipient Party `json:"recipient"`

	Items  []Item `json:"items"`
	Totals Totals `json:"totals"`

	Direction       OperationDirection `json:"direction"`
	OperationNature string             `json:"operation_nature,omitempty"`
	DocumentCFOP    string             `json:"document_cfop,omitempty"`

	Status      ValidationStatus  `json:"status"`
	Errors      []ValidationError `json:"errors,omitempty"`
	ValidatedAt *time.Time        `json:"validated_at,omitempty"`

	OriginState      string `json:"origin_state"`
	DestinationState string `json:"destination_state"`

	// SourceRows keeps the raw row values the document was built from, for
	// traceability in reports.
	SourceRows []map[string]string `json:"-"`
}

// AddError records a finding on the document. A Critical finding makes the
// document Invalid immediately.
func (d *Document) AddError(err ValidationError) {
	d.Errors = append(d.Errors, err)
	if err.Severity == SeverityCritical {
		d.Status = StatusInvalid
	}
}

// ErrorsBySeverity returns the findings with exactly the given severity.
func (d *Document) ErrorsBySeverity(sev Severity) []ValidationError {
	var out []ValidationError
	for _, e := range d.Errors {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// TotalFinancialImpact sums the absolute financial impact of every finding.
func (d *Document) TotalFinancialImpact() decimal.Decimal {
	total := decimal.Zero
	for _, e := range d.Errors {
		if e.FinancialImpact != nil {
			total = total.Add(e.FinancialImpact.Abs())
		}
	}
	return total
}

// SugarItems returns the items in the sugar NCM family.
func (d *Document) SugarItems() []Item {
	var out []Item
	for _, item := range d.Items {
		if item.IsSugar() {
			out = append(out, item)
		}
	}
	return out
}

// IsInterstate reports whether origin and destination states differ.
func (d *Document) IsInterstate() bool {
	return d.OriginState != d.DestinationState
}

// TouchesState reports whether the document originates in or is destined for
// the given state.
func (d *Document) TouchesState(uf string) bool {
	return d.OriginState == uf || d.DestinationState == uf
}
