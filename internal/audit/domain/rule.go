package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind discriminates the payload of a RuleRecord.
type RuleKind string

const (
	RuleKindClassification RuleKind = "CLASSIFICATION"
	RuleKindTaxSituation   RuleKind = "TAX_SITUATION"
	RuleKindOperation      RuleKind = "OPERATION"
)

// RuleSource identifies the repository layer a record came from.
type RuleSource string

const (
	RuleSourceOverride RuleSource = "override"
	RuleSourceStore    RuleSource = "store"
	RuleSourceAdvisory RuleSource = "advisory"
)

// SituationType characterizes a PIS/COFINS tax situation.
type SituationType string

const (
	SituationTaxed       SituationType = "TAXED"
	SituationZeroRate    SituationType = "ZERO_RATE"
	SituationExempt      SituationType = "EXEMPT"
	SituationNoIncidence SituationType = "NO_INCIDENCE"
	SituationSuspended   SituationType = "SUSPENDED"
)

// ExemptsFromContribution reports whether the situation carries no PIS/COFINS
// charge, which is what foreign operations require.
func (s SituationType) ExemptsFromContribution() bool {
	return s == SituationZeroRate || s == SituationNoIncidence
}

// OperationScope is the geographic reach encoded in the first CFOP digit.
type OperationScope string

const (
	ScopeInternal   OperationScope = "INTERNAL"
	ScopeInterstate OperationScope = "INTERSTATE"
	ScopeForeign    OperationScope = "FOREIGN"
)

// ScopeForCFOP derives the operation scope from the first digit of an
// outbound CFOP. Unknown digits return an empty scope.
func ScopeForCFOP(cfop string) OperationScope {
	if cfop == "" {
		return ""
	}
	switch cfop[0] {
	case '5':
		return ScopeInternal
	case '6':
		return ScopeInterstate
	case '7':
		return ScopeForeign
	}
	return ""
}

// ClassificationRule describes an NCM entry in the canonical store.
type ClassificationRule struct {
	NCM         string `json:"ncm" db:"ncm"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category,omitempty" db:"category"`

	IPIRate   decimal.Decimal `json:"ipi_rate" db:"ipi_rate"`
	IPIExempt bool            `json:"is_ipi_exempt" db:"is_ipi_exempt"`

	PISCOFINSRegime string `json:"pis_cofins_regime,omitempty" db:"pis_cofins_regime"`

	// Keywords are matched against item descriptions to cross-check the
	// declared classification.
	Keywords []string `json:"keywords,omitempty" db:"-"`

	ProductType string `json:"product_type,omitempty" db:"product_type"`
	Sector      string `json:"sector,omitempty" db:"sector"`
	Notes       string `json:"notes,omitempty" db:"notes"`

	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

// MatchesDescription reports whether any rule keyword occurs in the given
// item description. An empty keyword list matches everything.
func (r *ClassificationRule) MatchesDescription(description string) bool {
	if len(r.Keywords) == 0 {
		return true
	}
	desc := strings.ToLower(description)
	for _, kw := range r.Keywords {
		if strings.Contains(desc, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// TaxSituationRule describes a PIS/COFINS CST entry.
type TaxSituationRule struct {
	CST           string        `json:"cst" db:"cst"`
	Description   string        `json:"description" db:"description"`
	SituationType SituationType `json:"situation_type" db:"situation_type"`

	PISRate              decimal.Decimal `json:"pis_rate_standard" db:"pis_rate_standard"`
	COFINSRate           decimal.Decimal `json:"cofins_rate_standard" db:"cofins_rate_standard"`
	PISRateCumulative    decimal.Decimal `json:"pis_rate_cumulative" db:"pis_rate_cumulative"`
	COFINSRateCumulative decimal.Decimal `json:"cofins_rate_cumulative" db:"cofins_rate_cumulative"`

	RequiresBase bool `json:"requires_base_calculation" db:"requires_base_calculation"`
	AllowsCredit bool `json:"allows_credit" db:"allows_credit"`

	LegalReference string `json:"legal_reference,omitempty" db:"legal_reference"`
	LegalArticle   string `json:"legal_article,omitempty" db:"legal_article"`
	Notes          string `json:"notes,omitempty" db:"notes"`

	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

// RateFor returns the standard rate of the given tax ("PIS" or "COFINS").
func (r *TaxSituationRule) RateFor(tax string) decimal.Decimal {
	if strings.EqualFold(tax, "PIS") {
		return r.PISRate
	}
	return r.COFINSRate
}

// OperationRule describes a CFOP entry.
type OperationRule struct {
	CFOP          string         `json:"cfop" db:"cfop"`
	Description   string         `json:"description" db:"description"`
	OperationType string         `json:"operation_type,omitempty" db:"operation_type"`
	Scope         OperationScope `json:"operation_scope" db:"operation_scope"`
	Nature        string         `json:"nature,omitempty" db:"nature"`

	RequiresICMS    bool `json:"requires_icms" db:"requires_icms"`
	RequiresIPI     bool `json:"requires_ipi" db:"requires_ipi"`
	ExemptPISCOFINS bool `json:"exempt_pis_cofins" db:"exempt_pis_cofins"`
	CommonForSector bool `json:"common_for_sector" db:"common_for_sector"`

	LegalReference string `json:"legal_reference,omitempty" db:"legal_reference"`
	Notes          string `json:"notes,omitempty" db:"notes"`

	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

// AllowsInterstate reports whether the rule's scope covers an interstate
// operation.
func (r *OperationRule) AllowsInterstate() bool {
	return r.Scope == ScopeInterstate || r.Scope == ScopeForeign
}

// RuleRecord is a tagged union over the three rule families. Exactly one of
// the payload pointers is set, matching Kind.
type RuleRecord struct {
	Kind   RuleKind   `json:"kind"`
	Source RuleSource `json:"source"`

	Classification *ClassificationRule `json:"classification,omitempty"`
	TaxSituation   *TaxSituationRule   `json:"tax_situation,omitempty"`
	Operation      *OperationRule      `json:"operation,omitempty"`
}

// NewClassificationRecord wraps a classification rule with its source layer.
func NewClassificationRecord(rule *ClassificationRule, source RuleSource) *RuleRecord {
	return &RuleRecord{Kind: RuleKindClassification, Source: source, Classification: rule}
}

// NewTaxSituationRecord wraps a tax-situation rule with its source layer.
func NewTaxSituationRecord(rule *TaxSituationRule, source RuleSource) *RuleRecord {
	return &RuleRecord{Kind: RuleKindTaxSituation, Source: source, TaxSituation: rule}
}

// NewOperationRecord wraps an operation rule with its source layer.
func NewOperationRecord(rule *OperationRule, source RuleSource) *RuleRecord {
	return &RuleRecord{Kind: RuleKindOperation, Source: source, Operation: rule}
}

// ValidAt reports whether the record's validity window contains the instant.
func (r *RuleRecord) ValidAt(at time.Time) bool {
	switch r.Kind {
	case RuleKindClassification:
		return withinValidity(r.Classification.ValidFrom, r.Classification.ValidUntil, at)
	case RuleKindTaxSituation:
		return withinValidity(r.TaxSituation.ValidFrom, r.TaxSituation.ValidUntil, at)
	case RuleKindOperation:
		return withinValidity(r.Operation.ValidFrom, r.Operation.ValidUntil, at)
	}
	return false
}

func withinValidity(from, until *time.Time, at time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if until != nil && at.After(*until) {
		return false
	}
	return true
}

// OverlayKind distinguishes the state overlay rule families.
type OverlayKind string

const (
	OverlayICMS            OverlayKind = "ICMS"
	OverlayTaxSubstitution OverlayKind = "TAX_SUBSTITUTION"
	OverlayBaseReduction   OverlayKind = "BASE_REDUCTION"
	OverlayPresumedCredit  OverlayKind = "PRESUMED_CREDIT"
)

// OverlayRule is a state-level addition on top of the federal rules. SP and
// PE are the supported states.
type OverlayRule struct {
	State string      `json:"state" db:"state"`
	Kind  OverlayKind `json:"kind" db:"override_type"`
	NCM   string      `json:"ncm,omitempty" db:"ncm"`
	CFOP  string      `json:"cfop,omitempty" db:"cfop"`

	Name        string `json:"rule_name" db:"rule_name"`
	Description string `json:"rule_description,omitempty" db:"rule_description"`

	ICMSRate      *decimal.Decimal `json:"icms_rate,omitempty" db:"icms_rate"`
	ReductionRate *decimal.Decimal `json:"icms_reduction_rate,omitempty" db:"icms_reduction_rate"`
	IsST          bool             `json:"is_st" db:"is_st"`
	STMVA         *decimal.Decimal `json:"st_mva,omitempty" db:"st_mva"`

	LegalReference string   `json:"legal_reference,omitempty" db:"legal_reference"`
	LegalArticle   string   `json:"legal_article,omitempty" db:"legal_article"`
	DecreeNumber   string   `json:"decree_number,omitempty" db:"decree_number"`
	Severity       Severity `json:"severity,omitempty" db:"severity"`
	Notes          string   `json:"notes,omitempty" db:"notes"`

	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

// ValidAt reports whether the overlay's validity window contains the instant.
func (o *OverlayRule) ValidAt(at time.Time) bool {
	return withinValidity(o.ValidFrom, o.ValidUntil, at)
}

// Citation formats the overlay's legal reference, appending the decree number
// when one exists.
func (o *OverlayRule) Citation() string {
	ref := o.LegalReference
	if o.DecreeNumber != "" {
		ref = fmt.Sprintf("%s - Decreto %s", ref, o.DecreeNumber)
	}
	return ref
}

// LegalReference is a catalog entry for a law, decree or normative
// instruction cited by findings.
type LegalReference struct {
	Code        string `json:"code" db:"code"`
	RefType     string `json:"ref_type" db:"ref_type"`
	Number      string `json:"number" db:"number"`
	Year        int    `json:"year" db:"year"`
	Title       string `json:"title" db:"title"`
	Summary     string `json:"summary,omitempty" db:"summary"`
	IssuingBody string `json:"issuing_body,omitempty" db:"issuing_body"`
	Scope       string `json:"scope,omitempty" db:"scope"`
	URL         string `json:"url,omitempty" db:"url"`
	Articles    string `json:"relevant_articles,omitempty" db:"relevant_articles"`
}

// Citation formats the reference as "Lei 10.637/2002 - <title>".
func (l *LegalReference) Citation() string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(l.RefType), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return fmt.Sprintf("%s %s/%d - %s", strings.Join(words, " "), l.Number, l.Year, l.Title)
}

// TaxProfile is the PIS/COFINS expectation an override-table entry carries
// for one NCM and operation direction.
type TaxProfile struct {
	NCM       string             `json:"ncm"`
	Direction OperationDirection `json:"direction"`

	PISCST     string           `json:"pis_cst"`
	PISRate    *decimal.Decimal `json:"pis_rate,omitempty"`
	COFINSCST  string           `json:"cofins_cst"`
	COFINSRate *decimal.Decimal `json:"cofins_rate,omitempty"`

	PermittedCFOPs []string `json:"permitted_cfops,omitempty"`

	SPBaseReduction  bool             `json:"sp_base_reduction"`
	PEPresumedCredit *decimal.Decimal `json:"pe_presumed_credit,omitempty"`

	LegalReference string `json:"legal_reference,omitempty"`
}

// PermitsCFOP reports whether the profile's permitted-CFOP list contains the
// code. An empty list means no restriction was recorded.
func (p *TaxProfile) PermitsCFOP(cfop string) bool {
	if len(p.PermittedCFOPs) == 0 {
		return true
	}
	for _, c := range p.PermittedCFOPs {
		if c == cfop {
			return true
		}
	}
	return false
}
