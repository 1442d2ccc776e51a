// Package report aggregates a validated document's findings into the audit
// report and renders the JSON and Markdown deliverables.
package report

import (
	"fmt"
	"time"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// Version identifies the validator release stamped on every report.
const Version = "1.0.0"

// Aggregator folds a document's findings into a Report in one pass.
type Aggregator struct {
	version string
	now     func() time.Time
}

// NewAggregator creates an aggregator stamping the current Version.
func NewAggregator() *Aggregator {
	return &Aggregator{version: Version, now: time.Now}
}

// Build aggregates the findings of a validated document.
func (a *Aggregator) Build(doc *domain.Document) *domain.Report {
	var counts domain.SeverityCounts
	byFamily := make(map[string][]domain.ValidationError)
	byItem := make(map[int][]domain.ValidationError)

	for _, e := range doc.Errors {
		counts.Count(e.Severity)
		byFamily[e.Family()] = append(byFamily[e.Family()], e)
		if e.ItemNumber > 0 {
			byItem[e.ItemNumber] = append(byItem[e.ItemNumber], e)
		}
	}

	impact := doc.TotalFinancialImpact()

	r := &domain.Report{
		Document:             doc,
		Status:               counts.StatusFor(),
		TotalErrors:          counts.Total(),
		Counts:               counts,
		TotalFinancialImpact: impact,
		ErrorsByFamily:       byFamily,
		ErrorsByItem:         byItem,
		LegalReferences:      extractLegalReferences(doc.Errors),
		GeneratedAt:          a.now(),
		ValidatorVersion:     a.version,
	}
	r.Recommendations = recommendations(r)

	return r
}

// recommendations derives the plain-language action list from the aggregate.
func recommendations(r *domain.Report) []string {
	var recs []string

	if r.Counts.Critical > 0 {
		recs = append(recs, "Foram encontrados erros CRITICOS que podem resultar em autuacao fiscal. Recomendamos acao imediata.")
	}

	if r.TotalFinancialImpact.IsPositive() {
		recs = append(recs, fmt.Sprintf(
			"Impacto financeiro estimado: R$ %s. Considere solicitar retificacao da nota fiscal.",
			r.TotalFinancialImpact.StringFixed(2)))
	}

	if _, ok := r.ErrorsByFamily["CLASS"]; ok {
		recs = append(recs, "Encontrados erros de classificacao NCM. Verifique a Tabela NCM/TIPI atualizada.")
	}

	_, pis := r.ErrorsByFamily["PIS"]
	_, cofins := r.ErrorsByFamily["COFINS"]
	if pis || cofins {
		recs = append(recs, "Encontrados erros em PIS/COFINS. Consulte a legislacao federal (Lei 10.833/2003 e Lei 10.637/2002).")
	}

	return recs
}

// extractLegalReferences returns the unique references cited by the
// findings, in first-seen order, with occurrence counts.
func extractLegalReferences(errs []domain.ValidationError) []domain.LegalCitation {
	index := make(map[string]int)
	var refs []domain.LegalCitation

	for _, e := range errs {
		if e.LegalReference == "" {
			continue
		}
		if i, ok := index[e.LegalReference]; ok {
			refs[i].Occurrences++
			continue
		}
		index[e.LegalReference] = len(refs)
		refs = append(refs, domain.LegalCitation{
			Reference:   e.LegalReference,
			Article:     e.LegalArticle,
			Occurrences: 1,
		})
	}
	return refs
}
