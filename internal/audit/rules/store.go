package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/database"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// Store is the canonical rule repository backed by Postgres. A miss is
// (nil, nil); only infrastructure failures surface as errors.
type Store struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStore creates a store over the given database.
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithComponent("rule-store"),
	}
}

// Ping verifies the store is reachable. Called once per batch; failure aborts
// before any document is validated.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errors.StoreDown(err)
	}
	return nil
}

type classificationRow struct {
	NCM             string          `db:"ncm"`
	Description     string          `db:"description"`
	Category        sql.NullString  `db:"category"`
	IPIRate         decimal.Decimal `db:"ipi_rate"`
	IPIExempt       bool            `db:"is_ipi_exempt"`
	PISCOFINSRegime sql.NullString  `db:"pis_cofins_regime"`
	Keywords        sql.NullString  `db:"keywords"`
	ProductType     sql.NullString  `db:"product_type"`
	Sector          sql.NullString  `db:"sector"`
	Notes           sql.NullString  `db:"notes"`
	ValidFrom       *time.Time      `db:"valid_from"`
	ValidUntil      *time.Time      `db:"valid_until"`
}

// Classification looks up the NCM rule valid at the given instant.
func (s *Store) Classification(ctx context.Context, ncm string, at time.Time) (*domain.ClassificationRule, error) {
	query := `
		SELECT ncm, description, category, COALESCE(ipi_rate, 0) AS ipi_rate,
		       is_ipi_exempt, pis_cofins_regime, keywords, product_type, sector, notes,
		       valid_from, valid_until
		FROM ncm_rules
		WHERE ncm = $1
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until >= $2)
	`

	var row classificationRow
	err := s.db.GetContext(ctx, &row, query, ncm, at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("classification lookup for %s: %w", ncm, err)
	}

	rule := &domain.ClassificationRule{
		NCM:             row.NCM,
		Description:     row.Description,
		Category:        row.Category.String,
		IPIRate:         row.IPIRate,
		IPIExempt:       row.IPIExempt,
		PISCOFINSRegime: row.PISCOFINSRegime.String,
		ProductType:     row.ProductType.String,
		Sector:          row.Sector.String,
		Notes:           row.Notes.String,
		ValidFrom:       row.ValidFrom,
		ValidUntil:      row.ValidUntil,
	}

	// Keywords are stored as a JSON array; a malformed cell only disables
	// the description cross-check.
	if row.Keywords.Valid && row.Keywords.String != "" {
		if err := json.Unmarshal([]byte(row.Keywords.String), &rule.Keywords); err != nil {
			s.logger.Warn().Err(err).Str("ncm", ncm).Msg("unparseable keywords cell")
		}
	}

	return rule, nil
}

type taxSituationRow struct {
	CST                  string          `db:"cst"`
	Description          string          `db:"description"`
	SituationType        string          `db:"situation_type"`
	PISRate              decimal.Decimal `db:"pis_rate_standard"`
	COFINSRate           decimal.Decimal `db:"cofins_rate_standard"`
	PISRateCumulative    decimal.Decimal `db:"pis_rate_cumulative"`
	COFINSRateCumulative decimal.Decimal `db:"cofins_rate_cumulative"`
	RequiresBase         bool            `db:"requires_base_calculation"`
	AllowsCredit         bool            `db:"allows_credit"`
	LegalReference       sql.NullString  `db:"legal_reference"`
	LegalArticle         sql.NullString  `db:"legal_article"`
	Notes                sql.NullString  `db:"notes"`
	ValidFrom            *time.Time      `db:"valid_from"`
	ValidUntil           *time.Time      `db:"valid_until"`
}

// TaxSituation looks up the PIS/COFINS rule for a CST valid at the instant.
func (s *Store) TaxSituation(ctx context.Context, cst string, at time.Time) (*domain.TaxSituationRule, error) {
	query := `
		SELECT cst, description, situation_type,
		       COALESCE(pis_rate_standard, 0) AS pis_rate_standard,
		       COALESCE(cofins_rate_standard, 0) AS cofins_rate_standard,
		       COALESCE(pis_rate_cumulative, 0) AS pis_rate_cumulative,
		       COALESCE(cofins_rate_cumulative, 0) AS cofins_rate_cumulative,
		       requires_base_calculation, allows_credit,
		       legal_reference, legal_article, notes,
		       valid_from, valid_until
		FROM cst_rules
		WHERE cst = $1
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until >= $2)
	`

	var row taxSituationRow
	err := s.db.GetContext(ctx, &row, query, cst, at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tax situation lookup for %s: %w", cst, err)
	}

	return &domain.TaxSituationRule{
		CST:                  row.CST,
		Description:          row.Description,
		SituationType:        domain.SituationType(row.SituationType),
		PISRate:              row.PISRate,
		COFINSRate:           row.COFINSRate,
		PISRateCumulative:    row.PISRateCumulative,
		COFINSRateCumulative: row.COFINSRateCumulative,
		RequiresBase:         row.RequiresBase,
		AllowsCredit:         row.AllowsCredit,
		LegalReference:       row.LegalReference.String,
		LegalArticle:         row.LegalArticle.String,
		Notes:                row.Notes.String,
		ValidFrom:            row.ValidFrom,
		ValidUntil:           row.ValidUntil,
	}, nil
}

// ValidCSTs returns every CST the store knows.
func (s *Store) ValidCSTs(ctx context.Context) ([]string, error) {
	var csts []string
	err := s.db.SelectContext(ctx, &csts, `SELECT cst FROM cst_rules ORDER BY cst`)
	if err != nil {
		return nil, fmt.Errorf("valid CST listing: %w", err)
	}
	return csts, nil
}

type operationRow struct {
	CFOP            string         `db:"cfop"`
	Description     string         `db:"description"`
	OperationType   sql.NullString `db:"operation_type"`
	Scope           string         `db:"operation_scope"`
	Nature          sql.NullString `db:"nature"`
	RequiresICMS    bool           `db:"requires_icms"`
	RequiresIPI     bool           `db:"requires_ipi"`
	ExemptPISCOFINS bool           `db:"exempt_pis_cofins"`
	CommonForSector bool           `db:"common_for_sector"`
	LegalReference  sql.NullString `db:"legal_reference"`
	Notes           sql.NullString `db:"notes"`
	ValidFrom       *time.Time     `db:"valid_from"`
	ValidUntil      *time.Time     `db:"valid_until"`
}

// Operation looks up the CFOP rule valid at the instant.
func (s *Store) Operation(ctx context.Context, cfop string, at time.Time) (*domain.OperationRule, error) {
	query := `
		SELECT cfop, description, operation_type, operation_scope, nature,
		       requires_icms, requires_ipi, exempt_pis_cofins, common_for_sector,
		       legal_reference, notes, valid_from, valid_until
		FROM cfop_rules
		WHERE cfop = $1
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until >= $2)
	`

	var row operationRow
	err := s.db.GetContext(ctx, &row, query, cfop, at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("operation lookup for %s: %w", cfop, err)
	}

	return &domain.OperationRule{
		CFOP:            row.CFOP,
		Description:     row.Description,
		OperationType:   row.OperationType.String,
		Scope:           domain.OperationScope(row.Scope),
		Nature:          row.Nature.String,
		RequiresICMS:    row.RequiresICMS,
		RequiresIPI:     row.RequiresIPI,
		ExemptPISCOFINS: row.ExemptPISCOFINS,
		CommonForSector: row.CommonForSector,
		LegalReference:  row.LegalReference.String,
		Notes:           row.Notes.String,
		ValidFrom:       row.ValidFrom,
		ValidUntil:      row.ValidUntil,
	}, nil
}

type overlayRow struct {
	State          string              `db:"state"`
	Kind           string              `db:"override_type"`
	NCM            sql.NullString      `db:"ncm"`
	CFOP           sql.NullString      `db:"cfop"`
	Name           sql.NullString      `db:"rule_name"`
	Description    sql.NullString      `db:"rule_description"`
	ICMSRate       decimal.NullDecimal `db:"icms_rate"`
	ReductionRate  decimal.NullDecimal `db:"icms_reduction_rate"`
	IsST           bool                `db:"is_st"`
	STMVA          decimal.NullDecimal `db:"st_mva"`
	LegalReference sql.NullString      `db:"legal_reference"`
	LegalArticle   sql.NullString      `db:"legal_article"`
	DecreeNumber   sql.NullString      `db:"decree_number"`
	Severity       sql.NullString      `db:"severity"`
	Notes          sql.NullString      `db:"notes"`
	ValidFrom      *time.Time          `db:"valid_from"`
	ValidUntil     *time.Time          `db:"valid_until"`
}

// Overlays returns the state rules applying to the NCM (plus the state's
// catch-all rules with no NCM), valid at the instant.
func (s *Store) Overlays(ctx context.Context, state, ncm string, at time.Time) ([]domain.OverlayRule, error) {
	query := `
		SELECT state, override_type, ncm, cfop, rule_name, rule_description,
		       icms_rate, icms_reduction_rate, is_st, st_mva,
		       legal_reference, legal_article, decree_number, severity, notes,
		       valid_from, valid_until
		FROM state_overlays
		WHERE state = $1
		  AND (ncm = $2 OR ncm IS NULL)
		  AND (valid_from IS NULL OR valid_from <= $3)
		  AND (valid_until IS NULL OR valid_until >= $3)
		ORDER BY override_type
	`

	var rows []overlayRow
	if err := s.db.SelectContext(ctx, &rows, query, state, ncm, at); err != nil {
		return nil, fmt.Errorf("overlay lookup for %s/%s: %w", state, ncm, err)
	}

	overlays := make([]domain.OverlayRule, 0, len(rows))
	for _, row := range rows {
		o := domain.OverlayRule{
			State:          row.State,
			Kind:           domain.OverlayKind(row.Kind),
			NCM:            row.NCM.String,
			CFOP:           row.CFOP.String,
			Name:           row.Name.String,
			Description:    row.Description.String,
			IsST:           row.IsST,
			LegalReference: row.LegalReference.String,
			LegalArticle:   row.LegalArticle.String,
			DecreeNumber:   row.DecreeNumber.String,
			Severity:       domain.Severity(row.Severity.String),
			Notes:          row.Notes.String,
			ValidFrom:      row.ValidFrom,
			ValidUntil:     row.ValidUntil,
		}
		if row.ICMSRate.Valid {
			rate := row.ICMSRate.Decimal
			o.ICMSRate = &rate
		}
		if row.ReductionRate.Valid {
			rate := row.ReductionRate.Decimal
			o.ReductionRate = &rate
		}
		if row.STMVA.Valid {
			mva := row.STMVA.Decimal
			o.STMVA = &mva
		}
		overlays = append(overlays, o)
	}

	return overlays, nil
}

// LegalRef looks up a legal reference by its catalog code.
func (s *Store) LegalRef(ctx context.Context, code string) (*domain.LegalReference, error) {
	query := `
		SELECT code, ref_type, number, year, title,
		       COALESCE(summary, '') AS summary,
		       COALESCE(issuing_body, '') AS issuing_body,
		       COALESCE(scope, '') AS scope,
		       COALESCE(url, '') AS url,
		       COALESCE(relevant_articles, '') AS relevant_articles
		FROM legal_refs
		WHERE code = $1
	`

	var ref domain.LegalReference
	err := s.db.GetContext(ctx, &ref, query, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("legal reference lookup for %s: %w", code, err)
	}
	return &ref, nil
}
