package rules

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// OverrideRow is one line of the company-maintained override table. It is
// keyed by NCM and carries the expected tax treatment per operation
// direction.
type OverrideRow struct {
	NCM         string `validate:"required,len=8,numeric"`
	Description string

	OutboundPISCST     string `validate:"omitempty,len=2,numeric"`
	OutboundPISRate    *decimal.Decimal
	OutboundCOFINSCST  string `validate:"omitempty,len=2,numeric"`
	OutboundCOFINSRate *decimal.Decimal

	InboundPISCST     string `validate:"omitempty,len=2,numeric"`
	InboundPISRate    *decimal.Decimal
	InboundCOFINSCST  string `validate:"omitempty,len=2,numeric"`
	InboundCOFINSRate *decimal.Decimal

	OutboundCFOPs []string `validate:"dive,len=4,numeric"`
	InboundCFOPs  []string `validate:"dive,len=4,numeric"`

	SPBaseReduction  bool
	PEPresumedCredit *decimal.Decimal
	PEExempt         bool

	LegalReference string
	Notes          string
}

// OverrideTable holds the override rows in memory. Reload swaps the whole
// set; batches work on an immutable Snapshot so a reload mid-batch cannot
// change results.
type OverrideTable struct {
	mu       sync.RWMutex
	rows     map[string]*OverrideRow
	path     string
	logger   *logger.Logger
	validate *validator.Validate
}

// LoadOverrideTable reads the override CSV. A missing file disables the
// layer instead of failing: the table loads empty.
func LoadOverrideTable(path string, log *logger.Logger) (*OverrideTable, error) {
	t := &OverrideTable{
		rows:     make(map[string]*OverrideRow),
		path:     path,
		logger:   log.WithComponent("override-table"),
		validate: validator.New(),
	}

	if path == "" {
		t.logger.Info().Msg("no override table configured")
		return t, nil
	}

	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the CSV and swaps the in-memory rows.
func (t *OverrideTable) Reload() error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.logger.Warn().Str("path", t.path).Msg("override table not found, layer disabled")
			t.mu.Lock()
			t.rows = make(map[string]*OverrideRow)
			t.mu.Unlock()
			return nil
		}
		return fmt.Errorf("open override table: %w", err)
	}
	defer f.Close()

	rows, err := t.parse(f)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.rows = rows
	t.mu.Unlock()

	t.logger.Info().Int("rules", len(rows)).Str("path", t.path).Msg("override table loaded")
	return nil
}

func (t *OverrideTable) parse(r io.Reader) (map[string]*OverrideRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read override table: %w", err)
	}
	if len(records) == 0 {
		return map[string]*OverrideRow{}, nil
	}

	cols := make(map[string]int)
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	rows := make(map[string]*OverrideRow)
	for i, record := range records[1:] {
		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		ncm := get("ncm")
		if ncm == "" || strings.HasPrefix(ncm, "#") {
			continue
		}

		row := &OverrideRow{
			NCM:         ncm,
			Description: get("descricao"),

			OutboundPISCST:     get("pis_cst_saida"),
			OutboundPISRate:    parseRate(get("pis_aliquota_saida")),
			OutboundCOFINSCST:  get("cofins_cst_saida"),
			OutboundCOFINSRate: parseRate(get("cofins_aliquota_saida")),

			InboundPISCST:     get("pis_cst_entrada"),
			InboundPISRate:    parseRate(get("pis_aliquota_entrada")),
			InboundCOFINSCST:  get("cofins_cst_entrada"),
			InboundCOFINSRate: parseRate(get("cofins_aliquota_entrada")),

			OutboundCFOPs: splitCFOPs(get("cfop_saida_permitidos")),
			InboundCFOPs:  splitCFOPs(get("cfop_entrada_permitidos")),

			SPBaseReduction: strings.EqualFold(get("icms_sp_reducao_bc"), "SIM"),

			LegalReference: get("base_legal"),
			Notes:          get("observacoes"),
		}

		if credit := get("icms_pe_credito_presumido"); credit != "" {
			if strings.Contains(strings.ToUpper(credit), "ISENTO") {
				row.PEExempt = true
			} else if d := parseRate(credit); d != nil {
				row.PEPresumedCredit = d
			}
		}

		if err := t.validate.Struct(row); err != nil {
			t.logger.Warn().Err(err).Int("line", i+2).Str("ncm", ncm).Msg("override row rejected")
			continue
		}

		rows[ncm] = row
	}

	return rows, nil
}

func parseRate(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return nil
	}
	return &d
}

// splitCFOPs breaks the pipe-delimited permitted-CFOP cell.
func splitCFOPs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot returns an immutable view of the current rows for one batch.
func (t *OverrideTable) Snapshot() *OverrideSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make(map[string]*OverrideRow, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	return &OverrideSnapshot{rows: rows}
}

// OverrideSnapshot is the per-batch, read-only view of the override table.
type OverrideSnapshot struct {
	rows map[string]*OverrideRow
}

// Len returns the number of override rows.
func (s *OverrideSnapshot) Len() int {
	return len(s.rows)
}

// Row returns the override row for an NCM, or nil.
func (s *OverrideSnapshot) Row(ncm string) *OverrideRow {
	return s.rows[strings.TrimSpace(ncm)]
}

// Classification builds a classification rule from the override row, or nil.
// Override rows carry no keywords, so the description cross-check does not
// fire for them.
func (s *OverrideSnapshot) Classification(ncm string) *domain.ClassificationRule {
	row := s.Row(ncm)
	if row == nil {
		return nil
	}
	return &domain.ClassificationRule{
		NCM:         row.NCM,
		Description: row.Description,
		Notes:       row.Notes,
	}
}

// TaxProfile returns the expected PIS/COFINS treatment for an NCM and
// direction, or nil when the NCM has no override row or the row has no CSTs
// for that direction.
func (s *OverrideSnapshot) TaxProfile(ncm string, direction domain.OperationDirection) *domain.TaxProfile {
	row := s.Row(ncm)
	if row == nil {
		return nil
	}

	profile := &domain.TaxProfile{
		NCM:              row.NCM,
		Direction:        direction,
		SPBaseReduction:  row.SPBaseReduction,
		PEPresumedCredit: row.PEPresumedCredit,
		LegalReference:   row.LegalReference,
	}

	if direction == domain.DirectionInbound {
		profile.PISCST = row.InboundPISCST
		profile.PISRate = row.InboundPISRate
		profile.COFINSCST = row.InboundCOFINSCST
		profile.COFINSRate = row.InboundCOFINSRate
		profile.PermittedCFOPs = row.InboundCFOPs
	} else {
		profile.PISCST = row.OutboundPISCST
		profile.PISRate = row.OutboundPISRate
		profile.COFINSCST = row.OutboundCOFINSCST
		profile.COFINSRate = row.OutboundCOFINSRate
		profile.PermittedCFOPs = row.OutboundCFOPs
	}

	if profile.PISCST == "" && profile.COFINSCST == "" {
		return nil
	}
	return profile
}

// Operation builds an operation rule when the CFOP appears in some row's
// permitted list. Scope is derived from the first digit.
func (s *OverrideSnapshot) Operation(cfop string) *domain.OperationRule {
	cfop = strings.TrimSpace(cfop)
	if cfop == "" {
		return nil
	}

	outbound := strings.HasPrefix(cfop, "5") || strings.HasPrefix(cfop, "6") || strings.HasPrefix(cfop, "7")

	for _, row := range s.rows {
		permitted := row.InboundCFOPs
		if outbound {
			permitted = row.OutboundCFOPs
		}
		for _, c := range permitted {
			if c == cfop {
				return &domain.OperationRule{
					CFOP:           cfop,
					Description:    fmt.Sprintf("CFOP %s (override table)", cfop),
					Scope:          scopeForAnyCFOP(cfop),
					LegalReference: row.LegalReference,
				}
			}
		}
	}
	return nil
}

// scopeForAnyCFOP maps both inbound (1,2,3) and outbound (5,6,7) first
// digits to a scope.
func scopeForAnyCFOP(cfop string) domain.OperationScope {
	switch cfop[0] {
	case '1', '5':
		return domain.ScopeInternal
	case '2', '6':
		return domain.ScopeInterstate
	case '3', '7':
		return domain.ScopeForeign
	}
	return ""
}

// StateOverlays derives SP/PE overlay rules from an override row. They
// complement the store's overlays for states the table flags.
func (s *OverrideSnapshot) StateOverlays(state, ncm string) []domain.OverlayRule {
	row := s.Row(ncm)
	if row == nil {
		return nil
	}

	var out []domain.OverlayRule
	switch state {
	case "SP":
		if row.SPBaseReduction {
			out = append(out, domain.OverlayRule{
				State:          "SP",
				Kind:           domain.OverlayBaseReduction,
				NCM:            row.NCM,
				Name:           "Redução de base de cálculo ICMS",
				LegalReference: "RICMS/SP Anexo II Art.3 V",
			})
		}
	case "PE":
		if row.PEPresumedCredit != nil {
			out = append(out, domain.OverlayRule{
				State:          "PE",
				Kind:           domain.OverlayPresumedCredit,
				NCM:            row.NCM,
				Name:           fmt.Sprintf("Crédito presumido %s%% sobre saídas", row.PEPresumedCredit.String()),
				ReductionRate:  row.PEPresumedCredit,
				LegalReference: "Lei Estadual PE",
			})
		}
	}
	return out
}
