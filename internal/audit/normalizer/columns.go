package normalizer

import (
	"regexp"
	"strings"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// Canonical column names the rest of the pipeline works with. Uploads arrive
// with headers in Portuguese, English, mixed case and varied punctuation; the
// mapper resolves them to these names.
const (
	ColAccessKey      = "access_key"
	ColDocumentNumber = "document_number"
	ColSeries         = "series"
	ColIssuedAt       = "issued_at"

	ColIssuerCNPJ  = "issuer_cnpj"
	ColIssuerName  = "issuer_name"
	ColIssuerState = "issuer_state"

	ColRecipientCNPJ  = "recipient_cnpj"
	ColRecipientName  = "recipient_name"
	ColRecipientState = "recipient_state"

	ColItemNumber  = "item_number"
	ColProductCode = "product_code"
	ColDescription = "description"
	ColNCM         = "ncm"
	ColCFOP        = "cfop"
	ColUnit        = "unit"
	ColQuantity    = "quantity"
	ColUnitValue   = "unit_value"
	ColTotalValue  = "total_value"

	ColPISCST     = "pis_cst"
	ColPISRate    = "pis_rate"
	ColPISValue   = "pis_value"
	ColPISBase    = "pis_base"
	ColCOFINSCST  = "cofins_cst"
	ColCOFINSRate = "cofins_rate"
	ColCOFINSVal  = "cofins_value"
	ColCOFINSBase = "cofins_base"

	ColICMSCST   = "icms_cst"
	ColICMSRate  = "icms_rate"
	ColICMSValue = "icms_value"
	ColICMSBase  = "icms_base"

	ColDiscount        = "discount"
	ColFreight         = "freight"
	ColOperationNature = "operation_nature"
)

// columnPatterns maps each canonical column to the header patterns that
// resolve to it. Patterns run against normalized header names, in order;
// the first match wins.
var columnPatterns = map[string][]*regexp.Regexp{
	ColAccessKey: compilePatterns(
		`chave.*acesso`, `chave.*nf`, `chave`, `access.*key`,
	),
	ColDocumentNumber: compilePatterns(
		`numero.*nf`, `num.*nf`, `numero$`, `nf.*number`,
	),
	ColSeries: compilePatterns(
		`serie`, `series`,
	),
	ColIssuedAt: compilePatterns(
		`data.*emissao`, `dt.*emiss`, `data.*nf`, `issue.*date`, `emissao`,
	),
	ColIssuerCNPJ: compilePatterns(
		`cnpj.*emit`, `cpf.*cnpj.*emit`, `emit.*cnpj`,
	),
	ColIssuerName: compilePatterns(
		`razao.*emit`, `nome.*emit`, `emit.*razao`, `razao.*social.*emit`,
	),
	ColIssuerState: compilePatterns(
		`uf.*emit`, `emit.*uf`, `estado.*emit`,
	),
	ColRecipientCNPJ: compilePatterns(
		`cnpj.*dest`, `cpf.*cnpj.*dest`, `dest.*cnpj`,
	),
	ColRecipientName: compilePatterns(
		`razao.*dest`, `nome.*dest`, `dest.*razao`, `razao.*social.*dest`,
	),
	ColRecipientState: compilePatterns(
		`uf.*dest`, `dest.*uf`, `estado.*dest`,
	),
	ColItemNumber: compilePatterns(
		`numero.*item`, `num.*item`, `item.*num`, `seq.*item`,
	),
	ColProductCode: compilePatterns(
		`cod.*prod`, `prod.*code`, `codigo.*produto`,
	),
	ColDescription: compilePatterns(
		`descricao`, `descricao.*prod`, `prod.*desc`, `description`,
	),
	ColNCM: compilePatterns(
		`^ncm$`, `ncm.*prod`, `cod.*ncm`,
	),
	ColCFOP: compilePatterns(
		`^cfop$`, `cod.*cfop`,
	),
	ColUnit: compilePatterns(
		`unid`, `un.*com`, `unit$`,
	),
	ColQuantity: compilePatterns(
		`qtd`, `quant`, `qty`,
	),
	ColUnitValue: compilePatterns(
		`v.*unit`, `valor.*unit`, `preco.*unit`, `unit.*price`,
	),
	ColTotalValue: compilePatterns(
		`v.*total.*item`, `valor.*total.*item`, `total.*item`, `valor.*total`,
	),
	ColPISCST: compilePatterns(
		`pis.*cst`, `cst.*pis`, `sit.*trib.*pis`,
	),
	ColPISRate: compilePatterns(
		`pis.*aliq`, `aliq.*pis`,
	),
	ColPISValue: compilePatterns(
		`pis.*val`, `val.*pis`, `v.*pis`,
	),
	ColPISBase: compilePatterns(
		`pis.*base`, `base.*pis`,
	),
	ColCOFINSCST: compilePatterns(
		`cofins.*cst`, `cst.*cofins`, `sit.*trib.*cofins`,
	),
	ColCOFINSRate: compilePatterns(
		`cofins.*aliq`, `aliq.*cofins`,
	),
	ColCOFINSVal: compilePatterns(
		`cofins.*val`, `val.*cofins`, `v.*cofins`,
	),
	ColCOFINSBase: compilePatterns(
		`cofins.*base`, `base.*cofins`,
	),
	ColICMSCST: compilePatterns(
		`icms.*cst`, `cst.*icms`, `sit.*trib.*icms`,
	),
	ColICMSRate: compilePatterns(
		`icms.*aliq`, `aliq.*icms`,
	),
	ColICMSValue: compilePatterns(
		`icms.*val`, `val.*icms`, `v.*icms`,
	),
	ColICMSBase: compilePatterns(
		`icms.*base`, `base.*icms`,
	),
	ColDiscount: compilePatterns(
		`desconto`, `discount`,
	),
	ColFreight: compilePatterns(
		`frete`, `freight`,
	),
	ColOperationNature: compilePatterns(
		`natureza.*opera`, `nat.*oper`, `tipo.*opera`,
	),
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// minimumColumns are the identity columns a batch cannot be processed
// without.
var minimumColumns = []string{
	ColAccessKey, ColDocumentNumber, ColIssuerCNPJ, ColRecipientCNPJ,
}

var accentReplacer = strings.NewReplacer(
	"ã", "a", "á", "a", "à", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

var (
	nonWordRe    = regexp.MustCompile(`[^a-z0-9_]+`)
	multiScoreRe = regexp.MustCompile(`_+`)
)

// NormalizeHeader lowercases a header, strips accents and collapses
// punctuation into underscores so pattern matching is insensitive to
// formatting.
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = accentReplacer.Replace(h)
	h = nonWordRe.ReplaceAllString(h, "_")
	h = multiScoreRe.ReplaceAllString(h, "_")
	return strings.Trim(h, "_")
}

// ColumnMapping maps canonical column names to the position of the matching
// header in the upload.
type ColumnMapping map[string]int

// Has reports whether every given canonical column was mapped.
func (m ColumnMapping) Has(cols ...string) bool {
	for _, c := range cols {
		if _, ok := m[c]; !ok {
			return false
		}
	}
	return true
}

// MapColumns resolves upload headers to canonical columns. It returns the
// mapping and the canonical columns that found no header.
func MapColumns(headers []string) (ColumnMapping, []string) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}

	mapping := make(ColumnMapping)
	var missing []string

	for target, patterns := range columnPatterns {
		idx := -1
	scan:
		for _, p := range patterns {
			for i, norm := range normalized {
				if p.MatchString(norm) {
					idx = i
					break scan
				}
			}
		}
		if idx >= 0 {
			mapping[target] = idx
		} else {
			missing = append(missing, target)
		}
	}

	return mapping, missing
}

// HasMinimumColumns reports whether the mapping covers the identity columns.
func (m ColumnMapping) HasMinimumColumns() bool {
	return m.Has(minimumColumns...)
}

// MissingMinimum returns the identity columns absent from the mapping.
func (m ColumnMapping) MissingMinimum() []string {
	var out []string
	for _, c := range minimumColumns {
		if _, ok := m[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Capability derives which validation areas the mapped columns can feed.
func (m ColumnMapping) Capability(missing []string) domain.ParseCapability {
	return domain.ParseCapability{
		Identification: m.Has(ColAccessKey, ColDocumentNumber),
		Parties:        m.Has(ColIssuerCNPJ, ColRecipientCNPJ),
		Classification: m.Has(ColNCM),
		OperationCode:  m.Has(ColCFOP),
		TaxSituation:   m.Has(ColPISCST, ColPISRate, ColCOFINSCST, ColCOFINSRate),
		Totals:         m.Has(ColTotalValue),
		ItemDetail:     m.Has(ColItemNumber, ColDescription, ColQuantity, ColUnitValue),
		MissingColumns: missing,
	}
}
