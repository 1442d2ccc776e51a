package normalizer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// Parser turns a raw delimited upload into typed documents. Rows sharing an
// access key become one document with one item per row.
type Parser struct {
	logger *logger.Logger
	now    func() time.Time
}

// New creates a parser.
func New(log *logger.Logger) *Parser {
	return &Parser{
		logger: log.WithComponent("normalizer"),
		now:    time.Now,
	}
}

// Output is the result of normalizing one upload.
type Output struct {
	Documents   []*domain.Document
	Capability  domain.ParseCapability
	ParseErrors []domain.ParseError
}

// Parse reads the upload, maps its columns and assembles documents. Rows that
// cannot be assembled are recorded in ParseErrors and skipped; zero parsed
// documents is an error.
func (p *Parser) Parse(r io.Reader) (*Output, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.BadRequest(fmt.Sprintf("malformed CSV: %v", err))
	}
	if len(records) < 2 {
		return nil, errors.EmptyBatch("upload has no data rows")
	}

	mapping, missing := MapColumns(records[0])
	if !mapping.HasMinimumColumns() {
		return nil, errors.BadRequest(fmt.Sprintf(
			"cannot identify documents, missing columns: %s",
			strings.Join(mapping.MissingMinimum(), ", ")))
	}

	out := &Output{Capability: mapping.Capability(missing)}

	// Group rows by access key, keeping first-seen order.
	groups := make(map[string][]rowRef)
	var order []string
	for i, record := range records[1:] {
		key := strings.TrimSpace(cell(record, mapping, ColAccessKey))
		if key == "" {
			out.ParseErrors = append(out.ParseErrors, domain.ParseError{
				Row:     i + 2,
				Message: "row has no access key",
			})
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rowRef{number: i + 2, record: record})
	}

	for _, key := range order {
		doc, err := p.buildDocument(key, groups[key], mapping)
		if err != nil {
			p.logger.Warn().Err(err).Str("access_key", key).Msg("document skipped")
			out.ParseErrors = append(out.ParseErrors, domain.ParseError{
				AccessKey: key,
				Row:       groups[key][0].number,
				Message:   err.Error(),
			})
			continue
		}
		out.Documents = append(out.Documents, doc)
	}

	if len(out.Documents) == 0 {
		return nil, errors.EmptyBatch("no document could be parsed from the upload")
	}

	p.logger.Info().
		Int("documents", len(out.Documents)).
		Int("parse_errors", len(out.ParseErrors)).
		Msg("upload normalized")

	return out, nil
}

type rowRef struct {
	number int
	record []string
}

func cell(record []string, mapping ColumnMapping, col string) string {
	idx, ok := mapping[col]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (p *Parser) buildDocument(key string, rows []rowRef, mapping ColumnMapping) (*domain.Document, error) {
	first := rows[0].record

	number := cell(first, mapping, ColDocumentNumber)
	if number == "" {
		return nil, fmt.Errorf("document %s has no number", key)
	}

	issuerCNPJ, issuerPadded := CanonicalCNPJ(cell(first, mapping, ColIssuerCNPJ))
	recipientCNPJ, recipientPadded := CanonicalCNPJ(cell(first, mapping, ColRecipientCNPJ))
	if issuerCNPJ == "" || recipientCNPJ == "" {
		return nil, fmt.Errorf("document %s is missing a party CNPJ", key)
	}

	doc := &domain.Document{
		AccessKey: key,
		Number:    number,
		Series:    cell(first, mapping, ColSeries),
		Issuer: domain.Party{
			CNPJ:      issuerCNPJ,
			LegalName: cell(first, mapping, ColIssuerName),
			State:     strings.ToUpper(cell(first, mapping, ColIssuerState)),
		},
		Recipient: domain.Party{
			CNPJ:      recipientCNPJ,
			LegalName: cell(first, mapping, ColRecipientName),
			State:     strings.ToUpper(cell(first, mapping, ColRecipientState)),
		},
		OperationNature: cell(first, mapping, ColOperationNature),
		Status:          domain.StatusPending,
	}
	doc.OriginState = doc.Issuer.State
	doc.DestinationState = doc.Recipient.State

	issuedAt, ok := ParseDate(cell(first, mapping, ColIssuedAt))
	if !ok {
		issuedAt = p.now()
		doc.AddError(domain.ValidationError{
			Code:        "PARSE_002",
			Field:       "issued_at",
			Message:     fmt.Sprintf("unparseable issue date %q, substituted batch time", cell(first, mapping, ColIssuedAt)),
			Severity:    domain.SeverityWarning,
			ActualValue: cell(first, mapping, ColIssuedAt),
		})
	}
	doc.IssuedAt = issuedAt

	if issuerPadded {
		doc.AddError(paddedCNPJError("issuer_cnpj", issuerCNPJ))
	}
	if recipientPadded {
		doc.AddError(paddedCNPJError("recipient_cnpj", recipientCNPJ))
	}

	for i, row := range rows {
		item := p.buildItem(row.record, mapping, i+1)
		doc.Items = append(doc.Items, item)
		doc.SourceRows = append(doc.SourceRows, rawRow(row.record, mapping))
	}

	doc.Totals = deriveTotals(doc.Items)
	doc.DocumentCFOP = doc.Items[0].CFOP
	doc.Direction = directionForCFOP(doc.DocumentCFOP)

	return doc, nil
}

func paddedCNPJError(field, value string) domain.ValidationError {
	return domain.ValidationError{
		Code:           "PARSE_003",
		Field:          field,
		Message:        fmt.Sprintf("CNPJ shorter than 14 digits was zero-padded to %s", value),
		Severity:       domain.SeverityWarning,
		CorrectedValue: value,
	}
}

func (p *Parser) buildItem(record []string, mapping ColumnMapping, seq int) domain.Item {
	itemNumber := seq
	if v := cell(record, mapping, ColItemNumber); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			itemNumber = n
		}
	}

	total := CanonicalDecimal(cell(record, mapping, ColTotalValue))

	pisBase := CanonicalDecimal(cell(record, mapping, ColPISBase))
	if pisBase.IsZero() {
		pisBase = total
	}
	cofinsBase := CanonicalDecimal(cell(record, mapping, ColCOFINSBase))
	if cofinsBase.IsZero() {
		cofinsBase = total
	}

	return domain.Item{
		Number:      itemNumber,
		ProductCode: cell(record, mapping, ColProductCode),
		Description: cell(record, mapping, ColDescription),
		NCM:         CanonicalNCM(cell(record, mapping, ColNCM)),
		CFOP:        CanonicalCFOP(cell(record, mapping, ColCFOP)),
		Unit:        cell(record, mapping, ColUnit),
		Quantity:    CanonicalDecimal(cell(record, mapping, ColQuantity)),
		UnitValue:   CanonicalDecimal(cell(record, mapping, ColUnitValue)),
		Total:       total,
		Discount:    CanonicalDecimal(cell(record, mapping, ColDiscount)),
		Freight:     CanonicalDecimal(cell(record, mapping, ColFreight)),
		Taxes: domain.ItemTaxes{
			PIS: domain.TaxDetail{
				CST:    cell(record, mapping, ColPISCST),
				Base:   pisBase,
				Rate:   CanonicalDecimal(cell(record, mapping, ColPISRate)),
				Amount: CanonicalDecimal(cell(record, mapping, ColPISValue)),
			},
			COFINS: domain.TaxDetail{
				CST:    cell(record, mapping, ColCOFINSCST),
				Base:   cofinsBase,
				Rate:   CanonicalDecimal(cell(record, mapping, ColCOFINSRate)),
				Amount: CanonicalDecimal(cell(record, mapping, ColCOFINSVal)),
			},
			ICMS: domain.TaxDetail{
				CST:    cell(record, mapping, ColICMSCST),
				Base:   CanonicalDecimal(cell(record, mapping, ColICMSBase)),
				Rate:   CanonicalDecimal(cell(record, mapping, ColICMSRate)),
				Amount: CanonicalDecimal(cell(record, mapping, ColICMSValue)),
			},
		},
	}
}

// deriveTotals computes document totals from the item lines, the same way
// the upstream extraction sheets carry them.
func deriveTotals(items []domain.Item) domain.Totals {
	var t domain.Totals
	for _, item := range items {
		t.Products = t.Products.Add(item.Total)
		t.Discount = t.Discount.Add(item.Discount)
		t.Freight = t.Freight.Add(item.Freight)
		t.PIS = t.PIS.Add(item.Taxes.PIS.Amount)
		t.COFINS = t.COFINS.Add(item.Taxes.COFINS.Amount)
		t.ICMS = t.ICMS.Add(item.Taxes.ICMS.Amount)
		t.IPI = t.IPI.Add(item.Taxes.IPI.Amount)
	}
	t.ICMSBase = t.Products
	t.GrandTotal = t.Products.
		Add(t.Freight).
		Add(t.Insurance).
		Add(t.OtherExpenses).
		Sub(t.Discount)
	return t
}

func directionForCFOP(cfop string) domain.OperationDirection {
	if cfop != "" {
		switch cfop[0] {
		case '1', '2', '3':
			return domain.DirectionInbound
		}
	}
	return domain.DirectionOutbound
}

func rawRow(record []string, mapping ColumnMapping) map[string]string {
	out := make(map[string]string, len(mapping))
	for col, idx := range mapping {
		if idx < len(record) {
			out[col] = record[idx]
		}
	}
	return out
}
