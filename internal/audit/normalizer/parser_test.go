package normalizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/normalizer"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

const sampleHeader = "chave_acesso,numero_nfe,serie,data_emissao," +
	"cnpj_emitente,razao_social_emitente,uf_emitente," +
	"cnpj_destinatario,razao_social_destinatario,uf_destinatario," +
	"numero_item,codigo_produto,descricao,ncm,cfop,unidade,quantidade,valor_unitario,valor_total," +
	"pis_cst,pis_aliquota,pis_valor,cofins_cst,cofins_aliquota,cofins_valor"

const accessKey = "44230512345678901234567890123456789012345678"

func sampleRow(itemNumber, description, ncm, total string) string {
	return strings.Join([]string{
		accessKey, "000001", "1", "2023-05-15",
		"12345678000190", "USINA ACUCAR LTDA", "SP",
		"98765432000180", "DISTRIBUIDORA ABC LTDA", "PE",
		itemNumber, "ACUCAR-CRISTAL-50KG", description, ncm, "6101", "SC", "1000", "85.50", total,
		"01", "1.65", "1410.75", "01", "7.60", "6498.00",
	}, ",")
}

func newParser(t *testing.T) *normalizer.Parser {
	t.Helper()
	log := logger.New("audit-service-test", "development")
	return normalizer.New(log)
}

func TestParser_GroupsRowsIntoOneDocument(t *testing.T) {
	csv := strings.Join([]string{
		sampleHeader,
		sampleRow("1", "ACUCAR CRISTAL 50KG", "17019900", "85500.00"),
		sampleRow("2", "ACUCAR REFINADO 25KG", "17011400", "42000.00"),
		sampleRow("3", "ACUCAR DEMERARA 50KG", "17011300", "10000.00"),
	}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)

	require.Len(t, out.Documents, 1)
	doc := out.Documents[0]

	assert.Equal(t, accessKey, doc.AccessKey, "access key must survive verbatim")
	assert.Len(t, doc.Items, 3)
	assert.Equal(t, "000001", doc.Number)
	assert.Equal(t, "SP", doc.OriginState)
	assert.Equal(t, "PE", doc.DestinationState)
	assert.Equal(t, domain.DirectionOutbound, doc.Direction)
	assert.Equal(t, "6101", doc.DocumentCFOP)
	assert.Empty(t, doc.Errors)

	assert.Equal(t, "137500", doc.Totals.Products.String())
	assert.Equal(t, "137500", doc.Totals.GrandTotal.String())
	assert.Equal(t, "4232.25", doc.Totals.PIS.String())
}

func TestParser_CapabilityReport(t *testing.T) {
	csv := strings.Join([]string{
		sampleHeader,
		sampleRow("1", "ACUCAR CRISTAL 50KG", "17019900", "85500.00"),
	}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)

	cap := out.Capability
	assert.True(t, cap.Identification)
	assert.True(t, cap.Parties)
	assert.True(t, cap.Classification)
	assert.True(t, cap.OperationCode)
	assert.True(t, cap.TaxSituation)
	assert.True(t, cap.Totals)
	assert.True(t, cap.ItemDetail)
	assert.Contains(t, cap.MissingColumns, "icms_cst")
}

func TestParser_MinimumColumnsRequired(t *testing.T) {
	csv := "descricao,ncm,valor_total\nACUCAR,17019900,100.00\n"

	_, err := newParser(t).Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
}

func TestParser_EmptyBatch(t *testing.T) {
	_, err := newParser(t).Parse(strings.NewReader(sampleHeader + "\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyBatch))
}

func TestParser_RowWithoutAccessKeyIsSkipped(t *testing.T) {
	badRow := strings.Replace(sampleRow("1", "ACUCAR", "17019900", "100.00"), accessKey, "", 1)
	csv := strings.Join([]string{
		sampleHeader,
		badRow,
		sampleRow("1", "ACUCAR CRISTAL 50KG", "17019900", "85500.00"),
	}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Len(t, out.Documents, 1)
	require.Len(t, out.ParseErrors, 1)
	assert.Equal(t, 2, out.ParseErrors[0].Row)
}

func TestParser_UnparseableDateFallsBackWithWarning(t *testing.T) {
	row := strings.Replace(sampleRow("1", "ACUCAR", "17019900", "100.00"), "2023-05-15", "sometime in may", 1)
	csv := strings.Join([]string{sampleHeader, row}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)

	doc := out.Documents[0]
	assert.False(t, doc.IssuedAt.IsZero(), "batch time must be substituted")

	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "PARSE_002", doc.Errors[0].Code)
	assert.Equal(t, domain.SeverityWarning, doc.Errors[0].Severity)
	assert.NotEqual(t, domain.StatusInvalid, doc.Status)
}

func TestParser_ShortCNPJIsPaddedWithWarning(t *testing.T) {
	row := strings.Replace(sampleRow("1", "ACUCAR", "17019900", "100.00"), "12345678000190", "345678000190", 1)
	csv := strings.Join([]string{sampleHeader, row}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)

	doc := out.Documents[0]
	assert.Equal(t, "00345678000190", doc.Issuer.CNPJ)

	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "PARSE_003", doc.Errors[0].Code)
	assert.Equal(t, domain.SeverityWarning, doc.Errors[0].Severity)
}

func TestParser_FuzzyHeaders(t *testing.T) {
	header := "Chave de Acesso,Número NF,Série,Data de Emissão," +
		"CNPJ Emitente,Razão Social Emitente,UF Emitente," +
		"CNPJ Destinatário,Razão Social Destinatário,UF Destinatário," +
		"Número Item,Código Produto,Descrição,NCM,CFOP,Unidade,Qtd,Valor Unitário,Valor Total Item," +
		"PIS CST,PIS Alíquota,PIS Valor,COFINS CST,COFINS Alíquota,COFINS Valor"

	csv := strings.Join([]string{
		header,
		sampleRow("1", "ACUCAR CRISTAL 50KG", "1701.99.00", `"85500,00"`),
	}, "\n")

	out, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)

	doc := out.Documents[0]
	assert.Equal(t, "17019900", doc.Items[0].NCM, "NCM must be canonicalized")
	assert.Equal(t, "85500", doc.Items[0].Total.String(), "decimal comma must be accepted")
}
