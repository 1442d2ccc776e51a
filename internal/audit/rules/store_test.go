package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/database"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/testutil"
)

var batchTime = time.Date(2023, 5, 15, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*rules.Store, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	log := logger.New("audit-service-test", "development")
	return rules.NewStore(database.Wrap(mockDB.DB, log), log), mockDB
}

func TestStore_Classification(t *testing.T) {
	store, mockDB := newStore(t)

	rows := testutil.MockRows(
		"ncm", "description", "category", "ipi_rate", "is_ipi_exempt",
		"pis_cofins_regime", "keywords", "product_type", "sector", "notes",
		"valid_from", "valid_until",
	).AddRow(
		"17019900", "Outros acucares de cana", "acucar", "5.0", false,
		"TRIBUTADO", `["acucar","cristal","refinado"]`, "acabado", "sucroenergetico", nil,
		nil, nil,
	)

	mockDB.ExpectQuery("FROM ncm_rules").
		WithArgs("17019900", batchTime).
		WillReturnRows(rows)

	rule, err := store.Classification(context.Background(), "17019900", batchTime)
	require.NoError(t, err)
	require.NotNil(t, rule)

	assert.Equal(t, "17019900", rule.NCM)
	assert.Equal(t, "acucar", rule.Category)
	assert.Equal(t, "5", rule.IPIRate.String())
	assert.Equal(t, []string{"acucar", "cristal", "refinado"}, rule.Keywords)

	mockDB.ExpectationsWereMet(t)
}

func TestStore_Classification_MissIsNotAnError(t *testing.T) {
	store, mockDB := newStore(t)

	mockDB.ExpectQuery("FROM ncm_rules").
		WithArgs("99999999", batchTime).
		WillReturnRows(testutil.MockRows("ncm"))

	rule, err := store.Classification(context.Background(), "99999999", batchTime)
	require.NoError(t, err)
	assert.Nil(t, rule)

	mockDB.ExpectationsWereMet(t)
}

func TestStore_TaxSituation(t *testing.T) {
	store, mockDB := newStore(t)

	rows := testutil.MockRows(
		"cst", "description", "situation_type",
		"pis_rate_standard", "cofins_rate_standard",
		"pis_rate_cumulative", "cofins_rate_cumulative",
		"requires_base_calculation", "allows_credit",
		"legal_reference", "legal_article", "notes",
		"valid_from", "valid_until",
	).AddRow(
		"01", "Operacao tributavel com aliquota basica", "TAXED",
		"1.65", "7.6", "0.65", "3.0",
		true, true,
		"LEI_10637_2002", "Art. 2", nil,
		nil, nil,
	)

	mockDB.ExpectQuery("FROM cst_rules").
		WithArgs("01", batchTime).
		WillReturnRows(rows)

	rule, err := store.TaxSituation(context.Background(), "01", batchTime)
	require.NoError(t, err)
	require.NotNil(t, rule)

	assert.Equal(t, domain.SituationTaxed, rule.SituationType)
	assert.Equal(t, "1.65", rule.PISRate.String())
	assert.Equal(t, "7.6", rule.COFINSRate.String())
	assert.True(t, rule.RequiresBase)
	assert.Equal(t, "LEI_10637_2002", rule.LegalReference)

	mockDB.ExpectationsWereMet(t)
}

func TestStore_ValidCSTs(t *testing.T) {
	store, mockDB := newStore(t)

	mockDB.ExpectQuery("SELECT cst FROM cst_rules").
		WillReturnRows(testutil.MockRows("cst").AddRow("01").AddRow("06").AddRow("08"))

	csts, err := store.ValidCSTs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "06", "08"}, csts)

	mockDB.ExpectationsWereMet(t)
}

func TestStore_Operation(t *testing.T) {
	store, mockDB := newStore(t)

	rows := testutil.MockRows(
		"cfop", "description", "operation_type", "operation_scope", "nature",
		"requires_icms", "requires_ipi", "exempt_pis_cofins", "common_for_sector",
		"legal_reference", "notes", "valid_from", "valid_until",
	).AddRow(
		"6101", "Venda de producao do estabelecimento", "VENDA", "INTERSTATE", nil,
		true, true, false, true,
		nil, nil, nil, nil,
	)

	mockDB.ExpectQuery("FROM cfop_rules").
		WithArgs("6101", batchTime).
		WillReturnRows(rows)

	rule, err := store.Operation(context.Background(), "6101", batchTime)
	require.NoError(t, err)
	require.NotNil(t, rule)

	assert.Equal(t, domain.ScopeInterstate, rule.Scope)
	assert.True(t, rule.AllowsInterstate())
	assert.True(t, rule.CommonForSector)

	mockDB.ExpectationsWereMet(t)
}

func TestStore_Overlays(t *testing.T) {
	store, mockDB := newStore(t)

	rows := testutil.MockRows(
		"state", "override_type", "ncm", "cfop", "rule_name", "rule_description",
		"icms_rate", "icms_reduction_rate", "is_st", "st_mva",
		"legal_reference", "legal_article", "decree_number", "severity", "notes",
		"valid_from", "valid_until",
	).AddRow(
		"SP", "ICMS", "17019900", nil, "Aliquota interna acucar", nil,
		"12.0", nil, false, nil,
		"RICMS_SP", "Art. 52", "45.490/2000", "Warning", nil,
		nil, nil,
	).AddRow(
		"SP", "TAX_SUBSTITUTION", nil, nil, "ST acucar varejo", nil,
		nil, nil, true, "40.0",
		"RICMS_SP", "Art. 313", nil, "Warning", nil,
		nil, nil,
	)

	mockDB.ExpectQuery("FROM state_overlays").
		WithArgs("SP", "17019900", batchTime).
		WillReturnRows(rows)

	overlays, err := store.Overlays(context.Background(), "SP", "17019900", batchTime)
	require.NoError(t, err)
	require.Len(t, overlays, 2)

	assert.Equal(t, domain.OverlayICMS, overlays[0].Kind)
	require.NotNil(t, overlays[0].ICMSRate)
	assert.Equal(t, "12", overlays[0].ICMSRate.String())
	assert.Nil(t, overlays[0].STMVA)

	assert.Equal(t, domain.OverlayTaxSubstitution, overlays[1].Kind)
	assert.True(t, overlays[1].IsST)
	require.NotNil(t, overlays[1].STMVA)
	assert.Equal(t, "40", overlays[1].STMVA.String())

	mockDB.ExpectationsWereMet(t)
}

func TestStore_LegalRef(t *testing.T) {
	store, mockDB := newStore(t)

	rows := testutil.MockRows(
		"code", "ref_type", "number", "year", "title",
		"summary", "issuing_body", "scope", "url", "relevant_articles",
	).AddRow(
		"LEI_10637_2002", "lei", "10.637", 2002, "contribuicao para o PIS/Pasep",
		"", "Uniao", "federal", "", "Art. 1, Art. 2",
	)

	mockDB.ExpectQuery("FROM legal_refs").
		WithArgs("LEI_10637_2002").
		WillReturnRows(rows)

	ref, err := store.LegalRef(context.Background(), "LEI_10637_2002")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "Lei 10.637/2002 - contribuicao para o PIS/Pasep", ref.Citation())

	mockDB.ExpectationsWereMet(t)
}

func TestStore_PingFailureIsStoreDown(t *testing.T) {
	store, mockDB := newStore(t)

	// Closing the pool makes every subsequent ping fail.
	require.NoError(t, mockDB.Close())

	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreDown))
}
