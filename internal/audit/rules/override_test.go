package rules_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

const overrideCSV = `ncm,descricao,pis_cst_saida,pis_aliquota_saida,cofins_cst_saida,cofins_aliquota_saida,pis_cst_entrada,pis_aliquota_entrada,cofins_cst_entrada,cofins_aliquota_entrada,cfop_saida_permitidos,cfop_entrada_permitidos,icms_sp_reducao_bc,icms_pe_credito_presumido,base_legal,observacoes
17019900,ACUCAR CRISTAL,01,"1,65",01,"7,6",50,"1,65",50,"7,6",5101|6101|7101,1101|2101,SIM,"3,5",Lei 10.637/2002,Acucar cristal de cana
17011400,ACUCAR BRUTO,06,,06,,,,,,5101|6101,,NAO,ISENTO,Lei 10.833/2003,
123,NCM INVALIDO,01,,01,,,,,,,,,,,
`

func writeOverrideFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadTable(t *testing.T, content string) *rules.OverrideTable {
	t.Helper()
	log := logger.New("audit-service-test", "development")
	table, err := rules.LoadOverrideTable(writeOverrideFile(t, content), log)
	require.NoError(t, err)
	return table
}

func TestLoadOverrideTable(t *testing.T) {
	table := loadTable(t, overrideCSV)
	snap := table.Snapshot()

	assert.Equal(t, 2, snap.Len(), "the malformed NCM row must be rejected")

	row := snap.Row("17019900")
	require.NotNil(t, row)
	assert.Equal(t, "ACUCAR CRISTAL", row.Description)
	assert.Equal(t, "01", row.OutboundPISCST)
	require.NotNil(t, row.OutboundPISRate)
	assert.Equal(t, "1.65", row.OutboundPISRate.String())
	assert.Equal(t, []string{"5101", "6101", "7101"}, row.OutboundCFOPs)
	assert.Equal(t, []string{"1101", "2101"}, row.InboundCFOPs)
	assert.True(t, row.SPBaseReduction)
	require.NotNil(t, row.PEPresumedCredit)
	assert.Equal(t, "3.5", row.PEPresumedCredit.String())
	assert.Equal(t, "Lei 10.637/2002", row.LegalReference)

	exempt := snap.Row("17011400")
	require.NotNil(t, exempt)
	assert.True(t, exempt.PEExempt)
	assert.Nil(t, exempt.PEPresumedCredit)
	assert.False(t, exempt.SPBaseReduction)
}

func TestLoadOverrideTable_MissingFileDisablesLayer(t *testing.T) {
	log := logger.New("audit-service-test", "development")

	table, err := rules.LoadOverrideTable(filepath.Join(t.TempDir(), "nope.csv"), log)
	require.NoError(t, err)
	assert.Equal(t, 0, table.Snapshot().Len())

	table, err = rules.LoadOverrideTable("", log)
	require.NoError(t, err)
	assert.Equal(t, 0, table.Snapshot().Len())
}

func TestOverrideSnapshot_TaxProfile(t *testing.T) {
	snap := loadTable(t, overrideCSV).Snapshot()

	out := snap.TaxProfile("17019900", domain.DirectionOutbound)
	require.NotNil(t, out)
	assert.Equal(t, "01", out.PISCST)
	assert.Equal(t, "01", out.COFINSCST)
	require.NotNil(t, out.COFINSRate)
	assert.Equal(t, "7.6", out.COFINSRate.String())
	assert.Equal(t, []string{"5101", "6101", "7101"}, out.PermittedCFOPs)

	in := snap.TaxProfile("17019900", domain.DirectionInbound)
	require.NotNil(t, in)
	assert.Equal(t, "50", in.PISCST)

	assert.Nil(t, snap.TaxProfile("17011400", domain.DirectionInbound),
		"row without inbound CSTs has no inbound profile")
	assert.Nil(t, snap.TaxProfile("99999999", domain.DirectionOutbound))
}

func TestOverrideSnapshot_Operation(t *testing.T) {
	snap := loadTable(t, overrideCSV).Snapshot()

	rule := snap.Operation("6101")
	require.NotNil(t, rule)
	assert.Equal(t, domain.ScopeInterstate, rule.Scope)

	inbound := snap.Operation("1101")
	require.NotNil(t, inbound)
	assert.Equal(t, domain.ScopeInternal, inbound.Scope)

	assert.Nil(t, snap.Operation("5102"))
	assert.Nil(t, snap.Operation(""))
}

func TestOverrideSnapshot_StateOverlays(t *testing.T) {
	snap := loadTable(t, overrideCSV).Snapshot()

	sp := snap.StateOverlays("SP", "17019900")
	require.Len(t, sp, 1)
	assert.Equal(t, domain.OverlayBaseReduction, sp[0].Kind)

	pe := snap.StateOverlays("PE", "17019900")
	require.Len(t, pe, 1)
	assert.Equal(t, domain.OverlayPresumedCredit, pe[0].Kind)
	require.NotNil(t, pe[0].ReductionRate)
	assert.Equal(t, "3.5", pe[0].ReductionRate.String())

	assert.Empty(t, snap.StateOverlays("SP", "17011400"))
	assert.Empty(t, snap.StateOverlays("MG", "17019900"))
}

func TestOverrideTable_SnapshotSurvivesReload(t *testing.T) {
	log := logger.New("audit-service-test", "development")
	path := writeOverrideFile(t, overrideCSV)

	table, err := rules.LoadOverrideTable(path, log)
	require.NoError(t, err)

	snap := table.Snapshot()
	require.Equal(t, 2, snap.Len())

	require.NoError(t, os.WriteFile(path, []byte("ncm,descricao\n"), 0o644))
	require.NoError(t, table.Reload())

	assert.Equal(t, 2, snap.Len(), "a held snapshot must not change under reload")
	assert.Equal(t, 0, table.Snapshot().Len())
}
