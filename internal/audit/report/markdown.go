package report

import (
	"fmt"
	"strings"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/domain"
)

// severitySections orders the Markdown error sections from most to least
// severe.
var severitySections = []struct {
	severity domain.Severity
	label    string
	note     string
}{
	{domain.SeverityCritical, "ERROS CRITICOS", "Requer acao imediata"},
	{domain.SeverityError, "ERROS", "Requer correcao"},
	{domain.SeverityWarning, "AVISOS", "Verificacao recomendada"},
	{domain.SeverityInfo, "INFORMACOES", "Pontos de atencao"},
}

// RenderMarkdown renders a report as a human-readable Markdown narrative.
func RenderMarkdown(r *domain.Report) string {
	doc := r.Document
	var b strings.Builder

	b.WriteString("# Relatorio de Auditoria Fiscal\n\n")
	fmt.Fprintf(&b, "**Setor Sucroalcooleiro** | Versao %s | Gerado em %s\n\n",
		r.ValidatorVersion, r.GeneratedAt.Format("02/01/2006 15:04:05"))
	b.WriteString("---\n\n")

	b.WriteString("## Informacoes da NF-e\n\n")
	fmt.Fprintf(&b, "**Chave de Acesso:** `%s`  \n", doc.AccessKey)
	fmt.Fprintf(&b, "**Numero:** %s | **Serie:** %s  \n", doc.Number, doc.Series)
	fmt.Fprintf(&b, "**Data de Emissao:** %s\n\n", doc.IssuedAt.Format("02/01/2006"))

	writeParty(&b, "Emitente", doc.Issuer)
	writeParty(&b, "Destinatario", doc.Recipient)

	operationType := "INTERNA"
	if doc.IsInterstate() {
		operationType = "INTERESTADUAL"
	}
	b.WriteString("### Operacao\n\n")
	fmt.Fprintf(&b, "- **Tipo:** %s (%s para %s)\n", operationType, doc.OriginState, doc.DestinationState)
	fmt.Fprintf(&b, "- **CFOP:** %s\n", doc.DocumentCFOP)
	if doc.OperationNature != "" {
		fmt.Fprintf(&b, "- **Natureza:** %s\n", doc.OperationNature)
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Resumo da Validacao\n\n")
	fmt.Fprintf(&b, "### Status: %s\n\n", r.Status)
	fmt.Fprintf(&b, "**Total de problemas encontrados:** %d\n\n", r.TotalErrors)

	if r.TotalErrors > 0 {
		b.WriteString("| Severidade | Quantidade |\n")
		b.WriteString("|------------|------------|\n")
		fmt.Fprintf(&b, "| CRITICO | %d |\n", r.Counts.Critical)
		fmt.Fprintf(&b, "| ERRO | %d |\n", r.Counts.Error)
		fmt.Fprintf(&b, "| AVISO | %d |\n", r.Counts.Warning)
		fmt.Fprintf(&b, "| INFO | %d |\n\n", r.Counts.Info)
	}

	if r.TotalFinancialImpact.IsPositive() {
		b.WriteString("### Impacto Financeiro\n\n")
		fmt.Fprintf(&b, "**Economia potencial:** R$ %s\n\n", r.TotalFinancialImpact.StringFixed(2))
		b.WriteString("*Valor que pode ser economizado corrigindo os erros identificados.*\n\n")
	}

	b.WriteString("---\n\n")

	if len(doc.Errors) > 0 {
		b.WriteString("## Detalhamento dos Erros\n\n")
		for _, section := range severitySections {
			errs := doc.ErrorsBySeverity(section.severity)
			if len(errs) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n*%s*\n\n", section.label, section.note)
			for i, e := range errs {
				writeFinding(&b, i+1, e)
			}
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("## Analise por Item\n\n")
	for _, item := range doc.Items {
		writeItem(&b, r, item)
	}
	b.WriteString("---\n\n")

	if len(r.Recommendations) > 0 {
		b.WriteString("## Recomendacoes\n\n")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
		b.WriteString("\n---\n\n")
	}

	b.WriteString("## Totais da NF-e\n\n")
	b.WriteString("| Descricao | Valor |\n")
	b.WriteString("|-----------|------:|\n")
	fmt.Fprintf(&b, "| Valor dos Produtos | R$ %s |\n", doc.Totals.Products.StringFixed(2))
	fmt.Fprintf(&b, "| PIS | R$ %s |\n", doc.Totals.PIS.StringFixed(2))
	fmt.Fprintf(&b, "| COFINS | R$ %s |\n", doc.Totals.COFINS.StringFixed(2))
	fmt.Fprintf(&b, "| ICMS | R$ %s |\n", doc.Totals.ICMS.StringFixed(2))
	fmt.Fprintf(&b, "| **Valor Total da Nota** | **R$ %s** |\n\n", doc.Totals.GrandTotal.StringFixed(2))

	b.WriteString("---\n\n")
	b.WriteString("## Notas\n\n")
	b.WriteString("- Relatorio gerado automaticamente pelo servico de auditoria fiscal\n")
	b.WriteString("- Validacoes baseadas na legislacao federal vigente\n")
	b.WriteString("- Estados com regras especificas: **SP** e **PE**\n")
	fmt.Fprintf(&b, "- Versao do validador: `%s`\n", r.ValidatorVersion)

	return b.String()
}

func writeParty(b *strings.Builder, label string, p domain.Party) {
	fmt.Fprintf(b, "### %s\n\n", label)
	fmt.Fprintf(b, "- **CNPJ:** %s\n", FormatCNPJ(p.CNPJ))
	fmt.Fprintf(b, "- **Razao Social:** %s\n", p.LegalName)
	fmt.Fprintf(b, "- **UF:** %s\n\n", p.State)
}

func writeFinding(b *strings.Builder, n int, e domain.ValidationError) {
	fmt.Fprintf(b, "#### %d. %s\n\n", n, e.Message)
	fmt.Fprintf(b, "**Codigo:** `%s`  \n", e.Code)
	fmt.Fprintf(b, "**Campo:** `%s`  \n", e.Field)
	if e.ItemNumber > 0 {
		fmt.Fprintf(b, "**Item:** #%d  \n", e.ItemNumber)
	}
	if e.ActualValue != "" {
		fmt.Fprintf(b, "**Valor Atual:** `%s`  \n", e.ActualValue)
	}
	if e.ExpectedValue != "" {
		fmt.Fprintf(b, "**Valor Esperado:** `%s`  \n", e.ExpectedValue)
	}
	if e.FinancialImpact != nil && !e.FinancialImpact.IsZero() {
		fmt.Fprintf(b, "**Impacto:** R$ %s  \n", e.FinancialImpact.Abs().StringFixed(2))
	}
	if e.LegalReference != "" {
		fmt.Fprintf(b, "\n**Base Legal:** %s", e.LegalReference)
		if e.LegalArticle != "" {
			fmt.Fprintf(b, " - %s", e.LegalArticle)
		}
		b.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(b, "\n**Sugestao:** %s\n", e.Suggestion)
	}
	if e.CanAutoCorrect && e.CorrectedValue != "" {
		fmt.Fprintf(b, "\n**Correcao automatica disponivel:** `%s`\n", e.CorrectedValue)
	}
	b.WriteString("\n")
}

func writeItem(b *strings.Builder, r *domain.Report, item domain.Item) {
	fmt.Fprintf(b, "### Item %d: %s\n\n", item.Number, item.Description)
	if item.ProductCode != "" {
		fmt.Fprintf(b, "- **Codigo:** %s\n", item.ProductCode)
	}
	fmt.Fprintf(b, "- **NCM:** %s\n", FormatNCM(item.NCM))
	fmt.Fprintf(b, "- **CFOP:** %s\n", item.CFOP)
	fmt.Fprintf(b, "- **Quantidade:** %s %s\n", item.Quantity, item.Unit)
	fmt.Fprintf(b, "- **Valor Unitario:** R$ %s\n", item.UnitValue.StringFixed(2))
	fmt.Fprintf(b, "- **Valor Total:** R$ %s\n\n", item.Total.StringFixed(2))

	b.WriteString("**Tributacao:**\n\n")
	fmt.Fprintf(b, "- PIS: CST %s | %s%% | R$ %s\n",
		item.Taxes.PIS.CST, item.Taxes.PIS.Rate, item.Taxes.PIS.Amount.StringFixed(2))
	fmt.Fprintf(b, "- COFINS: CST %s | %s%% | R$ %s\n",
		item.Taxes.COFINS.CST, item.Taxes.COFINS.Rate, item.Taxes.COFINS.Amount.StringFixed(2))

	if n := len(r.ItemErrors(item.Number)); n > 0 {
		fmt.Fprintf(b, "\n**%d problema(s) encontrado(s) neste item**\n", n)
	}
	b.WriteString("\n")
}

// FormatCNPJ renders a 14-digit tax ID as 12.345.678/0001-90.
func FormatCNPJ(cnpj string) string {
	if len(cnpj) != 14 {
		return cnpj
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", cnpj[:2], cnpj[2:5], cnpj[5:8], cnpj[8:12], cnpj[12:])
}

// FormatNCM renders an 8-digit classification code as 1701.99.00.
func FormatNCM(ncm string) string {
	if len(ncm) != 8 {
		return ncm
	}
	return fmt.Sprintf("%s.%s.%s", ncm[:4], ncm[4:6], ncm[6:])
}
