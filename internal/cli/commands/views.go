package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/router"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// render prints the page a navigation landed on
func (e *Env) render(cmd *cobra.Command, match router.Match) error {
	a, err := e.app()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	c := a.Client

	if !match.Found {
		return fmt.Errorf("page not found: %s", match.Path)
	}

	if match.Route.RequiresAuth {
		if actingAs := a.Session.ActingAs(); actingAs != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "(acting as user %s)\n", actingAs)
		}
	}

	switch match.Route.Name {
	case "home":
		return homeView(out, a.Session.IsAuthenticated(), a.Routes.Routes())
	case "login":
		return loginView(cmd, e, match)
	case "registro":
		fmt.Fprintln(out, "Create an account with: financas register --email <email> --nome <nome>")
		return nil
	case "confirmar-convite":
		token := match.Query.Get("token")
		if token == "" {
			return fmt.Errorf("invite token is missing (expected ?token=...)")
		}
		return inviteInfoView(ctx, out, c, token)
	case "dashboard":
		return dashboardView(ctx, out, c, time.Now())
	case "contas":
		return contasView(ctx, out, c)
	case "fatura-cartao":
		id, err := parseID(match.Param("id"))
		if err != nil {
			return err
		}
		return faturaView(ctx, out, c, id)
	case "transacoes":
		skip, _ := strconv.Atoi(match.Query.Get("skip"))
		limit, _ := strconv.Atoi(match.Query.Get("limit"))
		return transacoesView(ctx, out, c, skip, limit)
	case "metas":
		return metasView(ctx, out, c)
	case "orcamentos":
		mes, ano := monthQuery(match, time.Time{})
		return orcamentosView(ctx, out, c, mes, ano)
	case "relatorios":
		mes, ano := monthQuery(match, time.Now())
		return relatoriosView(ctx, out, c, mes, ano)
	case "categorias":
		return categoriasView(ctx, out, c)
	case "delegacoes-convidar":
		fmt.Fprintln(out, "Invite someone with: financas delegacoes convidar <email> [--read-only]")
		fmt.Fprintln(out)
		return delegacoesView(ctx, out, c, true, false)
	case "delegacoes-convites":
		return delegacoesView(ctx, out, c, true, true)
	default:
		fmt.Fprintf(out, "%s is a form page and is not available in the terminal.\n", match.Path)
		return nil
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// monthQuery reads ?mes=&ano= and falls back to the month of def
func monthQuery(match router.Match, def time.Time) (int, int) {
	mes, _ := strconv.Atoi(match.Query.Get("mes"))
	ano, _ := strconv.Atoi(match.Query.Get("ano"))
	if !def.IsZero() {
		if mes == 0 {
			mes = int(def.Month())
		}
		if ano == 0 {
			ano = def.Year()
		}
	}
	return mes, ano
}

func money(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func homeView(out io.Writer, authenticated bool, routes []router.Route) error {
	fmt.Fprintln(out, "Finanças - personal finance manager")
	fmt.Fprintln(out)
	if authenticated {
		fmt.Fprintln(out, "Open your dashboard with: financas dashboard")
	} else {
		fmt.Fprintln(out, "Log in with: financas login")
		fmt.Fprintln(out, "No account yet? financas register")
	}
	fmt.Fprintln(out)

	w := newTable(out)
	fmt.Fprintln(w, "PAGE\tPATH\tLOGIN")
	fmt.Fprintln(w, "────\t────\t─────")
	for _, r := range routes {
		login := ""
		if r.RequiresAuth {
			login = "required"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Pattern, login)
	}
	return w.Flush()
}

func dashboardView(ctx context.Context, out io.Writer, c *client.Client, now time.Time) error {
	contas, err := c.ListContas(ctx)
	if err != nil {
		return err
	}
	orcamentos, err := c.ListOrcamentos(ctx, int(now.Month()), now.Year())
	if err != nil {
		return err
	}
	metas, err := c.ListMetas(ctx)
	if err != nil {
		return err
	}
	transacoes, err := c.ListTransacoes(ctx, 0, 5)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, conta := range contas {
		if conta.Ativa {
			total = total.Add(conta.Saldo)
		}
	}
	planejado, gasto := decimal.Zero, decimal.Zero
	for _, o := range orcamentos {
		planejado = planejado.Add(o.ValorPlanejado)
		gasto = gasto.Add(o.ValorGasto)
	}
	abertas := 0
	for _, m := range metas {
		if !m.Concluida {
			abertas++
		}
	}

	fmt.Fprintln(out, "Dashboard")
	fmt.Fprintln(out)
	w := newTable(out)
	fmt.Fprintf(w, "Saldo total\t%s\t(%d contas)\n", money(total), len(contas))
	fmt.Fprintf(w, "Orçamento %02d/%d\t%s de %s\t\n", int(now.Month()), now.Year(), money(gasto), money(planejado))
	fmt.Fprintf(w, "Metas em andamento\t%d\t\n", abertas)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(transacoes) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Últimas transações")
	return transacoesTable(out, transacoes)
}

func contasView(ctx context.Context, out io.Writer, c *client.Client) error {
	contas, err := c.ListContas(ctx)
	if err != nil {
		return err
	}
	if len(contas) == 0 {
		fmt.Fprintln(out, "No accounts found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tNOME\tTIPO\tSALDO\tLIMITE")
	fmt.Fprintln(w, "──\t────\t────\t─────\t──────")
	for _, conta := range contas {
		limite := ""
		if conta.LimiteCredito != nil {
			limite = money(*conta.LimiteCredito)
		}
		nome := conta.Nome
		if !conta.Ativa {
			nome += " (inativa)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", conta.ID, nome, conta.Tipo, money(conta.Saldo), limite)
	}
	return w.Flush()
}

func faturaView(ctx context.Context, out io.Writer, c *client.Client, contaID int64) error {
	fatura, err := c.GetFatura(ctx, contaID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Fatura %s: %s a %s (vencimento %s)\n\n", fatura.ContaNome, fatura.PeriodoInicio, fatura.PeriodoFim, fatura.DataVencimentoFatura)

	w := newTable(out)
	fmt.Fprintln(w, "DATA\tDESCRIÇÃO\tSTATUS\tVALOR")
	fmt.Fprintln(w, "────\t─────────\t──────\t─────")
	for _, item := range fatura.Itens {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Data, item.Descricao, item.StatusLiquidacao, money(item.ValorEfetivo))
	}
	fmt.Fprintf(w, "\tTotal (%d itens)\t\t%s\n", fatura.TotalItens, money(fatura.ValorTotal))
	return w.Flush()
}

func transacoesView(ctx context.Context, out io.Writer, c *client.Client, skip, limit int) error {
	transacoes, err := c.ListTransacoes(ctx, skip, limit)
	if err != nil {
		return err
	}
	if len(transacoes) == 0 {
		fmt.Fprintln(out, "No transactions found.")
		return nil
	}
	return transacoesTable(out, transacoes)
}

func transacoesTable(out io.Writer, transacoes []client.Transacao) error {
	w := newTable(out)
	fmt.Fprintln(w, "ID\tDATA\tDESCRIÇÃO\tTIPO\tVALOR\tPARCELA")
	fmt.Fprintln(w, "──\t────\t─────────\t────\t─────\t───────")
	for _, t := range transacoes {
		parcela := ""
		if t.Parcelado && t.TotalParcelas > 0 {
			parcela = fmt.Sprintf("%d/%d", t.ParcelaAtual, t.TotalParcelas)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Data, t.Descricao, t.Tipo, money(t.Valor), parcela)
	}
	return w.Flush()
}

func metasView(ctx context.Context, out io.Writer, c *client.Client) error {
	metas, err := c.ListMetas(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(out, "No goals found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tNOME\tATUAL\tALVO\tPROGRESSO")
	fmt.Fprintln(w, "──\t────\t─────\t────\t─────────")
	for _, m := range metas {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.Nome, money(m.ValorAtual), money(m.ValorAlvo), percent(m.ValorAtual, m.ValorAlvo))
	}
	return w.Flush()
}

// percent renders part/whole, or "-" when whole is zero
func percent(part, whole decimal.Decimal) string {
	if whole.IsZero() {
		return "-"
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
}

func orcamentosView(ctx context.Context, out io.Writer, c *client.Client, mes, ano int) error {
	orcamentos, err := c.ListOrcamentos(ctx, mes, ano)
	if err != nil {
		return err
	}
	if len(orcamentos) == 0 {
		fmt.Fprintln(out, "No budgets found.")
		return nil
	}
	nomes, err := categoriaNomes(ctx, c)
	if err != nil {
		return err
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tPERÍODO\tCATEGORIA\tGASTO\tPLANEJADO\tUSO")
	fmt.Fprintln(w, "──\t───────\t─────────\t─────\t─────────\t───")
	for _, o := range orcamentos {
		fmt.Fprintf(w, "%d\t%02d/%d\t%s\t%s\t%s\t%s\n", o.ID, o.Mes, o.Ano, nomes.name(o.CategoriaID), money(o.ValorGasto), money(o.ValorPlanejado), percent(o.ValorGasto, o.ValorPlanejado))
	}
	return w.Flush()
}

type categoriaIndex map[int64]string

func (idx categoriaIndex) name(id int64) string {
	if n, ok := idx[id]; ok {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

func categoriaNomes(ctx context.Context, c *client.Client) (categoriaIndex, error) {
	categorias, err := c.ListCategorias(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(categoriaIndex, len(categorias))
	for _, cat := range categorias {
		idx[cat.ID] = cat.Nome
	}
	return idx, nil
}

// Relatorio is the monthly summary shown by the reports page
type Relatorio struct {
	Mes, Ano     int
	Entradas     decimal.Decimal
	Saidas       decimal.Decimal
	PorCategoria map[string]decimal.Decimal
}

// Saldo is income minus expenses
func (r Relatorio) Saldo() decimal.Decimal {
	return r.Entradas.Sub(r.Saidas)
}

// buildRelatorio sums the transactions dated in mes/ano. Transfers move
// money between accounts and are left out.
func buildRelatorio(transacoes []client.Transacao, nomes categoriaIndex, mes, ano int) Relatorio {
	r := Relatorio{Mes: mes, Ano: ano, PorCategoria: map[string]decimal.Decimal{}}
	prefix := fmt.Sprintf("%04d-%02d", ano, mes)

	for _, t := range transacoes {
		if !strings.HasPrefix(t.Data, prefix) {
			continue
		}
		switch t.Tipo {
		case client.TipoEntrada:
			r.Entradas = r.Entradas.Add(t.Valor.Abs())
		case client.TipoSaida:
			r.Saidas = r.Saidas.Add(t.Valor.Abs())
			cat := "Sem categoria"
			if t.CategoriaID != nil {
				cat = nomes.name(*t.CategoriaID)
			}
			r.PorCategoria[cat] = r.PorCategoria[cat].Add(t.Valor.Abs())
		}
	}
	return r
}

const relatorioPageSize = 500

func relatoriosView(ctx context.Context, out io.Writer, c *client.Client, mes, ano int) error {
	var transacoes []client.Transacao
	for skip := 0; ; skip += relatorioPageSize {
		page, err := c.ListTransacoes(ctx, skip, relatorioPageSize)
		if err != nil {
			return err
		}
		transacoes = append(transacoes, page...)
		if len(page) < relatorioPageSize {
			break
		}
	}
	nomes, err := categoriaNomes(ctx, c)
	if err != nil {
		return err
	}

	r := buildRelatorio(transacoes, nomes, mes, ano)

	fmt.Fprintf(out, "Relatório %02d/%d\n\n", r.Mes, r.Ano)
	w := newTable(out)
	fmt.Fprintf(w, "Entradas\t%s\n", money(r.Entradas))
	fmt.Fprintf(w, "Saídas\t%s\n", money(r.Saidas))
	fmt.Fprintf(w, "Saldo\t%s\n", money(r.Saldo()))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(r.PorCategoria) == 0 {
		return nil
	}

	cats := make([]string, 0, len(r.PorCategoria))
	for cat := range r.PorCategoria {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		a, b := r.PorCategoria[cats[i]], r.PorCategoria[cats[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return cats[i] < cats[j]
	})

	fmt.Fprintln(out)
	w = newTable(out)
	fmt.Fprintln(w, "CATEGORIA\tSAÍDAS\t%")
	fmt.Fprintln(w, "─────────\t──────\t─")
	for _, cat := range cats {
		fmt.Fprintf(w, "%s\t%s\t%s\n", cat, money(r.PorCategoria[cat]), percent(r.PorCategoria[cat], r.Saidas))
	}
	return w.Flush()
}

func categoriasView(ctx context.Context, out io.Writer, c *client.Client) error {
	categorias, err := c.ListCategorias(ctx)
	if err != nil {
		return err
	}
	if len(categorias) == 0 {
		fmt.Fprintln(out, "No categories found.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tNOME\tTIPO\tPADRÃO")
	fmt.Fprintln(w, "──\t────\t────\t──────")
	for _, cat := range categorias {
		padrao := ""
		if cat.Padrao {
			padrao = "sim"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", cat.ID, cat.Nome, cat.Tipo, padrao)
	}
	return w.Flush()
}
