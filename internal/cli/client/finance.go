package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// Conta represents an account
type Conta struct {
	ID            int64            `json:"id"`
	Nome          string           `json:"nome"`
	Tipo          string           `json:"tipo"`
	Saldo         decimal.Decimal  `json:"saldo"`
	DiaFechamento *int             `json:"dia_fechamento,omitempty"`
	DiaVencimento *int             `json:"dia_vencimento,omitempty"`
	LimiteCredito *decimal.Decimal `json:"limite_credito,omitempty"`
	Cor           string           `json:"cor"`
	Ativa         bool             `json:"ativa"`
}

// Categoria represents a transaction category
type Categoria struct {
	ID     int64  `json:"id"`
	Nome   string `json:"nome"`
	Icone  string `json:"icone"`
	Cor    string `json:"cor"`
	Tipo   string `json:"tipo"`
	Padrao bool   `json:"padrao"`
}

// Transaction types
const (
	TipoEntrada       = "entrada"
	TipoSaida         = "saida"
	TipoTransferencia = "transferencia"
)

// Transacao represents a transaction
type Transacao struct {
	ID               int64           `json:"id"`
	ContaID          int64           `json:"conta_id"`
	CategoriaID      *int64          `json:"categoria_id"`
	Descricao        string          `json:"descricao"`
	Valor            decimal.Decimal `json:"valor"`
	Tipo             string          `json:"tipo"`
	Data             string          `json:"data"`
	DataVencimento   *string         `json:"data_vencimento,omitempty"`
	DataLiquidacao   *string         `json:"data_liquidacao,omitempty"`
	StatusLiquidacao string          `json:"status_liquidacao,omitempty"`
	Fixa             bool            `json:"fixa"`
	Recorrente       bool            `json:"recorrente"`
	Parcelado        bool            `json:"parcelado"`
	ParcelaAtual     int             `json:"parcela_atual,omitempty"`
	TotalParcelas    int             `json:"total_parcelas,omitempty"`
	MetaID           *int64          `json:"meta_id,omitempty"`
	Tags             string          `json:"tags,omitempty"`
}

// Meta represents a savings goal
type Meta struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Nome       string          `json:"nome"`
	Descricao  string          `json:"descricao,omitempty"`
	ValorAlvo  decimal.Decimal `json:"valor_alvo"`
	ValorAtual decimal.Decimal `json:"valor_atual"`
	DataInicio string          `json:"data_inicio"`
	DataFim    string          `json:"data_fim,omitempty"`
	Concluida  bool            `json:"concluida"`
	Cor        string          `json:"cor"`
}

// Orcamento represents a monthly budget for one category
type Orcamento struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	CategoriaID    int64           `json:"categoria_id"`
	Mes            int             `json:"mes"`
	Ano            int             `json:"ano"`
	ValorPlanejado decimal.Decimal `json:"valor_planejado"`
	ValorGasto     decimal.Decimal `json:"valor_gasto"`
}

// FaturaItem is one line of a credit card statement
type FaturaItem struct {
	TransacaoID      int64           `json:"transacao_id"`
	Descricao        string          `json:"descricao"`
	Data             string          `json:"data"`
	StatusLiquidacao string          `json:"status_liquidacao"`
	Valor            decimal.Decimal `json:"valor"`
	ValorEfetivo     decimal.Decimal `json:"valor_efetivo"`
}

// FaturaResumo is the current credit card statement of an account
type FaturaResumo struct {
	ContaID              int64           `json:"conta_id"`
	ContaNome            string          `json:"conta_nome"`
	PeriodoInicio        string          `json:"periodo_inicio"`
	PeriodoFim           string          `json:"periodo_fim"`
	DataVencimentoFatura string          `json:"data_vencimento_fatura"`
	TotalItens           int             `json:"total_itens"`
	ValorTotal           decimal.Decimal `json:"valor_total"`
	Itens                []FaturaItem    `json:"itens"`
}

// ListContas returns all accounts of the effective user
func (c *Client) ListContas(ctx context.Context) ([]Conta, error) {
	var contas []Conta
	if err := c.Do(ctx, http.MethodGet, "/contas", nil, &contas); err != nil {
		return nil, err
	}
	return contas, nil
}

// GetFatura returns the current statement of a credit card account
func (c *Client) GetFatura(ctx context.Context, contaID int64) (*FaturaResumo, error) {
	var fatura FaturaResumo
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/contas/%d/fatura-atual", contaID), nil, &fatura); err != nil {
		return nil, err
	}
	return &fatura, nil
}

// ListTransacoes returns a page of transactions; limit <= 0 uses the server default
func (c *Client) ListTransacoes(ctx context.Context, skip, limit int) ([]Transacao, error) {
	query := url.Values{}
	if skip > 0 {
		query.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var transacoes []Transacao
	if err := c.Do(ctx, http.MethodGet, "/transacoes", nil, &transacoes, WithQuery(query)); err != nil {
		return nil, err
	}
	return transacoes, nil
}

func (c *Client) ListMetas(ctx context.Context) ([]Meta, error) {
	var metas []Meta
	if err := c.Do(ctx, http.MethodGet, "/metas", nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// ListOrcamentos returns budgets, optionally filtered by month and year (0 = no filter)
func (c *Client) ListOrcamentos(ctx context.Context, mes, ano int) ([]Orcamento, error) {
	query := url.Values{}
	if mes > 0 {
		query.Set("mes", strconv.Itoa(mes))
	}
	if ano > 0 {
		query.Set("ano", strconv.Itoa(ano))
	}

	var orcamentos []Orcamento
	if err := c.Do(ctx, http.MethodGet, "/orcamentos", nil, &orcamentos, WithQuery(query)); err != nil {
		return nil, err
	}
	return orcamentos, nil
}

func (c *Client) ListCategorias(ctx context.Context) ([]Categoria, error) {
	var categorias []Categoria
	if err := c.Do(ctx, http.MethodGet, "/categorias", nil, &categorias); err != nil {
		return nil, err
	}
	return categorias, nil
}
