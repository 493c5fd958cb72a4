package router

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	PathHome      = "/"
	PathLogin     = "/login"
	PathDashboard = "/dashboard"

	// RedirectParam carries the originally requested path through the login page
	RedirectParam = "redirect"
)

// Route is one navigable page and its metadata
type Route struct {
	Name         string
	Pattern      string
	RequiresAuth bool
}

// NotFound is what unknown paths resolve to
var NotFound = Route{Name: "not-found"}

// DefaultRoutes is the page surface of the finance client
var DefaultRoutes = []Route{
	{Name: "home", Pattern: "/"},
	{Name: "login", Pattern: "/login"},
	{Name: "registro", Pattern: "/registro"},
	{Name: "confirmar-convite", Pattern: "/convites/confirmar"},
	{Name: "dashboard", Pattern: "/dashboard", RequiresAuth: true},
	{Name: "transacoes", Pattern: "/transacoes", RequiresAuth: true},
	{Name: "nova-transacao", Pattern: "/transacoes/nova", RequiresAuth: true},
	{Name: "editar-transacao", Pattern: "/transacoes/{id}/editar", RequiresAuth: true},
	{Name: "contas", Pattern: "/contas", RequiresAuth: true},
	{Name: "nova-conta", Pattern: "/contas/nova", RequiresAuth: true},
	{Name: "editar-conta", Pattern: "/contas/{id}/editar", RequiresAuth: true},
	{Name: "fatura-cartao", Pattern: "/contas/{id}/fatura", RequiresAuth: true},
	{Name: "metas", Pattern: "/metas", RequiresAuth: true},
	{Name: "nova-meta", Pattern: "/metas/nova", RequiresAuth: true},
	{Name: "editar-meta", Pattern: "/metas/{id}/editar", RequiresAuth: true},
	{Name: "orcamentos", Pattern: "/orcamentos", RequiresAuth: true},
	{Name: "novo-orcamento", Pattern: "/orcamentos/novo", RequiresAuth: true},
	{Name: "editar-orcamento", Pattern: "/orcamentos/{id}/editar", RequiresAuth: true},
	{Name: "relatorios", Pattern: "/relatorios", RequiresAuth: true},
	{Name: "categorias", Pattern: "/categorias", RequiresAuth: true},
	{Name: "delegacoes-convidar", Pattern: "/delegacoes/convidar", RequiresAuth: true},
	{Name: "delegacoes-convites", Pattern: "/delegacoes/convites", RequiresAuth: true},
}

// Match is a path resolved against the route table
type Match struct {
	Route    Route
	Path     string
	FullPath string
	Params   map[string]string
	Query    url.Values
	Found    bool
}

// Param returns a URL parameter of the matched pattern
func (m Match) Param(key string) string {
	return m.Params[key]
}

// Table resolves paths to routes. Patterns use chi syntax ("/contas/{id}").
type Table struct {
	mux    *chi.Mux
	routes map[string]Route
	order  []string
}

// NewTable builds a table; later routes with the same pattern win
func NewTable(routes []Route) *Table {
	t := &Table{
		mux:    chi.NewRouter(),
		routes: make(map[string]Route, len(routes)),
	}
	for _, r := range routes {
		if _, dup := t.routes[r.Pattern]; !dup {
			t.mux.Method(http.MethodGet, r.Pattern, http.NotFoundHandler())
			t.order = append(t.order, r.Pattern)
		}
		t.routes[r.Pattern] = r
	}
	return t
}

// Routes returns every route in registration order
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.order))
	for _, pattern := range t.order {
		out = append(out, t.routes[pattern])
	}
	return out
}

// Resolve parses fullPath (path plus optional query) and finds its route
func (t *Table) Resolve(fullPath string) (Match, error) {
	u, err := url.Parse(fullPath)
	if err != nil {
		return Match{}, fmt.Errorf("invalid path %q: %w", fullPath, err)
	}
	if u.IsAbs() || u.Host != "" {
		return Match{}, fmt.Errorf("invalid path %q: must be a path, not a URL", fullPath)
	}

	path := normalizePath(u.Path)
	m := Match{
		Route:    NotFound,
		Path:     path,
		FullPath: path,
		Params:   map[string]string{},
		Query:    u.Query(),
	}
	if u.RawQuery != "" {
		m.FullPath += "?" + u.RawQuery
	}

	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, http.MethodGet, path) {
		return m, nil
	}

	route, ok := t.routes[rctx.RoutePattern()]
	if !ok {
		return m, nil
	}
	m.Route = route
	m.Found = true
	for i, key := range rctx.URLParams.Keys {
		m.Params[key] = rctx.URLParams.Values[i]
	}
	return m, nil
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// LoginRedirect builds the login path that returns to fullPath afterwards
func LoginRedirect(fullPath string) string {
	if fullPath == "" || fullPath == PathLogin {
		return PathLogin
	}
	escaped := strings.ReplaceAll(url.QueryEscape(fullPath), "%2F", "/")
	return PathLogin + "?" + RedirectParam + "=" + escaped
}

// RedirectTarget returns where to go after logging in from m
func RedirectTarget(m Match) string {
	target := m.Query.Get(RedirectParam)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return PathDashboard
	}
	return target
}
