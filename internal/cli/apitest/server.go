// Package apitest runs an in-process fake of the finance API for tests.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const basePath = "/api/v1"

// Request is one recorded call
type Request struct {
	Method        string
	Path          string
	Authorization string
	ActAsUser     string
	ContentType   string
}

// Dataset holds the finance data served for one user
type Dataset struct {
	Contas     []client.Conta
	Transacoes []client.Transacao
	Metas      []client.Meta
	Orcamentos []client.Orcamento
	Categorias []client.Categoria
	Faturas    map[int64]client.FaturaResumo
}

type fakeUser struct {
	client.User
	passwordHash []byte
}

type fakeInvite struct {
	token      string
	delegation int64
	expired    bool
}

// Server is a fake API backed by a gin engine
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	nextID      int64
	users       map[string]*fakeUser // by email
	presetToken map[string]string    // email -> token to issue
	tokens      map[string]string    // token -> email
	data        map[int64]*Dataset
	delegations []*client.Delegacao
	invites     []fakeInvite
	forced      map[string]int // path -> status
	requests    []Request
}

// New starts a fake API and closes it when the test ends
func New(t *testing.T) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)

	s := &Server{
		users:       map[string]*fakeUser{},
		presetToken: map[string]string{},
		tokens:      map[string]string{},
		data:        map[int64]*Dataset{},
		forced:      map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL returns the API root including the version prefix
func (s *Server) BaseURL() string {
	return s.URL + basePath
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group(basePath)
	api.Use(s.record, s.forceStatus)

	api.POST("/auth/login", s.login)
	api.POST("/auth/register", s.register)
	api.GET("/auth/me", s.requireUser, s.me)

	data := api.Group("", s.requireUser, s.resolveActAs)
	data.GET("/contas", s.listContas)
	data.GET("/contas/:id/fatura-atual", s.getFatura)
	data.GET("/transacoes", s.listTransacoes)
	data.GET("/metas", s.listMetas)
	data.GET("/orcamentos", s.listOrcamentos)
	data.GET("/categorias", s.listCategorias)

	api.GET("/delegacoes/invite-info/:token", s.inviteInfo)
	api.POST("/delegacoes/confirm/:token", s.confirmInvite)

	deleg := api.Group("/delegacoes", s.requireUser)
	deleg.POST("/invite", s.invite)
	deleg.GET("/sent", s.listSent)
	deleg.GET("/received", s.listReceived)
	deleg.GET("/act-as-options", s.actAsOptions)
	deleg.POST("/:id/accept", s.accept)
	deleg.POST("/:id/revoke", s.revoke)

	return r
}

// AddUser registers an account and returns its id
func (s *Server) AddUser(email, password, nome string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, nome)
}

func (s *Server) addUserLocked(email, password, nome string) int64 {
	s.nextID++
	s.users[strings.ToLower(email)] = &fakeUser{
		User:         client.User{ID: s.nextID, Email: email, Nome: nome, Role: client.RoleUser},
		passwordHash: hashPassword(password),
	}
	s.data[s.nextID] = &Dataset{}
	return s.nextID
}

func hashPassword(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("apitest: hash password: %v", err))
	}
	return hash
}

// PresetToken makes login for email issue exactly token
func (s *Server) PresetToken(email, token string) {
	s.mu.Lock()
	s.presetToken[strings.ToLower(email)] = token
	s.mu.Unlock()
}

// IssueToken returns a valid token for email without a login call
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokenLocked(strings.ToLower(email))
}

func (s *Server) issueTokenLocked(email string) string {
	token, ok := s.presetToken[email]
	if !ok {
		token = fmt.Sprintf("tok-%s-%d", strings.SplitN(email, "@", 2)[0], len(s.tokens)+1)
	}
	s.tokens[token] = email
	return token
}

// RevokeTokens invalidates every issued token
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.tokens = map[string]string{}
	s.mu.Unlock()
}

// Data returns the dataset of a user for the test to fill in
func (s *Server) Data(userID int64) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.data[userID]
	if !ok {
		ds = &Dataset{}
		s.data[userID] = ds
	}
	return ds
}

// Delegate creates an active delegation from owner to delegate
func (s *Server) Delegate(ownerID, delegateID int64, canWrite bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.newDelegationLocked(ownerID, s.userByIDLocked(delegateID).Email, canWrite)
	d.DelegateUserID = &delegateID
	d.Status = client.DelegacaoActive
	d.Delegate = s.resumoLocked(delegateID)
	return d.ID
}

// AddInvite creates a pending invite with a token for email
func (s *Server) AddInvite(ownerID int64, email, token string, expired bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.newDelegationLocked(ownerID, email, true)
	if u, ok := s.users[strings.ToLower(email)]; ok {
		id := u.ID
		d.DelegateUserID = &id
		d.Delegate = s.resumoLocked(id)
	}
	s.invites = append(s.invites, fakeInvite{token: token, delegation: d.ID, expired: expired})
	return d.ID
}

// ForceStatus makes every call to path answer status until cleared with 0
func (s *Server) ForceStatus(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.forced, path)
		return
	}
	s.forced[path] = status
}

// Requests returns a copy of every recorded call
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls counts recorded calls to path (without the version prefix)
func (s *Server) Calls(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        c.Request.Method,
		Path:          strings.TrimPrefix(c.Request.URL.Path, basePath),
		Authorization: c.GetHeader(client.HeaderAuthorization),
		ActAsUser:     c.GetHeader(client.HeaderActAsUser),
		ContentType:   c.ContentType(),
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) forceStatus(c *gin.Context) {
	s.mu.Lock()
	status, ok := s.forced[strings.TrimPrefix(c.Request.URL.Path, basePath)]
	s.mu.Unlock()
	if ok {
		c.AbortWithStatusJSON(status, gin.H{"detail": http.StatusText(status)})
		return
	}
	c.Next()
}

func (s *Server) requireUser(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader(client.HeaderAuthorization), "Bearer ")

	s.mu.Lock()
	email, ok := s.tokens[token]
	var user *fakeUser
	if ok {
		user = s.users[email]
	}
	s.mu.Unlock()

	if user == nil {
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		return
	}
	c.Set("user", user.User)
	c.Set("effective", user.ID)
	c.Next()
}

// resolveActAs applies the X-Act-As-User header the way the API does
func (s *Server) resolveActAs(c *gin.Context) {
	raw := c.GetHeader(client.HeaderActAsUser)
	if raw == "" {
		c.Next()
		return
	}

	ownerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "X-Act-As-User inválido"})
		return
	}

	user := c.MustGet("user").(client.User)
	if ownerID == user.ID {
		c.Next()
		return
	}

	s.mu.Lock()
	allowed := false
	for _, d := range s.delegations {
		if d.OwnerUserID == ownerID && d.DelegateUserID != nil && *d.DelegateUserID == user.ID && d.Status == client.DelegacaoActive {
			allowed = true
			break
		}
	}
	s.mu.Unlock()

	if !allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Delegação não encontrada ou inativa"})
		return
	}
	c.Set("effective", ownerID)
	c.Next()
}

func (s *Server) login(c *gin.Context) {
	email := strings.ToLower(c.PostForm("username"))
	password := c.PostForm("password")

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[email]
	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": s.issueTokenLocked(email), "token_type": "bearer"})
}

func (s *Server) register(c *gin.Context) {
	var req client.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"body"}, "msg": err.Error(), "type": "value_error"},
		}})
		return
	}
	if req.Email == "" || req.Password == "" || req.Nome == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"body", "email"}, "msg": "field required", "type": "value_error.missing"},
		}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[strings.ToLower(req.Email)]; exists {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	id := s.addUserLocked(req.Email, req.Password, req.Nome)
	c.JSON(http.StatusCreated, s.userByIDLocked(id).User)
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, c.MustGet("user").(client.User))
}

func (s *Server) dataset(c *gin.Context) *Dataset {
	id := c.MustGet("effective").(int64)
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.data[id]
	if !ok {
		return &Dataset{}
	}
	return ds
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) listContas(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(s.dataset(c).Contas))
}

func (s *Server) getFatura(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid id"})
		return
	}
	fatura, ok := s.dataset(c).Faturas[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Conta não encontrada"})
		return
	}
	c.JSON(http.StatusOK, fatura)
}

func (s *Server) listTransacoes(c *gin.Context) {
	items := nonNil(s.dataset(c).Transacoes)
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	if skip > len(items) {
		skip = len(items)
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	c.JSON(http.StatusOK, items[skip:end])
}

func (s *Server) listMetas(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(s.dataset(c).Metas))
}

func (s *Server) listOrcamentos(c *gin.Context) {
	mes, _ := strconv.Atoi(c.Query("mes"))
	ano, _ := strconv.Atoi(c.Query("ano"))

	out := []client.Orcamento{}
	for _, o := range s.dataset(c).Orcamentos {
		if (mes == 0 || o.Mes == mes) && (ano == 0 || o.Ano == ano) {
			out = append(out, o)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listCategorias(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(s.dataset(c).Categorias))
}

func (s *Server) userByIDLocked(id int64) *fakeUser {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return &fakeUser{User: client.User{ID: id}}
}

func (s *Server) resumoLocked(id int64) *client.UserResumo {
	u := s.userByIDLocked(id)
	return &client.UserResumo{ID: u.ID, Nome: u.Nome, Email: u.Email}
}

func (s *Server) newDelegationLocked(ownerID int64, email string, canWrite bool) *client.Delegacao {
	s.nextID++
	d := &client.Delegacao{
		ID:           s.nextID,
		OwnerUserID:  ownerID,
		InvitedEmail: email,
		Status:       client.DelegacaoPending,
		CanWrite:     canWrite,
		Owner:        s.resumoLocked(ownerID),
	}
	s.delegations = append(s.delegations, d)
	return d
}

func (s *Server) findDelegationLocked(id int64) *client.Delegacao {
	for _, d := range s.delegations {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *Server) invite(c *gin.Context) {
	var req client.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"body", "email"}, "msg": "field required", "type": "value_error"},
		}})
		return
	}
	user := c.MustGet("user").(client.User)
	if strings.EqualFold(req.Email, user.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Nao e possivel criar delegacao para o proprio usuario"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.newDelegationLocked(user.ID, strings.ToLower(req.Email), req.CanWrite)
	_, hasAccount := s.users[strings.ToLower(req.Email)]
	c.JSON(http.StatusCreated, client.InviteResponse{Delegacao: *d, HasAccount: hasAccount, EmailSent: true})
}

func (s *Server) listSent(c *gin.Context) {
	user := c.MustGet("user").(client.User)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []client.Delegacao{}
	for _, d := range s.delegations {
		if d.OwnerUserID == user.ID {
			out = append(out, *d)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listReceived(c *gin.Context) {
	user := c.MustGet("user").(client.User)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []client.Delegacao{}
	for _, d := range s.delegations {
		if d.DelegateUserID != nil && *d.DelegateUserID == user.ID {
			out = append(out, *d)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) actAsOptions(c *gin.Context) {
	user := c.MustGet("user").(client.User)
	s.mu.Lock()
	defer s.mu.Unlock()

	options := []client.ActAsOption{{UserID: user.ID, Nome: user.Nome, Email: user.Email, CanWrite: true, IsOwner: true}}
	for _, d := range s.delegations {
		if d.DelegateUserID != nil && *d.DelegateUserID == user.ID && d.Status == client.DelegacaoActive {
			owner := s.userByIDLocked(d.OwnerUserID)
			options = append(options, client.ActAsOption{
				UserID:   owner.ID,
				Nome:     owner.Nome,
				Email:    owner.Email,
				CanWrite: d.CanWrite,
			})
		}
	}
	c.JSON(http.StatusOK, options)
}

func (s *Server) delegationParam(c *gin.Context) (*client.Delegacao, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid id"})
		return nil, false
	}
	d := s.findDelegationLocked(id)
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Delegacao nao encontrada"})
		return nil, false
	}
	return d, true
}

func (s *Server) accept(c *gin.Context) {
	user := c.MustGet("user").(client.User)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegationParam(c)
	if !ok {
		return
	}
	if d.DelegateUserID == nil || *d.DelegateUserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Sem permissao para aceitar"})
		return
	}
	d.Status = client.DelegacaoActive
	c.JSON(http.StatusOK, *d)
}

func (s *Server) revoke(c *gin.Context) {
	user := c.MustGet("user").(client.User)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.delegationParam(c)
	if !ok {
		return
	}
	isDelegate := d.DelegateUserID != nil && *d.DelegateUserID == user.ID
	if d.OwnerUserID != user.ID && !isDelegate {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Sem permissao para revogar"})
		return
	}
	d.Status = client.DelegacaoRevoked
	c.JSON(http.StatusOK, *d)
}

func (s *Server) inviteByTokenLocked(token string) (*fakeInvite, *client.Delegacao) {
	for i := range s.invites {
		if s.invites[i].token == token {
			return &s.invites[i], s.findDelegationLocked(s.invites[i].delegation)
		}
	}
	return nil, nil
}

func (s *Server) inviteInfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, d := s.inviteByTokenLocked(c.Param("token"))
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Convite nao encontrado"})
		return
	}
	c.JSON(http.StatusOK, client.InviteInfo{
		InvitedEmail: d.InvitedEmail,
		OwnerNome:    d.Owner.Nome,
		OwnerEmail:   d.Owner.Email,
		HasAccount:   d.DelegateUserID != nil,
		Expired:      inv.expired,
	})
}

func (s *Server) confirmInvite(c *gin.Context) {
	var req client.ConfirmInviteRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, d := s.inviteByTokenLocked(c.Param("token"))
	switch {
	case inv == nil:
		c.JSON(http.StatusNotFound, gin.H{"detail": "Convite nao encontrado"})
		return
	case d.Status != client.DelegacaoPending:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Convite nao esta pendente"})
		return
	case inv.expired:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Convite expirado"})
		return
	}

	if d.DelegateUserID == nil {
		if req.Nome == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Nome e senha sao obrigatorios para novo usuario"})
			return
		}
		id := s.addUserLocked(d.InvitedEmail, req.Password, req.Nome)
		d.DelegateUserID = &id
		d.Delegate = s.resumoLocked(id)
	}
	d.Status = client.DelegacaoActive
	c.JSON(http.StatusOK, *d)
}
