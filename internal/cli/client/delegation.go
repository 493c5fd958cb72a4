package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Delegation statuses
const (
	DelegacaoPending = "pending"
	DelegacaoActive  = "active"
	DelegacaoRevoked = "revoked"
)

// UserResumo is the short user form embedded in delegations
type UserResumo struct {
	ID    int64  `json:"id"`
	Nome  string `json:"nome"`
	Email string `json:"email"`
}

// Delegacao grants a delegate access to an owner's data
type Delegacao struct {
	ID              int64       `json:"id"`
	OwnerUserID     int64       `json:"owner_user_id"`
	DelegateUserID  *int64      `json:"delegate_user_id"`
	InvitedEmail    string      `json:"invited_email"`
	Status          string      `json:"status"`
	CanWrite        bool        `json:"can_write"`
	InviteExpiresAt *string     `json:"invite_expires_at,omitempty"`
	CreatedAt       *string     `json:"created_at,omitempty"`
	AcceptedAt      *string     `json:"accepted_at,omitempty"`
	RevokedAt       *string     `json:"revoked_at,omitempty"`
	Owner           *UserResumo `json:"owner,omitempty"`
	Delegate        *UserResumo `json:"delegate,omitempty"`
}

// InviteRequest represents the invite request body
type InviteRequest struct {
	Email    string `json:"email" validate:"required,email"`
	CanWrite bool   `json:"can_write"`
}

// InviteResponse represents the invite response
type InviteResponse struct {
	Delegacao  Delegacao `json:"delegacao"`
	HasAccount bool      `json:"has_account"`
	EmailSent  bool      `json:"email_sent"`
}

// ActAsOption is one data owner the current user may act as. The user's own
// account is always listed first with IsOwner set.
type ActAsOption struct {
	UserID   int64  `json:"user_id"`
	Nome     string `json:"nome"`
	Email    string `json:"email"`
	CanWrite bool   `json:"can_write"`
	IsOwner  bool   `json:"is_owner"`
}

// InviteInfo describes an invite token before it is confirmed
type InviteInfo struct {
	InvitedEmail string `json:"invited_email"`
	OwnerNome    string `json:"owner_nome"`
	OwnerEmail   string `json:"owner_email"`
	HasAccount   bool   `json:"has_account"`
	Expired      bool   `json:"expired"`
}

// ConfirmInviteRequest creates the delegate account when it does not exist yet
type ConfirmInviteRequest struct {
	Nome     string `json:"nome,omitempty"`
	Password string `json:"password,omitempty" validate:"omitempty,min=6"`
}

func (c *Client) InviteDelegacao(ctx context.Context, req InviteRequest) (*InviteResponse, error) {
	var resp InviteResponse
	if err := c.Do(ctx, http.MethodPost, "/delegacoes/invite", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDelegacoesSent returns delegations the current user granted
func (c *Client) ListDelegacoesSent(ctx context.Context) ([]Delegacao, error) {
	var delegacoes []Delegacao
	if err := c.Do(ctx, http.MethodGet, "/delegacoes/sent", nil, &delegacoes); err != nil {
		return nil, err
	}
	return delegacoes, nil
}

// ListDelegacoesReceived returns delegations granted to the current user
func (c *Client) ListDelegacoesReceived(ctx context.Context) ([]Delegacao, error) {
	var delegacoes []Delegacao
	if err := c.Do(ctx, http.MethodGet, "/delegacoes/received", nil, &delegacoes); err != nil {
		return nil, err
	}
	return delegacoes, nil
}

func (c *Client) AcceptDelegacao(ctx context.Context, id int64) (*Delegacao, error) {
	var d Delegacao
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/delegacoes/%d/accept", id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) RevokeDelegacao(ctx context.Context, id int64) (*Delegacao, error) {
	var d Delegacao
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/delegacoes/%d/revoke", id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ActAsOptions lists the data owners the current user can act as
func (c *Client) ActAsOptions(ctx context.Context) ([]ActAsOption, error) {
	var options []ActAsOption
	if err := c.Do(ctx, http.MethodGet, "/delegacoes/act-as-options", nil, &options); err != nil {
		return nil, err
	}
	return options, nil
}

// InviteInfo looks up an invite token; it needs no authentication
func (c *Client) InviteInfo(ctx context.Context, token string) (*InviteInfo, error) {
	var info InviteInfo
	if err := c.Do(ctx, http.MethodGet, "/delegacoes/invite-info/"+url.PathEscape(token), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ConfirmInvite accepts an invite by token, creating the account if needed
func (c *Client) ConfirmInvite(ctx context.Context, token string, req ConfirmInviteRequest) (*Delegacao, error) {
	var d Delegacao
	if err := c.Do(ctx, http.MethodPost, "/delegacoes/confirm/"+url.PathEscape(token), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FormatUserID renders a user id the way the X-Act-As-User header carries it
func FormatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}
