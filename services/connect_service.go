package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autopost-hq/tokenvault/cache"
	"github.com/autopost-hq/tokenvault/domain"
	"github.com/autopost-hq/tokenvault/internal/graph"
	"github.com/autopost-hq/tokenvault/internal/metrics"
)

// GraphConnector is the slice of the Graph client the connect flow needs.
type GraphConnector interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	ExchangeLongLivedToken(ctx context.Context, currentToken string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (*graph.Profile, error)
	FetchGrantedPermissions(ctx context.Context, accessToken string) ([]string, error)
	ListPages(ctx context.Context, accessToken string) ([]graph.Page, error)
}

// ConnectService drives the Meta OAuth connect flow: it issues the authorize
// redirect with a one-time state nonce and turns the callback's code into a
// stored, encrypted credential with all discovered pages.
type ConnectService struct {
	store     *TokenStore
	connector GraphConnector
	states    cache.StateStore
	stateTTL  time.Duration
}

// NewConnectService creates a ConnectService.
func NewConnectService(store *TokenStore, connector GraphConnector, states cache.StateStore, stateTTL time.Duration) *ConnectService {
	return &ConnectService{
		store:     store,
		connector: connector,
		states:    states,
		stateTTL:  stateTTL,
	}
}

// BeginConnect issues a state nonce bound to userID and returns the Meta
// consent-dialog URL to redirect the user to.
func (c *ConnectService) BeginConnect(ctx context.Context, userID string) (string, error) {
	state := uuid.NewString()
	if err := c.states.Issue(ctx, state, userID, c.stateTTL); err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}
	return c.connector.AuthorizeURL(state), nil
}

// CompleteConnect handles the OAuth callback: it verifies the state nonce,
// walks code -> short-lived token -> long-lived token -> profile ->
// permissions -> pages, and stores everything through the token store.
func (c *ConnectService) CompleteConnect(ctx context.Context, state, code string) (*domain.Credential, error) {
	userID, ok := c.states.Verify(ctx, state)
	if !ok {
		return nil, fmt.Errorf("oauth state unknown or expired")
	}

	shortToken, err := c.connector.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	longToken, err := c.connector.ExchangeLongLivedToken(ctx, shortToken)
	if err != nil {
		return nil, fmt.Errorf("exchange for long-lived token: %w", err)
	}

	profile, err := c.connector.FetchProfile(ctx, longToken)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	permissions, err := c.connector.FetchGrantedPermissions(ctx, longToken)
	if err != nil {
		// Permissions are audit metadata; fall back to the requested set.
		log.Warn().Err(err).Str("user_id", userID).Msg("could not fetch granted permissions")
		permissions = graph.RequiredPermissions
	}
	if !HasRequiredPermissions(permissions) {
		log.Warn().Str("user_id", userID).Strs("granted", permissions).
			Msg("connect completed with missing publish permissions")
	}

	pages, err := c.connector.ListPages(ctx, longToken)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	input := PagesInput{
		AccountTokenInput: AccountTokenInput{
			AccessToken: longToken,
			UserName:    profile.Name,
			Email:       profile.Email,
			MetaUserID:  profile.ID,
			Permissions: permissions,
		},
		Pages: make([]PageInput, 0, len(pages)),
	}
	for _, p := range pages {
		input.Pages = append(input.Pages, PageInput{
			PageID:       p.PageID,
			PageName:     p.PageName,
			AccessToken:  p.AccessToken,
			Category:     p.Category,
			Tasks:        p.Tasks,
			IGBusinessID: p.IGBusinessID,
			IGUsername:   p.IGUsername,
		})
	}

	cred, err := c.store.UpsertPages(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	observe(metrics.ConnectCompletedTotal)
	return cred, nil
}

// HasRequiredPermissions reports whether every permission AutoPost needs for
// publishing was granted.
func HasRequiredPermissions(granted []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, required := range graph.RequiredPermissions {
		if _, ok := set[required]; !ok {
			return false
		}
	}
	return true
}
