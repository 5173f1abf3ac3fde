// Package graph is the Meta Graph API collaborator: token exchange, profile
// lookup, and page discovery for the connect flow.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	facebookOAuth2 "golang.org/x/oauth2/facebook"
)

// RequiredPermissions are the Meta permissions AutoPost needs to publish to
// Facebook pages and linked Instagram business accounts.
var RequiredPermissions = []string{
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_posts",
	"instagram_basic",
	"instagram_content_publish",
}

// Profile is the Graph API user profile consumed by the connect flow.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Page is one Facebook page with its page-scoped token and, when linked, the
// Instagram business account behind it.
type Page struct {
	PageID       string
	PageName     string
	AccessToken  string
	Category     string
	Tasks        []string
	IGBusinessID string
	IGUsername   string
}

// Client talks to the Graph API. The base URL is configurable so tests can
// point it at a local server.
type Client struct {
	appID       string
	appSecret   string
	redirectURI string
	baseURL     string
	httpClient  *http.Client
}

// NewClient creates a Graph API client.
func NewClient(appID, appSecret, redirectURI, baseURL string) *Client {
	return &Client{
		appID:       appID,
		appSecret:   appSecret,
		redirectURI: redirectURI,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// OAuth2Config returns the authorize/code-exchange configuration against
// Facebook's standard endpoints.
func (c *Client) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.appID,
		ClientSecret: c.appSecret,
		RedirectURL:  c.redirectURI,
		Scopes:       RequiredPermissions,
		Endpoint:     facebookOAuth2.Endpoint,
	}
}

// AuthorizeURL builds the consent-dialog URL carrying the state nonce.
func (c *Client) AuthorizeURL(state string) string {
	return c.OAuth2Config().AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	params := url.Values{
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
	}
	return c.fetchAccessToken(ctx, params)
}

// ExchangeLongLivedToken trades a (short-lived or near-expiry long-lived)
// token for a fresh long-lived one. Meta's fb_exchange_token grant is not an
// RFC 6749 grant, so this goes straight to the Graph endpoint rather than
// through oauth2.Config.
func (c *Client) ExchangeLongLivedToken(ctx context.Context, currentToken string) (string, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {currentToken},
	}
	return c.fetchAccessToken(ctx, params)
}

func (c *Client) fetchAccessToken(ctx context.Context, params url.Values) (string, error) {
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.getJSON(ctx, "/oauth/access_token", params, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("graph: token exchange returned no access_token")
	}
	return payload.AccessToken, nil
}

// FetchProfile retrieves the user's id, name, and email.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	params := url.Values{
		"fields":       {"id,name,email"},
		"access_token": {accessToken},
	}
	var profile Profile
	if err := c.getJSON(ctx, "/me", params, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// FetchGrantedPermissions lists the permissions the user actually granted.
func (c *Client) FetchGrantedPermissions(ctx context.Context, accessToken string) ([]string, error) {
	params := url.Values{"access_token": {accessToken}}
	var payload struct {
		Data []struct {
			Permission string `json:"permission"`
			Status     string `json:"status"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/me/permissions", params, &payload); err != nil {
		return nil, err
	}
	granted := make([]string, 0, len(payload.Data))
	for _, p := range payload.Data {
		if p.Status == "granted" {
			granted = append(granted, p.Permission)
		}
	}
	return granted, nil
}

// ListPages fetches the user's pages with page tokens, then resolves each
// page's linked Instagram business account. An Instagram lookup failure only
// drops that page's Instagram identity, never the page itself.
func (c *Client) ListPages(ctx context.Context, accessToken string) ([]Page, error) {
	params := url.Values{
		"fields":       {"id,name,access_token,category,tasks"},
		"limit":        {"100"},
		"access_token": {accessToken},
	}
	var payload struct {
		Data []struct {
			ID          string   `json:"id"`
			Name        string   `json:"name"`
			AccessToken string   `json:"access_token"`
			Category    string   `json:"category"`
			Tasks       []string `json:"tasks"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/me/accounts", params, &payload); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(payload.Data))
	for _, raw := range payload.Data {
		page := Page{
			PageID:      raw.ID,
			PageName:    raw.Name,
			AccessToken: raw.AccessToken,
			Category:    raw.Category,
			Tasks:       raw.Tasks,
		}
		igID, igUsername, err := c.fetchInstagramIdentity(ctx, raw.ID, raw.AccessToken)
		if err == nil {
			page.IGBusinessID = igID
			page.IGUsername = igUsername
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (c *Client) fetchInstagramIdentity(ctx context.Context, pageID, pageToken string) (string, string, error) {
	params := url.Values{
		"fields":       {"instagram_business_account"},
		"access_token": {pageToken},
	}
	var payload struct {
		InstagramBusinessAccount struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	if err := c.getJSON(ctx, "/"+pageID, params, &payload); err != nil {
		return "", "", err
	}
	igID := payload.InstagramBusinessAccount.ID
	if igID == "" {
		return "", "", nil
	}

	userParams := url.Values{
		"fields":       {"username"},
		"access_token": {pageToken},
	}
	var igUser struct {
		Username string `json:"username"`
	}
	if err := c.getJSON(ctx, "/"+igID, userParams, &igUser); err != nil {
		// Business account id is still useful without the username.
		return igID, "", nil
	}
	return igID, igUser.Username, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("graph: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("graph: read response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Never echo the body wholesale, it can carry token fragments.
		return fmt.Errorf("graph: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph: unmarshal response from %s: %w", path, err)
	}
	return nil
}
