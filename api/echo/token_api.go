// Package echo exposes the token vault over HTTP. The surface is thin: every
// handler validates input, delegates to the service layer, and translates the
// sentinel errors into status codes. No token lifecycle logic lives here.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/autopost-hq/tokenvault/domain"
	"github.com/autopost-hq/tokenvault/internal/identifier"
	"github.com/autopost-hq/tokenvault/services"
)

// TokenAPI holds the handler dependencies.
type TokenAPI struct {
	store   *services.TokenStore
	connect *services.ConnectService
}

// NewTokenAPI initializes the token vault API.
func NewTokenAPI(store *services.TokenStore, connect *services.ConnectService) *TokenAPI {
	return &TokenAPI{
		store:   store,
		connect: connect,
	}
}

// RegisterRoutes registers the vault routes. The route set mirrors the
// original AutoPost API surface.
func (a *TokenAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/user/sync", a.SyncProfileHandler)
	e.GET("/api/user/sync", a.ProfileStatusHandler)
	e.POST("/api/user/token", a.TokenByEmailHandler)
	e.GET("/api/user/check-meta-tokens", a.CheckTokensHandler)
	e.GET("/api/user/pages", a.ListPagesHandler)
	e.POST("/api/user/pages", a.SetActivePageHandler)
	e.DELETE("/api/user/delete-meta-connection", a.DisconnectHandler)
	e.POST("/api/user/cleanup", a.CleanupHandler)

	e.GET("/api/meta/connect", a.ConnectHandler)
	e.GET("/api/meta/callback", a.CallbackHandler)

	e.GET("/health", a.HealthHandler)
}

// HealthHandler reports liveness.
func (a *TokenAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

type syncProfileRequest struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	UserName string `json:"userName"`
}

// SyncProfileHandler upserts the profile row on login, before any Meta
// connect. A missing userId falls back to a request-derived identifier so the
// row is still attributable.
func (a *TokenAPI) SyncProfileHandler(c echo.Context) error {
	var req syncProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email is required"})
	}
	if req.UserID == "" {
		req.UserID = identifier.Fallback(c.Request().Header)
		log.Warn().Str("user_id", req.UserID).Msg("profile sync without user id, derived fallback identifier")
	}

	cred, err := a.store.SyncProfile(c.Request().Context(), req.UserID, req.Email, req.UserName)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("profile sync failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to sync profile"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"userId":   cred.UserID,
		"email":    cred.Email,
		"isActive": cred.IsActive,
	})
}

// ProfileStatusHandler reports the stored profile state without secrets.
func (a *TokenAPI) ProfileStatusHandler(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId is required"})
	}

	cred, err := a.store.GetByInternalID(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"connected": false})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load profile"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"connected":    true,
		"userId":       cred.UserID,
		"email":        cred.Email,
		"userName":     cred.UserName,
		"pageId":       cred.PageID,
		"pageName":     cred.PageName,
		"tokenExpiry":  cred.TokenExpiry,
		"lastActivity": cred.LastActivity,
	})
}

type tokenByEmailRequest struct {
	Email string `json:"email"`
}

// TokenByEmailHandler returns the decrypted account token for internal
// publish calls. This is the only endpoint that hands out token plaintext.
func (a *TokenAPI) TokenByEmailHandler(c echo.Context) error {
	var req tokenByEmailRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email is required"})
	}

	result, err := a.store.GetByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{
				"error":         "user not found or token expired",
				"hasValidToken": false,
			})
		}
		log.Error().Err(err).Msg("token lookup by email failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":         "failed to get access token",
			"hasValidToken": false,
		})
	}

	cred := result.Credential
	response := echo.Map{
		"success":       true,
		"hasValidToken": true,
		"accessToken":   result.AccessToken,
		"user": echo.Map{
			"userId":       cred.UserID,
			"email":        cred.Email,
			"userName":     cred.UserName,
			"pageId":       cred.PageID,
			"pageName":     cred.PageName,
			"igBusinessId": cred.IGBusinessID,
			"igUsername":   cred.IGUsername,
			"permissions":  cred.Permissions,
			"lastActivity": cred.LastActivity,
		},
	}
	if result.ActivePage != nil {
		response["pageAccessToken"] = result.ActivePage.AccessToken
	}
	return c.JSON(http.StatusOK, response)
}

// CheckTokensHandler reports connection status without returning any token.
func (a *TokenAPI) CheckTokensHandler(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId is required"})
	}

	cred, err := a.store.GetValidToken(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"hasTokens": false, "connected": false})
		}
		log.Error().Err(err).Str("user_id", userID).Msg("token check failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check tokens", "hasTokens": false})
	}

	hasTokens := cred.PageID != ""
	return c.JSON(http.StatusOK, echo.Map{
		"hasTokens":    hasTokens,
		"connected":    hasTokens,
		"pageId":       cred.PageID,
		"pageName":     cred.PageName,
		"igBusinessId": cred.IGBusinessID,
		"lastActivity": cred.LastActivity,
	})
}

// ListPagesHandler returns the token-free page listing.
func (a *TokenAPI) ListPagesHandler(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId is required"})
	}

	pages, activePageID, err := a.store.ListPages(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no meta connection"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list pages"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"pages":        pages,
		"activePageId": activePageID,
	})
}

type setActivePageRequest struct {
	UserID string `json:"userId"`
	PageID string `json:"pageId"`
}

// SetActivePageHandler switches the publish target.
func (a *TokenAPI) SetActivePageHandler(c echo.Context) error {
	var req setActivePageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.UserID == "" || req.PageID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId and pageId are required"})
	}

	cred, err := a.store.SetActivePage(c.Request().Context(), req.UserID, req.PageID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCredentialNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no meta connection"})
		case errors.Is(err, domain.ErrPageNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "page not linked to this account"})
		case errors.Is(err, domain.ErrVersionConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "concurrent update, retry"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to set active page"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"activePageId": cred.ActivePageID,
		"pageName":     cred.PageName,
		"igBusinessId": cred.IGBusinessID,
		"igUsername":   cred.IGUsername,
	})
}

type disconnectRequest struct {
	UserID string `json:"userId"`
	Hard   bool   `json:"hard"`
}

// DisconnectHandler severs the Meta connection. The default soft path clears
// secrets and keeps the row; hard=true removes the document.
func (a *TokenAPI) DisconnectHandler(c echo.Context) error {
	var req disconnectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId is required"})
	}

	if err := a.store.Disconnect(c.Request().Context(), req.UserID, req.Hard); err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no meta connection"})
		}
		log.Error().Err(err).Str("user_id", req.UserID).Msg("disconnect failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to disconnect"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "hard": req.Hard})
}

// CleanupHandler runs the maintenance sweep. Scheduling is external; this
// endpoint is what the scheduler hits.
func (a *TokenAPI) CleanupHandler(c echo.Context) error {
	result, err := a.store.PerformCleanup(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("cleanup sweep failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cleanup failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"expiredTokens": result.ExpiredTokens,
		"inactiveUsers": result.InactiveUsers,
	})
}

// ConnectHandler starts the Meta OAuth flow with a 302 to the consent dialog.
func (a *TokenAPI) ConnectHandler(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId is required"})
	}

	authorizeURL, err := a.connect.BeginConnect(c.Request().Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to begin connect flow")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start meta connect"})
	}
	return c.Redirect(http.StatusFound, authorizeURL)
}

// CallbackHandler completes the OAuth flow. Meta redirects here with either
// a code+state pair or an error description when the user declined.
func (a *TokenAPI) CallbackHandler(c echo.Context) error {
	if errCode := c.QueryParam("error"); errCode != "" {
		log.Warn().Str("error", errCode).Str("reason", c.QueryParam("error_reason")).
			Msg("meta consent dialog returned an error")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "meta authorization declined"})
	}

	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and state are required"})
	}

	cred, err := a.connect.CompleteConnect(c.Request().Context(), state, code)
	if err != nil {
		log.Error().Err(err).Msg("meta connect flow failed")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to complete meta connect"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"userId":       cred.UserID,
		"pages":        cred.PageSummaries(),
		"activePageId": cred.ActivePageID,
	})
}
