// Package services holds the token vault's orchestration layer: the token
// store, the refresh protocol, and the Meta connect flow.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autopost-hq/tokenvault/domain"
	"github.com/autopost-hq/tokenvault/internal/crypto"
	"github.com/autopost-hq/tokenvault/internal/metrics"
)

// Options carries the lifecycle windows. They mirror the upstream provider's
// long-lived token policy but stay configurable.
type Options struct {
	TokenTTL         time.Duration // Lifetime of a freshly stored or refreshed token.
	RefreshWindow    time.Duration // Proactive refresh kicks in this close to expiry.
	InactivityWindow time.Duration // Cleanup hard-deletes inactive records idle this long.
}

// DefaultOptions returns the provider-policy defaults: 60-day tokens,
// refreshed within 7 days of expiry, 90-day inactivity cleanup.
func DefaultOptions() Options {
	return Options{
		TokenTTL:         60 * 24 * time.Hour,
		RefreshWindow:    7 * 24 * time.Hour,
		InactivityWindow: 90 * 24 * time.Hour,
	}
}

// TokenStore is the sole read/write path to Credential records. Everything
// else in the application goes through it rather than touching the
// persistence layer directly. Cryptography failures never escape it: a
// credential whose tokens cannot be decrypted reads as not found.
type TokenStore struct {
	repo      domain.CredentialRepository
	codec     *crypto.Codec
	exchanger TokenExchanger
	opts      Options
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(repo domain.CredentialRepository, codec *crypto.Codec, exchanger TokenExchanger, opts Options) *TokenStore {
	return &TokenStore{
		repo:      repo,
		codec:     codec,
		exchanger: exchanger,
		opts:      opts,
	}
}

// AccountTokenInput is what an OAuth exchange hands to the store.
type AccountTokenInput struct {
	AccessToken string
	UserName    string
	Email       string
	MetaUserID  string
	Permissions []string
}

// PageInput is one page as delivered by the upstream page-listing endpoint.
type PageInput struct {
	PageID       string
	PageName     string
	AccessToken  string
	Category     string
	Tasks        []string
	IGBusinessID string
	IGUsername   string
}

// PagesInput extends AccountTokenInput with the full page list.
type PagesInput struct {
	AccountTokenInput
	Pages []PageInput
}

// EmailCredential is the GetByEmail result: the credential, its decrypted
// account token, and, when resolvable, the active page with its token.
type EmailCredential struct {
	Credential  *domain.Credential
	AccessToken string
	ActivePage  *ActivePageToken
}

// ActivePageToken is the active page plus its decrypted page token. The
// token is handed out for immediate use and must not be cached.
type ActivePageToken struct {
	PageID       string
	PageName     string
	IGBusinessID string
	IGUsername   string
	AccessToken  string
}

// CleanupResult reports what a maintenance sweep did.
type CleanupResult struct {
	ExpiredTokens int64 `json:"expiredTokens"`
	InactiveUsers int64 `json:"inactiveUsers"`
}

// UpsertAccountToken finds-or-creates the credential for userID, encrypts and
// stores the account token, stamps the expiry a full TTL out, and activates
// the record. Calling twice with the same data converges on the same state.
func (s *TokenStore) UpsertAccountToken(ctx context.Context, userID string, input AccountTokenInput) (*domain.Credential, error) {
	return s.upsert(ctx, userID, input, nil, false)
}

// UpsertPages is UpsertAccountToken plus wholesale replacement of the linked
// pages, each page token individually encrypted. The active page defaults to
// the first supplied page when no current selection survives the replacement.
func (s *TokenStore) UpsertPages(ctx context.Context, userID string, input PagesInput) (*domain.Credential, error) {
	return s.upsert(ctx, userID, input.AccountTokenInput, input.Pages, true)
}

func (s *TokenStore) upsert(ctx context.Context, userID string, input AccountTokenInput, pages []PageInput, replacePages bool) (*domain.Credential, error) {
	encryptedToken, err := s.codec.Encrypt(input.AccessToken)
	if err != nil {
		return nil, domain.NewStoreError("encrypt account token", err)
	}

	var encryptedPages []domain.PageCredential
	if replacePages {
		encryptedPages = make([]domain.PageCredential, 0, len(pages))
		for _, p := range pages {
			pageToken, err := s.codec.Encrypt(p.AccessToken)
			if err != nil {
				return nil, domain.NewStoreError("encrypt page token", err)
			}
			encryptedPages = append(encryptedPages, domain.PageCredential{
				PageID:             p.PageID,
				PageName:           p.PageName,
				EncryptedPageToken: pageToken,
				Category:           p.Category,
				Tasks:              p.Tasks,
				IGBusinessID:       p.IGBusinessID,
				IGUsername:         p.IGUsername,
			})
		}
	}

	now := time.Now().UTC()
	cred, err := s.repo.FindByUserID(ctx, userID, true)
	switch {
	case errors.Is(err, domain.ErrCredentialNotFound):
		cred = &domain.Credential{
			UserID:               userID,
			DataRetentionConsent: now,
			IncludesSecrets:      true,
		}
		s.applyAccountToken(cred, input, encryptedToken, now)
		if replacePages {
			s.applyPages(cred, encryptedPages)
		}
		if err := s.repo.Create(ctx, cred); err != nil {
			return nil, domain.NewStoreError("create credential", err)
		}
	case err != nil:
		return nil, domain.NewStoreError("load credential", err)
	default:
		s.applyAccountToken(cred, input, encryptedToken, now)
		if replacePages {
			s.applyPages(cred, encryptedPages)
		}
		if err := s.repo.Update(ctx, cred); err != nil {
			return nil, domain.NewStoreError("update credential", err)
		}
	}

	observe(metrics.TokensStoredTotal)
	log.Info().Str("user_id", userID).Int("pages", len(cred.Pages)).Msg("stored encrypted account token")
	return cred, nil
}

func (s *TokenStore) applyAccountToken(cred *domain.Credential, input AccountTokenInput, encryptedToken string, now time.Time) {
	cred.UserName = input.UserName
	cred.Email = input.Email
	cred.MetaUserID = input.MetaUserID
	cred.Permissions = input.Permissions
	cred.EncryptedAccessToken = encryptedToken
	cred.TokenExpiry = now.Add(s.opts.TokenTTL)
	cred.TokenRefreshedAt = now
	cred.IsActive = true
	cred.LastActivity = now
}

func (s *TokenStore) applyPages(cred *domain.Credential, pages []domain.PageCredential) {
	cred.Pages = pages
	if cred.FindPage(cred.ActivePageID) == nil {
		// No surviving selection: default to the first supplied page, or
		// none at all. A dangling active id would break the selection
		// invariant, so it never outlives the replacement.
		cred.ActivePageID = ""
		if len(pages) > 0 {
			cred.ActivePageID = pages[0].PageID
		}
	}
	cred.SyncLegacyFields()
}

// GetByInternalID returns the active, unexpired credential for userID.
// A record found expired-but-active is flipped inactive and persisted before
// the not-found is reported. A hit bumps LastActivity.
func (s *TokenStore) GetByInternalID(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := s.repo.FindByUserID(ctx, userID, false)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, domain.NewStoreError("load credential", err)
	}
	if !cred.IsActive {
		return nil, domain.ErrCredentialNotFound
	}

	now := time.Now().UTC()
	if cred.IsTokenExpired(now) {
		// Retained for the audit trail, but no longer usable.
		cred.IsActive = false
		cred.LastActivity = now
		if err := s.repo.Update(ctx, cred); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to persist expiry deactivation")
		}
		return nil, domain.ErrCredentialNotFound
	}

	cred.LastActivity = now
	if err := s.repo.Update(ctx, cred); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to bump credential activity")
	}
	return cred, nil
}

// GetByEmail resolves a credential by email and decrypts its account token.
// It fails closed: a credential whose account token cannot be decrypted is
// reported not found. A page-token decryption failure only drops the
// ActivePage attachment; the asymmetry is deliberate.
func (s *TokenStore) GetByEmail(ctx context.Context, email string) (*EmailCredential, error) {
	cred, err := s.repo.FindByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, domain.NewStoreError("load credential", err)
	}
	if !cred.IsActive {
		return nil, domain.ErrCredentialNotFound
	}

	now := time.Now().UTC()
	if cred.IsTokenExpired(now) {
		cred.IsActive = false
		cred.LastActivity = now
		if err := s.repo.Update(ctx, cred); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
			log.Warn().Err(err).Str("user_id", cred.UserID).Msg("failed to persist expiry deactivation")
		}
		return nil, domain.ErrCredentialNotFound
	}

	accessToken, err := s.codec.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		log.Error().Str("user_id", cred.UserID).Msg("account token undecryptable, treating credential as unusable")
		return nil, domain.ErrCredentialNotFound
	}

	result := &EmailCredential{Credential: cred, AccessToken: accessToken}
	if page := cred.ActivePage(); page != nil {
		pageToken, err := s.codec.Decrypt(page.EncryptedPageToken)
		if err != nil {
			log.Warn().Str("user_id", cred.UserID).Str("page_id", page.PageID).
				Msg("active page token undecryptable, omitting active page")
		} else {
			result.ActivePage = &ActivePageToken{
				PageID:       page.PageID,
				PageName:     page.PageName,
				IGBusinessID: page.IGBusinessID,
				IGUsername:   page.IGUsername,
				AccessToken:  pageToken,
			}
		}
	}

	cred.LastActivity = now
	if err := s.repo.Update(ctx, cred); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
		log.Warn().Err(err).Str("user_id", cred.UserID).Msg("failed to bump credential activity")
	}
	return result, nil
}

// ListPages returns the token-free page listing and the active selection.
func (s *TokenStore) ListPages(ctx context.Context, userID string) ([]domain.PageSummary, string, error) {
	cred, err := s.repo.FindByUserID(ctx, userID, false)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, "", domain.ErrCredentialNotFound
		}
		return nil, "", domain.NewStoreError("load credential", err)
	}
	return cred.PageSummaries(), cred.ActivePageID, nil
}

// SetActivePage switches the publish target to pageID. An id not among the
// linked pages fails with ErrPageNotFound and changes nothing.
func (s *TokenStore) SetActivePage(ctx context.Context, userID, pageID string) (*domain.Credential, error) {
	cred, err := s.repo.FindByUserID(ctx, userID, false)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, domain.NewStoreError("load credential", err)
	}
	if cred.FindPage(pageID) == nil {
		return nil, domain.ErrPageNotFound
	}

	cred.ActivePageID = pageID
	cred.SyncLegacyFields()
	cred.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, cred); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, domain.ErrVersionConflict
		}
		return nil, domain.NewStoreError("update credential", err)
	}
	return cred, nil
}

// PageToken decrypts one page-scoped token on demand, immediately before an
// outbound publish call. The plaintext is never stored or cached.
func (s *TokenStore) PageToken(ctx context.Context, userID, pageID string) (string, error) {
	cred, err := s.repo.FindByUserID(ctx, userID, true)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", domain.ErrCredentialNotFound
		}
		return "", domain.NewStoreError("load credential", err)
	}
	page := cred.FindPage(pageID)
	if page == nil {
		return "", domain.ErrPageNotFound
	}
	token, err := s.codec.Decrypt(page.EncryptedPageToken)
	if err != nil {
		log.Error().Str("user_id", userID).Str("page_id", pageID).
			Msg("page token undecryptable, treating credential as unusable")
		return "", domain.ErrCredentialNotFound
	}
	return token, nil
}

// SyncProfile upserts the profile row on login, before any Meta connect has
// happened: a placeholder credential with an empty token, a provisional
// expiry a full TTL out, and IsActive false until tokens arrive.
func (s *TokenStore) SyncProfile(ctx context.Context, userID, email, userName string) (*domain.Credential, error) {
	now := time.Now().UTC()
	cred, err := s.repo.FindByUserID(ctx, userID, false)
	switch {
	case errors.Is(err, domain.ErrCredentialNotFound):
		cred = &domain.Credential{
			UserID:               userID,
			Email:                email,
			UserName:             userName,
			EncryptedAccessToken: "",
			TokenExpiry:          now.Add(s.opts.TokenTTL),
			IsActive:             false,
			LastActivity:         now,
			DataRetentionConsent: now,
			Permissions:          []string{},
		}
		if err := s.repo.Create(ctx, cred); err != nil {
			return nil, domain.NewStoreError("create profile", err)
		}
	case err != nil:
		return nil, domain.NewStoreError("load credential", err)
	default:
		cred.Email = email
		cred.UserName = userName
		cred.LastActivity = now
		if err := s.repo.Update(ctx, cred); err != nil {
			return nil, domain.NewStoreError("update profile", err)
		}
	}
	return cred, nil
}

// Disconnect severs the Meta connection. The soft path (logout, default)
// clears every stored secret and deactivates the record while keeping the
// row for the audit trail; the hard path (explicit erasure request) removes
// the document entirely.
func (s *TokenStore) Disconnect(ctx context.Context, userID string, hard bool) error {
	if hard {
		if err := s.repo.Delete(ctx, userID); err != nil {
			if errors.Is(err, domain.ErrCredentialNotFound) {
				return domain.ErrCredentialNotFound
			}
			return domain.NewStoreError("delete credential", err)
		}
		return nil
	}

	cred, err := s.repo.FindByUserID(ctx, userID, true)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return domain.ErrCredentialNotFound
		}
		return domain.NewStoreError("load credential", err)
	}

	cred.EncryptedAccessToken = ""
	cred.Pages = nil
	cred.ActivePageID = ""
	cred.SyncLegacyFields()
	cred.IsActive = false
	cred.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, cred); err != nil {
		return domain.NewStoreError("update credential", err)
	}
	log.Info().Str("user_id", userID).Msg("credential soft-disconnected")
	return nil
}

// NeedsRefresh reports whether the credential's token is close enough to
// expiry that it should be proactively exchanged.
func (s *TokenStore) NeedsRefresh(cred *domain.Credential) bool {
	return cred.NeedsRefresh(time.Now().UTC(), s.opts.RefreshWindow)
}

// PerformCleanup runs the maintenance sweep: expired-but-active records are
// deactivated, then inactive records idle past the inactivity window are
// hard-deleted. Invoked by an external scheduler, never self-scheduled.
func (s *TokenStore) PerformCleanup(ctx context.Context) (*CleanupResult, error) {
	now := time.Now().UTC()

	expired, err := s.repo.DeactivateExpired(ctx, now)
	if err != nil {
		return nil, domain.NewStoreError("deactivate expired", err)
	}

	deleted, err := s.repo.DeleteInactiveBefore(ctx, now.Add(-s.opts.InactivityWindow))
	if err != nil {
		return nil, domain.NewStoreError("delete inactive", err)
	}

	observeAdd(metrics.CleanupExpiredTotal, float64(expired))
	observeAdd(metrics.CleanupDeletedTotal, float64(deleted))
	log.Info().Int64("expired_tokens", expired).Int64("inactive_users", deleted).Msg("cleanup sweep completed")
	return &CleanupResult{ExpiredTokens: expired, InactiveUsers: deleted}, nil
}

func observe(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func observeAdd(c prometheus.Counter, v float64) {
	if c != nil {
		c.Add(v)
	}
}
