package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopost-hq/tokenvault/domain"
	"github.com/autopost-hq/tokenvault/internal/metrics"
)

// TokenExchanger exchanges a current long-lived token for a fresh one at the
// upstream identity provider. Implemented by graph.Client.
type TokenExchanger interface {
	ExchangeLongLivedToken(ctx context.Context, currentToken string) (string, error)
}

// RefreshToken exchanges the stored account token for a fresh long-lived one
// and persists it transactionally against the document's version counter.
//
// Failure semantics: an undecryptable stored token or a rejected upstream
// exchange both deactivate the credential and report ErrCredentialNotFound,
// forcing the user back through the connect flow. No automatic retry happens
// here; retry policy, if any, belongs to the caller.
func (s *TokenStore) RefreshToken(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := s.repo.FindByUserID(ctx, userID, true)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, domain.NewStoreError("load credential", err)
	}
	if !cred.IsActive {
		return nil, domain.ErrCredentialNotFound
	}

	currentToken, err := s.codec.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		log.Error().Str("user_id", userID).Msg("stored token undecryptable, deactivating credential")
		s.deactivate(ctx, cred)
		observe(metrics.TokenRefreshFailureTotal)
		return nil, domain.ErrCredentialNotFound
	}

	newToken, err := s.exchanger.ExchangeLongLivedToken(ctx, currentToken)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("token refresh rejected upstream, deactivating credential")
		s.deactivate(ctx, cred)
		observe(metrics.TokenRefreshFailureTotal)
		return nil, domain.ErrCredentialNotFound
	}

	encrypted, err := s.codec.Encrypt(newToken)
	if err != nil {
		return nil, domain.NewStoreError("encrypt refreshed token", err)
	}

	now := time.Now().UTC()
	cred.EncryptedAccessToken = encrypted
	cred.TokenExpiry = now.Add(s.opts.TokenTTL)
	cred.TokenRefreshedAt = now
	cred.LastActivity = now
	if err := s.repo.Update(ctx, cred); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// A concurrent refresh won the race; its token is as fresh as ours.
			return nil, domain.ErrVersionConflict
		}
		return nil, domain.NewStoreError("persist refreshed token", err)
	}

	observe(metrics.TokenRefreshSuccessTotal)
	log.Info().Str("user_id", userID).Time("token_expiry", cred.TokenExpiry).Msg("account token refreshed")
	return cred, nil
}

// GetValidToken is the only sanctioned way to obtain a usable credential:
// store lookup, proactive-refresh check, and at most one refresh attempt.
// A credential far from expiry performs zero upstream calls. Any failure
// reads as ErrCredentialNotFound so callers always route the user back
// through connect rather than using a token about to expire mid-request.
func (s *TokenStore) GetValidToken(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := s.GetByInternalID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !s.NeedsRefresh(cred) {
		return cred, nil
	}

	refreshed, err := s.RefreshToken(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// Lost the refresh race; re-read the winner's state.
			return s.GetByInternalID(ctx, userID)
		}
		return nil, err
	}
	return refreshed, nil
}

func (s *TokenStore) deactivate(ctx context.Context, cred *domain.Credential) {
	cred.IsActive = false
	cred.LastActivity = time.Now().UTC()
	if err := s.repo.Update(ctx, cred); err != nil && !errors.Is(err, domain.ErrVersionConflict) {
		log.Error().Err(err).Str("user_id", cred.UserID).Msg("failed to persist credential deactivation")
	}
}
