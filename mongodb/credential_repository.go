package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/autopost-hq/tokenvault/domain"
)

// CredentialRepository implements domain.CredentialRepository on MongoDB.
type CredentialRepository struct {
	db    *mongo.Database
	creds *mongo.Collection
}

// NewCredentialRepository creates the repository and ensures its indexes.
func NewCredentialRepository(ctx context.Context, db *mongo.Database) (domain.CredentialRepository, error) {
	repo := &CredentialRepository{
		db:    db,
		creds: db.Collection(CredentialsCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		// Index creation commonly fails when compatible indexes already
		// exist; log and continue rather than blocking startup.
		log.Warn().Err(err).Msg("Failed to create credential indexes (may already exist)")
	}
	return repo, nil
}

func (r *CredentialRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}},
		},
		// Compound indexes backing the cleanup sweeps.
		{
			Keys: bson.D{{Key: "token_expiry", Value: 1}, {Key: "is_active", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "last_activity", Value: 1}, {Key: "is_active", Value: 1}},
		},
	}

	_, err := r.creds.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for credentials collection: %w", err)
	}
	return nil
}

// secretFreeProjection excludes the encrypted token fields. Every read uses
// it unless the caller explicitly asked for secrets.
func secretFreeProjection() bson.M {
	return bson.M{
		"encrypted_access_token":     0,
		"pages.encrypted_page_token": 0,
	}
}

// Create inserts a new credential document.
func (r *CredentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	if cred.ID == "" {
		cred.ID = bson.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.Version = 1
	cred.Email = strings.ToLower(cred.Email)

	_, err := r.creds.InsertOne(ctx, cred)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("credential for user already exists: %w", err)
		}
		log.Error().Err(err).Str("user_id", cred.UserID).Msg("Error creating credential in MongoDB")
		return err
	}
	cred.IncludesSecrets = true
	return nil
}

// FindByUserID retrieves a credential by its internal user id.
func (r *CredentialRepository) FindByUserID(ctx context.Context, userID string, includeSecrets bool) (*domain.Credential, error) {
	return r.findOne(ctx, bson.M{"user_id": userID}, includeSecrets)
}

// FindByEmail retrieves a credential by email (stored lowercased).
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string, includeSecrets bool) (*domain.Credential, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)}, includeSecrets)
}

func (r *CredentialRepository) findOne(ctx context.Context, filter bson.M, includeSecrets bool) (*domain.Credential, error) {
	opts := options.FindOne()
	if !includeSecrets {
		opts.SetProjection(secretFreeProjection())
	}

	var cred domain.Credential
	err := r.creds.FindOne(ctx, filter, opts).Decode(&cred)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCredentialNotFound
		}
		log.Error().Err(err).Msg("Error reading credential from MongoDB")
		return nil, err
	}
	cred.IncludesSecrets = includeSecrets
	return &cred, nil
}

// Update persists the credential with optimistic concurrency: the write is
// filtered on the version the caller read and bumps it by one. The encrypted
// fields are only written back when the instance was loaded with secrets.
func (r *CredentialRepository) Update(ctx context.Context, cred *domain.Credential) error {
	if cred.UserID == "" {
		return errors.New("credential user id is required for update")
	}
	cred.UpdatedAt = time.Now().UTC()

	set := bson.M{
		"meta_user_id":           cred.MetaUserID,
		"user_name":              cred.UserName,
		"email":                  strings.ToLower(cred.Email),
		"token_expiry":           cred.TokenExpiry,
		"token_refreshed_at":     cred.TokenRefreshedAt,
		"permissions":            cred.Permissions,
		"active_page_id":         cred.ActivePageID,
		"page_id":                cred.PageID,
		"page_name":              cred.PageName,
		"ig_business_id":         cred.IGBusinessID,
		"ig_username":            cred.IGUsername,
		"is_active":              cred.IsActive,
		"last_activity":          cred.LastActivity,
		"data_retention_consent": cred.DataRetentionConsent,
		"updated_at":             cred.UpdatedAt,
	}
	if cred.IncludesSecrets {
		set["encrypted_access_token"] = cred.EncryptedAccessToken
		set["pages"] = cred.Pages
	}

	filter := bson.M{"user_id": cred.UserID, "version": cred.Version}
	result, err := r.creds.UpdateOne(ctx, filter, bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if err != nil {
		log.Error().Err(err).Str("user_id", cred.UserID).Msg("Error updating credential in MongoDB")
		return err
	}
	if result.MatchedCount == 0 {
		// Distinguish a vanished document from a concurrent writer.
		count, countErr := r.creds.CountDocuments(ctx, bson.M{"user_id": cred.UserID})
		if countErr != nil {
			return countErr
		}
		if count == 0 {
			return domain.ErrCredentialNotFound
		}
		return domain.ErrVersionConflict
	}
	cred.Version++
	return nil
}

// Delete removes a credential document entirely.
func (r *CredentialRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.creds.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Error deleting credential from MongoDB")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

// DeactivateExpired flips is_active off on every record whose token expiry
// has passed.
func (r *CredentialRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.creds.UpdateMany(ctx,
		bson.M{"token_expiry": bson.M{"$lt": now}, "is_active": true},
		bson.M{
			"$set": bson.M{"is_active": false, "last_activity": now, "updated_at": now},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		log.Error().Err(err).Msg("Error deactivating expired credentials")
		return 0, err
	}
	return result.ModifiedCount, nil
}

// DeleteInactiveBefore hard-deletes inactive records idle since before cutoff.
func (r *CredentialRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.creds.DeleteMany(ctx,
		bson.M{"is_active": false, "last_activity": bson.M{"$lt": cutoff}})
	if err != nil {
		log.Error().Err(err).Msg("Error deleting inactive credentials")
		return 0, err
	}
	return result.DeletedCount, nil
}

// Ensure interface compliance
var _ domain.CredentialRepository = (*CredentialRepository)(nil)
