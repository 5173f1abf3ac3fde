package domain

import "time"

// Credential is the persisted per-user document holding the encrypted Meta
// account token, expiry bookkeeping, and zero or more linked page credentials.
// One Credential exists per application user, keyed by UserID.
type Credential struct {
	ID         string `bson:"_id,omitempty" json:"id,omitempty"`
	UserID     string `bson:"user_id" json:"userId"` // Stable opaque identifier, unique.
	MetaUserID string `bson:"meta_user_id,omitempty" json:"metaUserId,omitempty"`
	UserName   string `bson:"user_name,omitempty" json:"userName,omitempty"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`

	// EncryptedAccessToken holds the long-lived account token, encrypted at
	// rest. Empty string means "no token yet". Excluded from default read
	// projections; only IncludeSecrets fetch paths populate it.
	EncryptedAccessToken string `bson:"encrypted_access_token" json:"-"`

	TokenExpiry      time.Time `bson:"token_expiry" json:"tokenExpiry"`
	TokenRefreshedAt time.Time `bson:"token_refreshed_at,omitempty" json:"tokenRefreshedAt,omitempty"`
	Permissions      []string  `bson:"permissions,omitempty" json:"permissions,omitempty"`

	Pages        []PageCredential `bson:"pages,omitempty" json:"pages,omitempty"`
	ActivePageID string           `bson:"active_page_id,omitempty" json:"activePageId,omitempty"`

	// Legacy mirror fields duplicate the active page for older readers.
	// They are a derived view: recomputed via SyncLegacyFields on every
	// write that touches Pages or ActivePageID, never mutated on their own.
	PageID       string `bson:"page_id,omitempty" json:"pageId,omitempty"`
	PageName     string `bson:"page_name,omitempty" json:"pageName,omitempty"`
	IGBusinessID string `bson:"ig_business_id,omitempty" json:"igBusinessId,omitempty"`
	IGUsername   string `bson:"ig_username,omitempty" json:"igUsername,omitempty"`

	IsActive             bool      `bson:"is_active" json:"isActive"`
	LastActivity         time.Time `bson:"last_activity" json:"lastActivity"`
	DataRetentionConsent time.Time `bson:"data_retention_consent,omitempty" json:"dataRetentionConsent,omitempty"`
	CreatedAt            time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updatedAt"`

	// Version is the optimistic concurrency counter. Every repository update
	// filters on the version it read and increments it, so a lost-update race
	// surfaces as ErrVersionConflict instead of silently clobbering.
	Version int64 `bson:"version" json:"-"`

	// IncludesSecrets records whether this instance was loaded with the
	// encrypted fields populated. Updates only write the secret fields back
	// when it is set, so a projection-trimmed read can never blank them.
	IncludesSecrets bool `bson:"-" json:"-"`
}

// PageCredential is one linked social page with its own encrypted token.
type PageCredential struct {
	PageID             string   `bson:"page_id" json:"pageId"`
	PageName           string   `bson:"page_name" json:"pageName"`
	EncryptedPageToken string   `bson:"encrypted_page_token" json:"-"`
	Category           string   `bson:"category,omitempty" json:"category,omitempty"`
	Tasks              []string `bson:"tasks,omitempty" json:"tasks,omitempty"`
	IGBusinessID       string   `bson:"ig_business_id,omitempty" json:"igBusinessId,omitempty"`
	IGUsername         string   `bson:"ig_username,omitempty" json:"igUsername,omitempty"`
}

// PageSummary is the token-free listing projection of a PageCredential.
type PageSummary struct {
	PageID       string   `json:"pageId"`
	PageName     string   `json:"pageName"`
	Category     string   `json:"category,omitempty"`
	Tasks        []string `json:"tasks,omitempty"`
	IGBusinessID string   `json:"igBusinessId,omitempty"`
	IGUsername   string   `json:"igUsername,omitempty"`
	IsActive     bool     `json:"isActive"`
}

// IsTokenExpired reports whether the account token's absolute expiry has passed.
func (c *Credential) IsTokenExpired(now time.Time) bool {
	return now.After(c.TokenExpiry)
}

// NeedsRefresh reports whether the token expires within the given window and
// should be proactively exchanged for a fresh one.
func (c *Credential) NeedsRefresh(now time.Time, window time.Duration) bool {
	return c.TokenExpiry.Before(now.Add(window))
}

// ActivePage returns the currently selected page, or nil when no page is
// selected or the selection no longer resolves.
func (c *Credential) ActivePage() *PageCredential {
	if c.ActivePageID == "" {
		return nil
	}
	for i := range c.Pages {
		if c.Pages[i].PageID == c.ActivePageID {
			return &c.Pages[i]
		}
	}
	return nil
}

// FindPage returns the linked page with the given id, or nil.
func (c *Credential) FindPage(pageID string) *PageCredential {
	for i := range c.Pages {
		if c.Pages[i].PageID == pageID {
			return &c.Pages[i]
		}
	}
	return nil
}

// PageSummaries projects the linked pages into their token-free listing form.
func (c *Credential) PageSummaries() []PageSummary {
	summaries := make([]PageSummary, 0, len(c.Pages))
	for _, p := range c.Pages {
		summaries = append(summaries, PageSummary{
			PageID:       p.PageID,
			PageName:     p.PageName,
			Category:     p.Category,
			Tasks:        p.Tasks,
			IGBusinessID: p.IGBusinessID,
			IGUsername:   p.IGUsername,
			IsActive:     p.PageID == c.ActivePageID,
		})
	}
	return summaries
}

// SyncLegacyFields recomputes the top-level mirror fields from the active
// page. Callers must invoke it after any change to Pages or ActivePageID.
func (c *Credential) SyncLegacyFields() {
	page := c.ActivePage()
	if page == nil {
		c.PageID = ""
		c.PageName = ""
		c.IGBusinessID = ""
		c.IGUsername = ""
		return
	}
	c.PageID = page.PageID
	c.PageName = page.PageName
	c.IGBusinessID = page.IGBusinessID
	c.IGUsername = page.IGUsername
}
