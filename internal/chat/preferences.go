package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contextchat/contextchat/internal/database"
)

// Preferences provides access to the per-user preference document
// stored as a UserContext record.
type Preferences struct {
	store  database.Store
	logger *slog.Logger
}

// NewPreferences creates a preference store backed by the given record store.
func NewPreferences(store database.Store, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preferences{
		store:  store,
		logger: logger.With("component", "preferences"),
	}
}

// Fetch retrieves the user context for a user. Returns nil, nil when no
// context exists yet; absence is an expected outcome for first-time users.
func (p *Preferences) Fetch(ctx context.Context, userID string) (*database.UserContext, error) {
	userContext, err := p.store.GetUserContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return userContext, nil
}

// MergeAndPersist performs a read-modify-write on the user's preference
// document: fetch the current context (treating absence as an empty map),
// shallow-merge newPreferences over the existing keys, bump updated_at,
// and upsert by user ID.
//
// Concurrent merges for the same user are last-writer-wins on the merged
// map; no per-user lock or optimistic-concurrency token is held. The
// single-writer SQLite pool serializes the writes in practice, but the
// contract does not depend on it.
func (p *Preferences) MergeAndPersist(ctx context.Context, userID string, newPreferences database.PreferenceMap) error {
	existing, err := p.store.GetUserContext(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch user context for merge: %w", err)
	}

	merged := database.PreferenceMap{}
	userContext := &database.UserContext{UserID: userID}
	if existing != nil {
		*userContext = *existing
		for k, v := range existing.LearnedPreferences {
			merged[k] = v
		}
	}
	for k, v := range newPreferences {
		merged[k] = v
	}

	now := time.Now().UTC()
	if existing != nil && !now.After(existing.UpdatedAt) {
		// updated_at must strictly increase even when merges land within
		// the clock's resolution
		now = existing.UpdatedAt.Add(time.Millisecond)
	}

	userContext.LearnedPreferences = merged
	userContext.UpdatedAt = now

	if err := p.store.SaveUserContext(ctx, userContext); err != nil {
		return fmt.Errorf("failed to persist merged preferences: %w", err)
	}

	p.logger.DebugContext(ctx, "Merged and persisted preferences",
		"user_id", userID, "keys_merged", len(newPreferences), "keys_total", len(merged))
	return nil
}
