package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessages retrieves the most recent 'limit' messages for a
	// given user, most-recent-first. Returns an empty slice when the user
	// has no history.
	GetRecentMessages(ctx context.Context, userID string, limit int) ([]Message, error)

	// GetUserContext retrieves a user context by user ID. Returns nil, nil
	// when no context exists yet (expected for first-time users).
	GetUserContext(ctx context.Context, userID string) (*UserContext, error)

	// SaveUserContext inserts or updates a user context keyed by user ID.
	SaveUserContext(ctx context.Context, userContext *UserContext) error

	// DeleteMessagesBefore removes messages created before the cutoff and
	// returns how many were deleted. Used by scheduled maintenance.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.UserID == "" {
		return fmt.Errorf("message must have a non-empty user_id")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.ContextID == "" {
		return fmt.Errorf("message must have a non-empty context_id")
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO messages (user_id, content, is_ai, context_id, created_at)
        VALUES (:user_id, :content, :is_ai, :context_id, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to save message for user %s: %w", message.UserID, err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"user_id", message.UserID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"user_id", message.UserID, "message_id", message.ID, "is_ai", message.IsAI)
	return nil
}

// GetRecentMessages retrieves the most recent 'limit' messages for a user,
// ordered most-recent-first. Ties on created_at fall back to insertion order.
func (s *sqlxStore) GetRecentMessages(ctx context.Context, userID string, limit int) ([]Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "user_id", userID, "default_limit", limit)
	} else if limit > maxHistoryLimit {
		limit = maxHistoryLimit
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "user_id", userID, "capped_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	messages := []Message{}
	query := `
        SELECT id, user_id, content, is_ai, context_id, created_at
        FROM messages
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, userID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"user_id", userID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "user_id", userID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for user %s: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Fetched recent messages successfully", "user_id", userID, "count", len(messages))
	return messages, nil
}

// GetUserContext retrieves a user context by user ID. Returns nil, nil if not found.
func (s *sqlxStore) GetUserContext(ctx context.Context, userID string) (*UserContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var userContext UserContext
	query := `SELECT id, user_id, learned_preferences, system_instructions, created_at, updated_at
	          FROM user_contexts WHERE user_id = ?`

	err := s.db.GetContext(ctx, &userContext, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First-time users have no context yet; not an error
		s.logger.DebugContext(ctx, "No user context found", "user_id", userID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user context",
			"user_id", userID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user context", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user context for user %s: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Successfully retrieved user context", "user_id", userID)
	return &userContext, nil
}

// SaveUserContext inserts or updates a user context based on UserID.
// Uses a transaction to keep the exists-check and the write together.
func (s *sqlxStore) SaveUserContext(ctx context.Context, userContext *UserContext) error {
	if userContext == nil {
		return fmt.Errorf("cannot save nil user context")
	}
	if userContext.UserID == "" {
		return fmt.Errorf("user context must have a non-empty user_id")
	}

	now := time.Now().UTC()
	if userContext.UpdatedAt.IsZero() {
		userContext.UpdatedAt = now
	}
	if userContext.CreatedAt.IsZero() {
		userContext.CreatedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving user context",
			"user_id", userContext.UserID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT 1 FROM user_contexts WHERE user_id = ? LIMIT 1`, userContext.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if user context exists",
			"user_id", userContext.UserID, "error", err)
		return fmt.Errorf("failed to check if user context exists for user %s: %w", userContext.UserID, err)
	}

	var result sql.Result
	if exists {
		query := `
			UPDATE user_contexts SET
				learned_preferences = :learned_preferences,
				system_instructions = :system_instructions,
				updated_at = :updated_at
			WHERE user_id = :user_id
		`
		result, err = tx.NamedExecContext(ctx, query, userContext)
	} else {
		query := `
			INSERT INTO user_contexts (
				user_id, learned_preferences, system_instructions, created_at, updated_at
			) VALUES (
				:user_id, :learned_preferences, :system_instructions, :created_at, :updated_at
			)
		`
		result, err = tx.NamedExecContext(ctx, query, userContext)
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving user context",
			"user_id", userContext.UserID, "error", err)
		return fmt.Errorf("failed to save user context for user %s: %w", userContext.UserID, err)
	}

	if !exists {
		id, err := result.LastInsertId()
		if err == nil {
			//nolint:gosec // integer overflow conversion is acceptable here
			userContext.ID = uint(id)
		} else {
			s.logger.WarnContext(ctx, "Could not get last insert ID for user context",
				"user_id", userContext.UserID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"user_id", userContext.UserID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	operation := "updated"
	if !exists {
		operation = "created"
	}
	s.logger.DebugContext(ctx, "User context saved successfully",
		"operation", operation, "user_id", userContext.UserID)
	return nil
}

// DeleteMessagesBefore removes messages created before the cutoff time.
func (s *sqlxStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting old messages", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to delete messages before %s: %w", cutoff, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted old messages", "cutoff", cutoff, "count", count)
	return count, nil
}

// RunMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
