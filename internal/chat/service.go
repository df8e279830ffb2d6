package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/contextchat/contextchat/internal/database"
)

// CompletionClient is the boundary to the external text-generation
// service. Implementations must not mutate any pipeline state.
type CompletionClient interface {
	Complete(ctx context.Context, request PromptRequest) (string, error)
}

// Service orchestrates one exchange per incoming message: fetch context,
// compose the prompt, call the backend, persist the turn. Each call is
// independent and stateless between invocations; all durable state lives
// in the record store, so concurrent calls for different users (or rapid
// successive calls for the same user) are safe.
type Service struct {
	logger       *slog.Logger
	store        database.Store
	preferences  *Preferences
	backend      CompletionClient
	validate     *validator.Validate
	historyLimit int
}

// NewService creates the chat service with explicitly injected
// dependencies. historyLimit bounds the prior-turn window embedded in
// each prompt.
func NewService(logger *slog.Logger, store database.Store, backend CompletionClient, historyLimit int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Service{
		logger:       logger.With("component", "chat_service"),
		store:        store,
		preferences:  NewPreferences(store, logger),
		backend:      backend,
		validate:     validator.New(),
		historyLimit: historyLimit,
	}
}

// SendMessage runs the full pipeline for one user message and returns the
// AI response text.
//
// Store fetch failures degrade gracefully: the prompt is composed with
// empty history and preferences rather than aborting the exchange. A
// backend failure is fatal and nothing is written. A persistence failure
// after a successful completion is logged but does not withhold the
// response from the caller.
func (s *Service) SendMessage(ctx context.Context, userID, message string, settings Settings) (string, error) {
	if s.backend == nil {
		return "", fmt.Errorf("%w: no completion backend configured", ErrMissingCredential)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: no signed-in user", ErrMissingCredential)
	}
	if message == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	if err := s.validate.Struct(settings); err != nil {
		return "", fmt.Errorf("invalid settings: %w", err)
	}

	history, userContext := s.fetchContext(ctx, userID)

	preferences := database.PreferenceMap{}
	if userContext != nil {
		preferences = userContext.LearnedPreferences
		if userContext.SystemInstructions != "" {
			settings.SystemInstructions = userContext.SystemInstructions
		}
	}

	request := Compose(settings, history, preferences, message)
	s.logger.DebugContext(ctx, "Prompt composed",
		"user_id", userID, "history_count", len(history), "prompt_bytes", len(request.Text))

	response, err := s.backend.Complete(ctx, request)
	if err != nil {
		s.logger.ErrorContext(ctx, "Completion backend call failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}

	// The write phase is entered only after a successful completion, so a
	// cancelled or failed backend call leaves no partial records behind.
	if err := s.recordExchange(ctx, userID, message, response, preferences); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist exchange, returning response anyway",
			"user_id", userID, "error", err)
	}

	return response, nil
}

// History returns the most recent messages for a user, most-recent-first,
// for rendering by the caller. Read-only.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]database.Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: no signed-in user", ErrMissingCredential)
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	messages, err := s.store.GetRecentMessages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return messages, nil
}

// fetchContext loads conversation history and the user context. The two
// fetches have no mutual ordering requirement and run concurrently. Either
// failing degrades to empty data with a warning; the exchange proceeds.
func (s *Service) fetchContext(ctx context.Context, userID string) ([]database.Message, *database.UserContext) {
	var (
		history     []database.Message
		userContext *database.UserContext
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		messages, err := s.store.GetRecentMessages(gCtx, userID, s.historyLimit)
		if err != nil {
			s.logger.WarnContext(gCtx, "History fetch failed, proceeding without prior turns",
				"user_id", userID, "error", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
			return nil
		}
		history = messages
		return nil
	})

	g.Go(func() error {
		fetched, err := s.preferences.Fetch(gCtx, userID)
		if err != nil {
			s.logger.WarnContext(gCtx, "User context fetch failed, proceeding without preferences",
				"user_id", userID, "error", err)
			return nil
		}
		userContext = fetched
		return nil
	})

	_ = g.Wait() // both goroutines degrade instead of failing

	return history, userContext
}

// recordExchange persists the user turn and the AI turn as a linked pair
// and merges newly inferred preference signals into the user context.
// The two inserts are not atomic as a pair; a failure between them leaves
// the user turn recorded without its reply.
func (s *Service) recordExchange(ctx context.Context, userID, userMessage, aiResponse string, currentPreferences database.PreferenceMap) error {
	contextID := uuid.NewString()

	userTurn := &database.Message{
		UserID:    userID,
		Content:   userMessage,
		IsAI:      false,
		ContextID: contextID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, userTurn); err != nil {
		return fmt.Errorf("%w: user turn: %v", ErrWriteFailure, err)
	}

	aiTurn := &database.Message{
		UserID:    userID,
		Content:   aiResponse,
		IsAI:      true,
		ContextID: contextID,
		CreatedAt: time.Now().UTC(),
	}
	if aiTurn.CreatedAt.Before(userTurn.CreatedAt) {
		aiTurn.CreatedAt = userTurn.CreatedAt
	}
	if err := s.store.SaveMessage(ctx, aiTurn); err != nil {
		return fmt.Errorf("%w: ai turn: %v", ErrWriteFailure, err)
	}

	inferred := InferPreferences(userMessage, currentPreferences)
	if err := s.preferences.MergeAndPersist(ctx, userID, inferred); err != nil {
		return fmt.Errorf("%w: preferences: %v", ErrWriteFailure, err)
	}

	s.logger.DebugContext(ctx, "Exchange recorded",
		"user_id", userID, "context_id", contextID)
	return nil
}
