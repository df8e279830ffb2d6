package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/contextchat/contextchat/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func TestSaveAndGetRecentMessages(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	for i := 0; i < 5; i++ {
		msg := &database.Message{
			UserID:    "user-1",
			Content:   fmt.Sprintf("message %d", i),
			IsAI:      i%2 == 1,
			ContextID: fmt.Sprintf("ctx-%d", i/2),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %d failed: %v", i, err)
		}
		if msg.ID == 0 {
			t.Errorf("expected SaveMessage to populate ID for message %d", i)
		}
	}

	messages, err := store.GetRecentMessages(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"message 4", "message 3", "message 2"} {
		if messages[i].Content != want {
			t.Errorf("messages[%d].Content = %q, want %q (most-recent-first)", i, messages[i].Content, want)
		}
	}
}

func TestGetRecentMessagesEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	messages, err := store.GetRecentMessages(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty slice for unknown user, got %d messages", len(messages))
	}
}

func TestGetRecentMessagesLimitHandling(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		msg := &database.Message{
			UserID:    "user-1",
			Content:   fmt.Sprintf("m%d", i),
			ContextID: "c",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	// Non-positive limit falls back to the default of 10
	messages, err := store.GetRecentMessages(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(messages) != 10 {
		t.Errorf("expected default limit of 10, got %d messages", len(messages))
	}

	// Oversized limit is capped, not rejected
	messages, err = store.GetRecentMessages(ctx, "user-1", 5000)
	if err != nil {
		t.Fatalf("GetRecentMessages with oversized limit failed: %v", err)
	}
	if len(messages) != 12 {
		t.Errorf("expected all 12 messages under the cap, got %d", len(messages))
	}
}

func TestSaveMessageValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	testCases := []struct {
		name    string
		message *database.Message
	}{
		{name: "nil message", message: nil},
		{name: "missing user_id", message: &database.Message{Content: "c", ContextID: "x"}},
		{name: "missing content", message: &database.Message{UserID: "u", ContextID: "x"}},
		{name: "missing context_id", message: &database.Message{UserID: "u", Content: "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.SaveMessage(ctx, tc.message); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestGetUserContextAbsent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	userContext, err := store.GetUserContext(context.Background(), "first-timer")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if userContext != nil {
		t.Errorf("expected nil, nil for an unknown user, got %+v", userContext)
	}
}

func TestSaveUserContextUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	created := &database.UserContext{
		UserID:             "user-1",
		LearnedPreferences: database.PreferenceMap{"lastInteractionTopic": "general"},
		SystemInstructions: "first",
	}
	if err := store.SaveUserContext(ctx, created); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected insert to populate ID")
	}

	updated := &database.UserContext{
		UserID:             "user-1",
		LearnedPreferences: database.PreferenceMap{"lastInteractionTopic": "programming", "interactionCount": 2},
		SystemInstructions: "second",
		UpdatedAt:          time.Now().UTC().Add(time.Minute),
	}
	if err := store.SaveUserContext(ctx, updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored, err := store.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored context")
	}
	if stored.ID != created.ID {
		t.Errorf("update must not change the row ID: got %d, want %d", stored.ID, created.ID)
	}
	if stored.SystemInstructions != "second" {
		t.Errorf("system_instructions = %q, want %q", stored.SystemInstructions, "second")
	}
	if got := stored.LearnedPreferences["lastInteractionTopic"]; got != "programming" {
		t.Errorf("lastInteractionTopic = %v, want programming", got)
	}
	// JSON round-trip turns numbers into float64
	if got := stored.LearnedPreferences["interactionCount"]; got != float64(2) {
		t.Errorf("interactionCount = %v (%T), want float64(2)", got, got)
	}
}

func TestPreferenceMapRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	seed := &database.UserContext{
		UserID: "user-1",
		LearnedPreferences: database.PreferenceMap{
			"text":   "value",
			"number": 3.5,
			"flag":   true,
			"nested": map[string]any{"inner": "x"},
		},
	}
	if err := store.SaveUserContext(ctx, seed); err != nil {
		t.Fatalf("SaveUserContext failed: %v", err)
	}

	stored, err := store.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored context")
	}

	prefs := stored.LearnedPreferences
	if prefs["text"] != "value" || prefs["number"] != 3.5 || prefs["flag"] != true {
		t.Errorf("unexpected round-tripped preferences: %v", prefs)
	}
	nested, ok := prefs["nested"].(map[string]any)
	if !ok || nested["inner"] != "x" {
		t.Errorf("nested object did not survive the round trip: %v", prefs["nested"])
	}
}

func TestSaveUserContextNilPreferences(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	seed := &database.UserContext{UserID: "user-1"}
	if err := store.SaveUserContext(ctx, seed); err != nil {
		t.Fatalf("SaveUserContext failed: %v", err)
	}

	stored, err := store.GetUserContext(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserContext failed: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored context")
	}
	if stored.LearnedPreferences == nil || len(stored.LearnedPreferences) != 0 {
		t.Errorf("expected nil preferences to round-trip as an empty map, got %v", stored.LearnedPreferences)
	}
}

func TestDeleteMessagesBefore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &database.Message{UserID: "u", Content: "old", ContextID: "c1", CreatedAt: now.Add(-48 * time.Hour)}
	recent := &database.Message{UserID: "u", Content: "recent", ContextID: "c2", CreatedAt: now}
	for _, m := range []*database.Message{old, recent} {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	deleted, err := store.DeleteMessagesBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteMessagesBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted message, got %d", deleted)
	}

	messages, err := store.GetRecentMessages(ctx, "u", 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "recent" {
		t.Errorf("expected only the recent message to survive, got %v", messages)
	}
}

func TestRunMaintenance(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.RunMaintenance(context.Background()); err != nil {
		t.Errorf("RunMaintenance failed: %v", err)
	}
}
