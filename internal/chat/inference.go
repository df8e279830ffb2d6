package chat

import (
	"encoding/json"
	"strings"

	"github.com/contextchat/contextchat/internal/database"
)

// Preference keys written by the inference step.
const (
	prefKeyTopic            = "lastInteractionTopic"
	prefKeyInteractionCount = "interactionCount"
)

// InferPreferences derives preference signals from a new user message:
// a coarse topic classification and a running interaction counter. The
// heuristic is deterministic and deliberately simple; it is not a
// stand-in for a richer inference subsystem.
func InferPreferences(message string, existing database.PreferenceMap) database.PreferenceMap {
	topic := "general"
	if strings.Contains(strings.ToLower(message), "javascript") {
		topic = "programming"
	}

	return database.PreferenceMap{
		prefKeyTopic:            topic,
		prefKeyInteractionCount: previousCount(existing) + 1,
	}
}

// previousCount reads the stored interaction count, tolerating the
// numeric types a JSON column round-trip can produce. Missing or
// malformed values count as zero.
func previousCount(existing database.PreferenceMap) int64 {
	if existing == nil {
		return 0
	}

	switch v := existing[prefKeyInteractionCount].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
