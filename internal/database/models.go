package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message represents one turn half in a conversation: either a user
// message or the AI reply paired with it. The two halves of an exchange
// share a ContextID. Messages are immutable once written.
type Message struct {
	ID        uint      `db:"id"`
	UserID    string    `db:"user_id"`
	Content   string    `db:"content"`
	IsAI      bool      `db:"is_ai"`
	ContextID string    `db:"context_id"`
	CreatedAt time.Time `db:"created_at"`
}

// UserContext holds per-user accumulated state: learned preference
// signals and an optional system-instruction override. There is at most
// one row per user; it is created lazily on the first exchange and
// merge-updated on every subsequent one.
type UserContext struct {
	ID                 uint          `db:"id"`
	UserID             string        `db:"user_id"`
	LearnedPreferences PreferenceMap `db:"learned_preferences"`
	SystemInstructions string        `db:"system_instructions"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

// PreferenceMap is a string-to-JSON-value map stored as a JSON text
// column. Validation happens at this boundary: scanning rejects rows
// whose column content is not a JSON object.
type PreferenceMap map[string]any

// Value implements driver.Valuer, serializing the map as JSON.
func (p PreferenceMap) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference map: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner, deserializing a JSON object column.
func (p *PreferenceMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = PreferenceMap{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into PreferenceMap", src)
	}

	if len(data) == 0 {
		*p = PreferenceMap{}
		return nil
	}

	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("invalid preference map column: %w", err)
	}
	*p = m
	return nil
}
