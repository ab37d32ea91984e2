package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MinTurnContentLength is the number of characters a turn must exceed to be remembered
const MinTurnContentLength = 5

type MemoryRole string

const (
	MemoryRoleUser      MemoryRole = "user"
	MemoryRoleAssistant MemoryRole = "assistant"
)

// Metadata keys understood by memory stores when categorizing a turn
const (
	MemoryMetaSource     = "source"
	MemoryMetaPage       = "page"
	MemoryMetaCategory   = "category"
	MemoryMetaRoleType   = "role_type"
	MemoryMetaLocation   = "location"
	MemoryMetaInterest   = "interest"
	MemoryMetaExperience = "experience"
)

// MemoryTurn is a single conversation turn written to the external memory service
type MemoryTurn struct {
	UserID    string         `json:"userId" firestore:"user_id"`
	Role      MemoryRole     `json:"role" firestore:"role"`
	Content   string         `json:"content" firestore:"content"`
	Metadata  map[string]any `json:"metadata,omitempty" firestore:"metadata"`
	CreatedAt time.Time      `json:"-" firestore:"created_at"`
}

// ShouldStore reports whether the turn qualifies for a memory write: a user identity
// exists and the content is longer than MinTurnContentLength.
func (t *MemoryTurn) ShouldStore() bool {
	if t == nil || t.UserID == "" {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(t.Content)) > MinTurnContentLength
}

// Entities is the categorized snapshot the memory service keeps per user
type Entities struct {
	Roles       []string `json:"roles" firestore:"roles"`
	Locations   []string `json:"locations" firestore:"locations"`
	Interests   []string `json:"interests" firestore:"interests"`
	Experiences []string `json:"experiences" firestore:"experiences"`
}

// Count returns the number of entities across all categories
func (e *Entities) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Roles) + len(e.Locations) + len(e.Interests) + len(e.Experiences)
}

// EntityHints returns the entities a turn's metadata names explicitly
func (t *MemoryTurn) EntityHints() Entities {
	var e Entities
	if t == nil {
		return e
	}
	hint := func(key string) []string {
		if s, ok := t.Metadata[key].(string); ok && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
		return nil
	}
	e.Roles = hint(MemoryMetaRoleType)
	e.Locations = hint(MemoryMetaLocation)
	e.Interests = hint(MemoryMetaInterest)
	e.Experiences = hint(MemoryMetaExperience)
	return e
}
