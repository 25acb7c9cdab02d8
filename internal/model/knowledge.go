package model

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeEntry is a learned fact scoped to an organization. Entries are
// upserted by (Key, OrgID) and never deleted.
type KnowledgeEntry struct {
	ID              uuid.UUID `json:"id"`
	OrgID           uuid.UUID `json:"org_id"`
	Key             string    `json:"key"`
	Category        string    `json:"category"`
	Fact            string    `json:"fact"`
	Confidence      float64   `json:"confidence"`
	Source          string    `json:"source,omitempty"`
	Tags            []string  `json:"tags"`
	ValidationCount int       `json:"validation_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// KnowledgeFilter narrows knowledge queries. Zero values are ignored.
type KnowledgeFilter struct {
	OrgID         uuid.UUID
	Category      string
	Tag           string
	Query         string // case-insensitive substring over key and fact
	MinConfidence float64
	Limit         int
}

// BlendConfidence folds a re-affirmation into the stored confidence as a
// running mean over validations, clamped to [0,1].
func BlendConfidence(stored float64, validations int, incoming float64) float64 {
	if validations < 1 {
		validations = 1
	}
	c := (stored*float64(validations) + incoming) / float64(validations+1)
	return ClampConfidence(c)
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
