package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/adpilot/internal/model"
)

const knowledgeColumns = `id, org_id, key, category, fact, confidence, source, tags, validation_count, created_at, updated_at`

// UpsertKnowledge inserts an entry or re-affirms the existing (org, key)
// entry: the fact is replaced, tags merged, the validation count bumped and
// confidence folded in as a running mean (see model.BlendConfidence).
func (db *DB) UpsertKnowledge(ctx context.Context, k model.KnowledgeEntry) (model.KnowledgeEntry, error) {
	now := time.Now().UTC()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.Tags == nil {
		k.Tags = []string{}
	}
	k.Confidence = model.ClampConfidence(k.Confidence)

	var out model.KnowledgeEntry
	err := retry(ctx, func() error {
		return db.pool.QueryRow(ctx,
			`INSERT INTO knowledge (id, org_id, key, category, fact, confidence, source, tags, validation_count, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			 ON CONFLICT (org_id, key) DO UPDATE SET
			     fact = EXCLUDED.fact,
			     category = CASE WHEN EXCLUDED.category <> '' THEN EXCLUDED.category ELSE knowledge.category END,
			     source = CASE WHEN EXCLUDED.source <> '' THEN EXCLUDED.source ELSE knowledge.source END,
			     confidence = LEAST(1, GREATEST(0,
			         (knowledge.confidence * knowledge.validation_count + EXCLUDED.confidence)
			         / (knowledge.validation_count + 1))),
			     tags = ARRAY(SELECT DISTINCT t FROM unnest(knowledge.tags || EXCLUDED.tags) AS t ORDER BY t),
			     validation_count = knowledge.validation_count + 1,
			     updated_at = EXCLUDED.updated_at
			 RETURNING `+knowledgeColumns,
			k.ID, k.OrgID, k.Key, k.Category, k.Fact, k.Confidence, k.Source, k.Tags, now,
		).Scan(
			&out.ID, &out.OrgID, &out.Key, &out.Category, &out.Fact, &out.Confidence, &out.Source,
			&out.Tags, &out.ValidationCount, &out.CreatedAt, &out.UpdatedAt,
		)
	})
	if err != nil {
		return model.KnowledgeEntry{}, fmt.Errorf("storage: upsert knowledge: %w", err)
	}
	return out, nil
}

// ListKnowledge returns entries matching f ordered by confidence, highest first.
func (db *DB) ListKnowledge(ctx context.Context, f model.KnowledgeFilter) ([]model.KnowledgeEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(clause, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if f.OrgID != uuid.Nil {
		add("org_id = $?", f.OrgID)
	}
	if f.Category != "" {
		add("category = $?", f.Category)
	}
	if f.Tag != "" {
		add("$? = ANY(tags)", f.Tag)
	}
	if f.Query != "" {
		add("(key ILIKE $? OR fact ILIKE $?)", "%"+f.Query+"%")
	}
	if f.MinConfidence > 0 {
		add("confidence >= $?", f.MinConfidence)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT " + knowledgeColumns + " FROM knowledge"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY confidence DESC, updated_at DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list knowledge: %w", err)
	}
	defer rows.Close()

	var out []model.KnowledgeEntry
	for rows.Next() {
		var k model.KnowledgeEntry
		if err := rows.Scan(
			&k.ID, &k.OrgID, &k.Key, &k.Category, &k.Fact, &k.Confidence, &k.Source,
			&k.Tags, &k.ValidationCount, &k.CreatedAt, &k.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan knowledge: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
