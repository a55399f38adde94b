package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// LinkStore handles memory_links operations on SQLite. Links are append-only:
// repeated writes of the same (source, target, type) strengthen the edge
// rather than replacing it, and nothing ever deletes a link directly.
type LinkStore struct {
	db *DB
}

func NewLinkStore(db *DB) *LinkStore {
	return &LinkStore{db: db}
}

// Create records a typed edge with the given strength. Strength stays in
// [0,1] both at creation and as re-created edges accumulate reinforcement.
func (s *LinkStore) Create(ctx context.Context, sourceID, targetID, linkType string, strength float64) error {
	if strength < 0 {
		strength = 0
	} else if strength > 1 {
		strength = 1
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_links (source_id, target_id, link_type, strength, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, link_type) DO UPDATE SET
			strength = MIN(1.0, strength + ?),
			updated_at = ?
	`, sourceID, targetID, linkType, strength, now, now, strength, now)
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

// ForMemory returns links touching the given memory in either direction,
// strongest first.
func (s *LinkStore) ForMemory(ctx context.Context, id string, limit int) ([]models.Link, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, link_type, strength, created_at, updated_at
		FROM memory_links
		WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC
		LIMIT ?
	`, id, id, limit)
	if err != nil {
		return nil, fmt.Errorf("links for memory: %w", err)
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.LinkType, &l.Strength, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountForMemories returns the inbound+outbound link count per memory id.
// Used by the recalibrator, which needs counts for a whole scope at once.
func (s *LinkStore) CountForMemories(ctx context.Context, ids []string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id FROM memory_links
	`)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	defer rows.Close()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, fmt.Errorf("scan link edge: %w", err)
		}
		if want[src] {
			counts[src]++
		}
		if want[tgt] {
			counts[tgt]++
		}
	}
	return counts, rows.Err()
}
