package store

import (
	"context"
	"fmt"
	"strings"
)

// BM25Result holds an FTS5 match result.
type BM25Result struct {
	RowID int64
	ID    string
	Rank  float64
}

// BM25Store handles full-text search via SQLite FTS5.
type BM25Store struct {
	db *DB
}

func NewBM25Store(db *DB) *BM25Store {
	return &BM25Store{db: db}
}

// Search performs BM25 full-text search scoped to a namespace subtree.
// Returns memory IDs ranked by BM25 score (lower rank = better match).
// Superseded memories are excluded; the consolidated record that replaced
// them carries their content.
func (s *BM25Store) Search(ctx context.Context, query, namespace string, limit int) ([]BM25Result, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}

	// bm25() returns negative values where more negative = better match,
	// so we negate to get positive scores where higher = better.
	q := `
		SELECT m.rowid, m.id, -rank AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND (m.namespace = ? OR m.namespace LIKE ? ESCAPE '\')
		  AND m.superseded_by IS NULL
		ORDER BY rank
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, q, sanitized, namespace, escapeLike(namespace)+":%", limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		if err := rows.Scan(&r.RowID, &r.ID, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan bm25 result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// sanitizeFTSQuery quotes each term so user input cannot inject FTS5
// query syntax (NEAR, column filters, boolean operators).
func sanitizeFTSQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}
