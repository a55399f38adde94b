package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
	"github.com/rand/mnemosyne-sub002/internal/namespace"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanOne/scanMany.
const memoryColumns = `id, namespace, content, memory_type, importance, base_importance,
	access_count, summary, keywords, confidence, embedding,
	superseded_by, created_at, updated_at, last_accessed_at`

// maxChainDepth bounds supersession chain walks. A well-formed store never
// gets close; the bound exists so a corrupted chain cannot loop forever.
const maxChainDepth = 100

// MemoryStore handles Memory CRUD operations on SQLite.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a new memory. The caller must have validated the fields;
// importance range is also enforced by a CHECK constraint.
func (s *MemoryStore) Insert(m *models.Memory) error {
	var keywordsJSON *string
	if len(m.Keywords) > 0 {
		b, _ := json.Marshal(m.Keywords)
		str := string(b)
		keywordsJSON = &str
	}

	_, err := s.db.Exec(`
		INSERT INTO memories (
			id, namespace, content, memory_type, importance, base_importance,
			access_count, summary, keywords, confidence, embedding,
			superseded_by, created_at, updated_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Namespace, m.Content, string(m.Type), m.Importance, m.BaseImportance,
		m.AccessCount, nullIfEmpty(m.Summary), keywordsJSON, m.Confidence, m.Embedding,
		m.SupersededBy, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// InsertConsolidated writes one merge outcome atomically: the new memory,
// superseded_by on every source, and a consolidated_from link per source.
// Either the whole merge commits or none of it does.
func (s *MemoryStore) InsertConsolidated(m *models.Memory, sourceIDs []string) error {
	var keywordsJSON *string
	if len(m.Keywords) > 0 {
		b, _ := json.Marshal(m.Keywords)
		str := string(b)
		keywordsJSON = &str
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin consolidation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO memories (
			id, namespace, content, memory_type, importance, base_importance,
			access_count, summary, keywords, confidence, embedding,
			superseded_by, created_at, updated_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Namespace, m.Content, string(m.Type), m.Importance, m.BaseImportance,
		m.AccessCount, nullIfEmpty(m.Summary), keywordsJSON, m.Confidence, m.Embedding,
		m.SupersededBy, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt,
	); err != nil {
		return fmt.Errorf("insert consolidated memory: %w", err)
	}

	now := time.Now().Unix()
	for _, src := range sourceIDs {
		res, err := tx.Exec(`
			UPDATE memories SET superseded_by = ?, updated_at = ?
			WHERE id = ? AND superseded_by IS NULL
		`, m.ID, now, src)
		if err != nil {
			return fmt.Errorf("supersede source %s: %w", src, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: source %s vanished or already superseded", models.ErrConflict, src)
		}
		if _, err := tx.Exec(`
			INSERT INTO memory_links (source_id, target_id, link_type, strength, created_at, updated_at)
			VALUES (?, ?, ?, 1.0, ?, ?)
			ON CONFLICT(source_id, target_id, link_type) DO NOTHING
		`, m.ID, src, models.LinkConsolidatedFrom, now, now); err != nil {
			return fmt.Errorf("link source %s: %w", src, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consolidation: %w", err)
	}
	return nil
}

// GetByID fetches a single memory by ID. Returns models.ErrNotFound when the
// id does not exist.
func (s *MemoryStore) GetByID(id string) (*models.Memory, error) {
	m, err := s.scanOne(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory %s: %w", id, models.ErrNotFound)
	}
	return m, err
}

// GetByIDs fetches multiple memories in a single query. Missing ids are
// silently absent from the result.
func (s *MemoryStore) GetByIDs(ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`,
			memoryColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// PrefixOptions filters a ByPrefix query.
type PrefixOptions struct {
	IncludeSuperseded bool
	MinImportance     int
	RequireEmbedding  bool
}

// ByPrefix returns all memories whose namespace falls under the given scope.
// Containment is hierarchical: project:myapp matches project:myapp and
// project:myapp:frontend, never project:myapp2.
func (s *MemoryStore) ByPrefix(scope namespace.Scope, opts PrefixOptions) ([]*models.Memory, error) {
	prefix := scope.String()
	conditions := []string{`(namespace = ? OR namespace LIKE ? ESCAPE '\')`}
	args := []any{prefix, escapeLike(prefix) + ":%"}

	if !opts.IncludeSuperseded {
		conditions = append(conditions, "superseded_by IS NULL")
	}
	if opts.MinImportance > 0 {
		conditions = append(conditions, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if opts.RequireEmbedding {
		conditions = append(conditions, "embedding IS NOT NULL")
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at`,
		memoryColumns, strings.Join(conditions, " AND "))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("by prefix: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// AllEmbedded returns every live memory that has an embedding, across all
// namespaces. Used to rebuild the vector index at startup.
func (s *MemoryStore) AllEmbedded() ([]*models.Memory, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM memories WHERE embedding IS NOT NULL AND superseded_by IS NULL`,
		memoryColumns))
	if err != nil {
		return nil, fmt.Errorf("all embedded: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// SetEnrichment attaches enrichment output to an existing memory. The memory
// was durable before this is called; enrichment is always a soft add-on.
func (s *MemoryStore) SetEnrichment(id string, summary string, keywords []string, confidence float64, embedding []byte) error {
	var keywordsJSON *string
	if len(keywords) > 0 {
		b, _ := json.Marshal(keywords)
		str := string(b)
		keywordsJSON = &str
	}
	res, err := s.db.Exec(`
		UPDATE memories SET summary = ?, keywords = ?, confidence = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`, nullIfEmpty(summary), keywordsJSON, confidence, embedding, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// IncrementAccessCount bumps a memory's access count and last_accessed_at.
func (s *MemoryStore) IncrementAccessCount(id string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?, updated_at = ?
		WHERE id = ?
	`, now, now, id)
	return err
}

// SetImportance writes a recalibrated importance. Only the recalibrator
// calls this; it passes values already clamped to [1,10].
func (s *MemoryStore) SetImportance(id string, importance int) error {
	res, err := s.db.Exec(`
		UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?
	`, importance, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set importance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Supersede marks oldID as superseded by newID. The write is rejected when
// it would close a cycle: the chain starting at newID is walked first, and
// reaching oldID means the edge may not be written. Already-superseded
// memories may not be superseded again. The walk and the update share one
// transaction, which holds the pool's single connection, so a concurrent
// supersession write cannot slip between the check and the write.
func (s *MemoryStore) Supersede(oldID, newID string) error {
	if oldID == newID {
		return &models.ValidationError{Field: "newMemoryId", Reason: "memory cannot supersede itself"}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback()

	cur := newID
	for i := 0; i < maxChainDepth; i++ {
		var next sql.NullString
		err := tx.QueryRow(`SELECT superseded_by FROM memories WHERE id = ?`, cur).Scan(&next)
		if err == sql.ErrNoRows {
			return fmt.Errorf("memory %s: %w", cur, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("walk supersession chain: %w", err)
		}
		if !next.Valid || next.String == "" {
			break
		}
		if next.String == oldID {
			return &models.ValidationError{Field: "newMemoryId", Reason: "supersession edge would create a cycle"}
		}
		cur = next.String
	}

	now := time.Now().Unix()
	res, err := tx.Exec(`
		UPDATE memories SET superseded_by = ?, updated_at = ?
		WHERE id = ? AND superseded_by IS NULL
	`, newID, now, oldID)
	if err != nil {
		return fmt.Errorf("supersede memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing from already-superseded for the caller.
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM memories WHERE id = ?`, oldID).Scan(&exists); err == sql.ErrNoRows {
			return fmt.Errorf("memory %s: %w", oldID, models.ErrNotFound)
		}
		return &models.ValidationError{Field: "id", Reason: "memory is already superseded"}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit supersede: %w", err)
	}
	return nil
}

// ResolveSupersessionChain follows superseded_by edges from id and returns
// the final, non-superseded memory. Terminates immediately on a memory that
// has not been superseded.
func (s *MemoryStore) ResolveSupersessionChain(id string) (*models.Memory, error) {
	cur := id
	for i := 0; i < maxChainDepth; i++ {
		m, err := s.GetByID(cur)
		if err != nil {
			return nil, err
		}
		if !m.IsSuperseded() {
			return m, nil
		}
		cur = *m.SupersededBy
	}
	return nil, fmt.Errorf("supersession chain from %s exceeds %d hops", id, maxChainDepth)
}

// CountByType returns total, superseded, and per-type counts.
func (s *MemoryStore) CountByType() (total, superseded int, byType map[string]int, err error) {
	byType = make(map[string]int)

	if err = s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		return
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE superseded_by IS NOT NULL`).Scan(&superseded); err != nil {
		return
	}

	rows, err := s.db.Query(`SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var mt string
		var c int
		if err = rows.Scan(&mt, &c); err != nil {
			return
		}
		byType[mt] = c
	}
	err = rows.Err()
	return
}

func (s *MemoryStore) scanOne(row *sql.Row) (*models.Memory, error) {
	var m models.Memory
	var summary, keywordsJSON, supersededBy sql.NullString
	var confidence sql.NullFloat64
	var lastAccessedAt sql.NullInt64

	err := row.Scan(
		&m.ID, &m.Namespace, &m.Content, &m.Type, &m.Importance, &m.BaseImportance,
		&m.AccessCount, &summary, &keywordsJSON, &confidence, &m.Embedding,
		&supersededBy, &m.CreatedAt, &m.UpdatedAt, &lastAccessedAt,
	)
	if err != nil {
		return nil, err
	}
	populateNullables(&m, summary, keywordsJSON, confidence, supersededBy, lastAccessedAt)
	return &m, nil
}

func (s *MemoryStore) scanMany(rows *sql.Rows) ([]*models.Memory, error) {
	var result []*models.Memory
	for rows.Next() {
		var m models.Memory
		var summary, keywordsJSON, supersededBy sql.NullString
		var confidence sql.NullFloat64
		var lastAccessedAt sql.NullInt64

		if err := rows.Scan(
			&m.ID, &m.Namespace, &m.Content, &m.Type, &m.Importance, &m.BaseImportance,
			&m.AccessCount, &summary, &keywordsJSON, &confidence, &m.Embedding,
			&supersededBy, &m.CreatedAt, &m.UpdatedAt, &lastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		populateNullables(&m, summary, keywordsJSON, confidence, supersededBy, lastAccessedAt)
		result = append(result, &m)
	}
	return result, rows.Err()
}

func populateNullables(m *models.Memory, summary, keywordsJSON sql.NullString, confidence sql.NullFloat64, supersededBy sql.NullString, lastAccessedAt sql.NullInt64) {
	if summary.Valid {
		m.Summary = summary.String
	}
	if keywordsJSON.Valid {
		json.Unmarshal([]byte(keywordsJSON.String), &m.Keywords)
	}
	if confidence.Valid {
		m.Confidence = &confidence.Float64
	}
	if supersededBy.Valid {
		m.SupersededBy = &supersededBy.String
	}
	if lastAccessedAt.Valid {
		m.LastAccessedAt = &lastAccessedAt.Int64
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// escapeLike escapes LIKE metacharacters so a namespace prefix containing
// '_' or '%' matches literally instead of as a wildcard.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
