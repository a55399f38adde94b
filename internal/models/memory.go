package models

// Memory is the core domain entity stored in SQLite.
type Memory struct {
	ID        string     `json:"id"`
	Namespace string     `json:"namespace"`
	Content   string     `json:"content"`
	Type      MemoryType `json:"type"`

	// Importance is the current 1..10 priority; BaseImportance is the value
	// set at ingestion and is the stable input the recalibrator recomputes
	// from, so recalibration is idempotent.
	Importance     int `json:"importance"`
	BaseImportance int `json:"baseImportance"`

	AccessCount int `json:"accessCount"`

	// Enrichment fields are nullable as a group: a memory is durable and
	// complete without them.
	Summary    string   `json:"summary,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Embedding  []byte   `json:"-"`

	SupersededBy *string `json:"supersededBy,omitempty"`

	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
	LastAccessedAt *int64 `json:"lastAccessedAt,omitempty"`
}

// IsSuperseded reports whether the memory has been replaced.
func (m *Memory) IsSuperseded() bool {
	return m.SupersededBy != nil && *m.SupersededBy != ""
}

// HasEmbedding reports whether enrichment produced an embedding vector.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Enrichment is the output of the external summarizer collaborator. All
// fields are optional; absence is a valid state.
type Enrichment struct {
	Summary    string    `json:"summary"`
	Keywords   []string  `json:"keywords"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding"`
}

// MaxEnrichmentKeywords bounds the keyword set attached to a memory.
const MaxEnrichmentKeywords = 8

// Link is a directed typed edge between two memories. Links are append-only.
type Link struct {
	ID        int64   `json:"id"`
	SourceID  string  `json:"sourceId"`
	TargetID  string  `json:"targetId"`
	LinkType  string  `json:"linkType"`
	Strength  float64 `json:"strength"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
}

// Known link types. LinkType is an open string so callers can add their own,
// but these are the ones the engine itself writes or interprets.
const (
	LinkRelatesTo        = "relates_to"
	LinkSupersedes       = "supersedes"
	LinkImplements       = "implements"
	LinkConsolidatedFrom = "consolidated_from"
	LinkCoAccessed       = "co_accessed"
)

// EmbeddingCacheEntry is a persisted embedding keyed by content hash, so
// re-enriching identical content never re-calls the embedding model.
type EmbeddingCacheEntry struct {
	ContentHash string
	Embedding   []byte
	Dimension   int
	Model       string
	UpdatedAt   int64
}
