package models

// MemoryType classifies what kind of knowledge a memory represents.
// The set is closed; unknown types are a validation error at ingestion.
type MemoryType string

const (
	MemoryTypeInsight              MemoryType = "insight"
	MemoryTypeArchitectureDecision MemoryType = "architecture_decision"
	MemoryTypeDecision             MemoryType = "decision"
	MemoryTypeTask                 MemoryType = "task"
	MemoryTypeReference            MemoryType = "reference"
)

var ValidMemoryTypes = map[MemoryType]bool{
	MemoryTypeInsight:              true,
	MemoryTypeArchitectureDecision: true,
	MemoryTypeDecision:             true,
	MemoryTypeTask:                 true,
	MemoryTypeReference:            true,
}

func (t MemoryType) IsValid() bool {
	return ValidMemoryTypes[t]
}

// Importance bounds. Values outside the range are a validation error at the
// ingestion boundary; only the recalibrator clamps internally.
const (
	MinImportance = 1
	MaxImportance = 10
)

// CreateRequest is the payload for POST /memories.
type CreateRequest struct {
	Content    string     `json:"content"`
	Namespace  string     `json:"namespace"`
	Importance int        `json:"importance"`
	Type       MemoryType `json:"type"`
}

// CreateResponse is returned from POST /memories.
type CreateResponse struct {
	ID string `json:"id"`
}

// SearchRequest is the payload for POST /memories/search.
type SearchRequest struct {
	Query         string `json:"query"`
	Namespace     string `json:"namespace"`
	Limit         int    `json:"limit"`
	MinImportance int    `json:"minImportance"`
	SessionID     string `json:"sessionId,omitempty"`
}

// MemorySummary is a single ranked retrieval result.
type MemorySummary struct {
	ID         string     `json:"id"`
	Namespace  string     `json:"namespace"`
	Type       MemoryType `json:"type"`
	Importance int        `json:"importance"`
	Summary    string     `json:"summary,omitempty"`
	Content    string     `json:"content"`
	Keywords   []string   `json:"keywords,omitempty"`
	Score      float64    `json:"score"`
	CreatedAt  int64      `json:"createdAt"`
}

// SearchResponse is returned from POST /memories/search.
type SearchResponse struct {
	Results []MemorySummary `json:"results"`
	Meta    SearchMeta      `json:"meta"`
}

type SearchMeta struct {
	TotalCandidates int  `json:"totalCandidates"`
	Truncated       bool `json:"truncated"`
	LearnerUsed     bool `json:"learnerUsed"`
	SearchTimeMs    int  `json:"searchTimeMs"`
}

// LinkRequest is the payload for POST /memories/{id}/links.
type LinkRequest struct {
	TargetID string  `json:"targetId"`
	LinkType string  `json:"linkType"`
	Strength float64 `json:"strength"`
}

// SupersedeRequest is the payload for POST /memories/{id}/supersede.
type SupersedeRequest struct {
	NewMemoryID string `json:"newMemoryId"`
}

// SupersedeResponse is returned from POST /memories/{id}/supersede.
type SupersedeResponse struct {
	SupersededID string `json:"supersededId"`
	NewMemoryID  string `json:"newMemoryId"`
}

// ConsolidateRequest is the payload for POST /consolidate.
type ConsolidateRequest struct {
	Namespace string `json:"namespace"`
	DryRun    bool   `json:"dryRun"`
}

// MergeProposal describes one candidate cluster merge. In dry-run mode it is
// a proposal only; otherwise ConsolidatedID is the id of the new memory.
type MergeProposal struct {
	SourceIDs      []string `json:"sourceIds"`
	ConsolidatedID string   `json:"consolidatedId,omitempty"`
	Importance     int      `json:"importance"`
	Content        string   `json:"content"`
}

// AmbiguousCluster reports a cluster skipped because its similarity signals
// conflict. Nothing in the cluster is modified.
type AmbiguousCluster struct {
	MemberIDs []string `json:"memberIds"`
	Reason    string   `json:"reason"`
}

// ConsolidateResponse is returned from POST /consolidate.
type ConsolidateResponse struct {
	Proposals []MergeProposal    `json:"proposals"`
	Skipped   []AmbiguousCluster `json:"skipped,omitempty"`
	DryRun    bool               `json:"dryRun"`
}

// RecalibrateRequest is the payload for POST /recalibrate.
type RecalibrateRequest struct {
	Namespace string `json:"namespace"`
}

// RecalibrateResponse is returned from POST /recalibrate.
type RecalibrateResponse struct {
	Examined int `json:"examined"`
	Adjusted int `json:"adjusted"`
}

// Evaluation is a privacy-filtered feedback record for one (session, context)
// pair. It never contains raw task text; TaskHash is the only task
// identifier, and keyword lists are capped and screened before persistence.
type Evaluation struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionId"`
	ContextType    string   `json:"contextType"`
	ContextID      string   `json:"contextId"`
	TaskHash       string   `json:"taskHash"`
	ProvidedAt     int64    `json:"providedAt"`
	AccessedAt     *int64   `json:"accessedAt,omitempty"`
	TimeToAccessMs *int64   `json:"timeToAccessMs,omitempty"`
	Edited         bool     `json:"edited"`
	Committed      bool     `json:"committed"`
	Completed      bool     `json:"completed"`
	SuccessScore   *float64 `json:"successScore,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// FeedbackRequest is the payload for POST /feedback: a context was provided
// to (or interacted with during) a task.
type FeedbackRequest struct {
	SessionID      string   `json:"sessionId"`
	ContextType    string   `json:"contextType"`
	ContextID      string   `json:"contextId"`
	Task           string   `json:"task"` // hashed before persistence, never stored raw
	Keywords       []string `json:"keywords,omitempty"`
	Signal         string   `json:"signal"` // provided | accessed | edited | committed
	TimeToAccessMs *int64   `json:"timeToAccessMs,omitempty"`
}

// Feedback signal names.
const (
	SignalProvided  = "provided"
	SignalAccessed  = "accessed"
	SignalEdited    = "edited"
	SignalCommitted = "committed"
)

// OutcomeRequest is the payload for POST /sessions/{id}/outcome: the terminal
// completion signal that feeds the learner.
type OutcomeRequest struct {
	SuccessScore float64 `json:"successScore"`
}

// StatsResponse is returned from GET /stats.
type StatsResponse struct {
	TotalMemories int            `json:"totalMemories"`
	Superseded    int            `json:"superseded"`
	ByType        map[string]int `json:"byType"`
	Evaluations   int            `json:"evaluations"`
	WeightScopes  int            `json:"weightScopes"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	DB          ServiceCheck `json:"db"`
	Enrichment  ServiceCheck `json:"enrichment"`
	MemoryCount int          `json:"memoryCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
