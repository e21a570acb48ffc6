package types

import "time"

// Intent classifies what a query is asking for. It drives the routing
// decision after the rewrite step: retrieval and sql intents go through
// document retrieval, everything else answers directly.
type Intent string

const (
	IntentRetrieval     Intent = "retrieval"
	IntentSQL           Intent = "sql"
	IntentVisualization Intent = "visualization"
	IntentCalculation   Intent = "calculation"
	IntentGeneral       Intent = "general"
)

// RetrievedDocument is one candidate passage returned by retrieval.
// Score units depend on the stage that produced the document: cosine
// similarity for dense search, rank-fusion score for hybrid, cross-encoder
// logit for reranked results. Scores from different stages are not
// comparable.
type RetrievedDocument struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Citation points the final answer back at a source passage.
type Citation struct {
	SourceText string         `json:"source_text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AgentState is the single mutable record for one query execution.
// It is created by NewInitialState, mutated exclusively by node executions
// inside one workflow run, snapshotted by the checkpointer at node
// boundaries, and returned to the caller by the terminal node.
//
// AgentThoughts and ToolsUsed are append-only within one execution: the
// workflow merge rule concatenates updates to them and replaces everything
// else.
type AgentState struct {
	// Identity
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// Input. Immutable once set.
	UserQuery string `json:"user_query"`

	// Derived query fields
	QueryIntent    Intent  `json:"query_intent,omitempty"`
	RewrittenQuery string  `json:"rewritten_query,omitempty"`
	NeedsRewrite   bool    `json:"needs_rewrite"`
	Confidence     float64 `json:"confidence,omitempty"`

	// Retrieval
	RetrievedDocuments []RetrievedDocument `json:"retrieved_documents,omitempty"`
	RerankedDocuments  []RetrievedDocument `json:"reranked_documents,omitempty"`

	// Reasoning trace
	AgentThoughts []string `json:"agent_thoughts,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`

	// Output
	FinalResponse string     `json:"final_response,omitempty"`
	Citations     []Citation `json:"citations,omitempty"`

	// Control
	CurrentStep string `json:"current_step"`
	RetryCount  int    `json:"retry_count"`
	Error       string `json:"error,omitempty"`

	// Timestamps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewInitialState creates the state for a fresh query execution.
func NewInitialState(tenantID, userID, sessionID, userQuery string) *AgentState {
	return &AgentState{
		TenantID:    tenantID,
		UserID:      userID,
		SessionID:   sessionID,
		UserQuery:   userQuery,
		CurrentStep: "initialized",
		StartedAt:   time.Now().UTC(),
	}
}

// Clone returns a deep copy of the state. Streaming events and checkpoint
// snapshots use clones so later node executions cannot mutate them.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	c := *s
	c.RetrievedDocuments = cloneDocuments(s.RetrievedDocuments)
	c.RerankedDocuments = cloneDocuments(s.RerankedDocuments)
	c.AgentThoughts = append([]string(nil), s.AgentThoughts...)
	c.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	c.Citations = cloneCitations(s.Citations)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Documents returns the best available document set: reranked when the
// rerank step ran, retrieved otherwise.
func (s *AgentState) Documents() []RetrievedDocument {
	if len(s.RerankedDocuments) > 0 {
		return s.RerankedDocuments
	}
	return s.RetrievedDocuments
}

func cloneDocuments(docs []RetrievedDocument) []RetrievedDocument {
	if docs == nil {
		return nil
	}
	out := make([]RetrievedDocument, len(docs))
	for i, d := range docs {
		out[i] = d
		out[i].Metadata = cloneMetadata(d.Metadata)
	}
	return out
}

func cloneCitations(cits []Citation) []Citation {
	if cits == nil {
		return nil
	}
	out := make([]Citation, len(cits))
	for i, c := range cits {
		out[i] = c
		out[i].Metadata = cloneMetadata(c.Metadata)
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
