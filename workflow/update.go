// Package workflow implements the query-answering state machine:
// analyze, rewrite, retrieve, rerank, respond, validate, and a terminal
// error handler, executed by an Engine that applies conditional routing,
// bounded retry, and best-effort checkpointing after every node.
package workflow

import (
	"time"

	"github.com/altheaworks/queryflow/types"
)

// Update is the partial state change a node returns. Nil pointer fields
// are left untouched; AgentThoughts and ToolsUsed are append-only and
// concatenated onto the state, never replaced.
type Update struct {
	QueryIntent        *types.Intent
	RewrittenQuery     *string
	NeedsRewrite       *bool
	Confidence         *float64
	RetrievedDocuments *[]types.RetrievedDocument
	RerankedDocuments  *[]types.RetrievedDocument
	FinalResponse      *string
	Citations          *[]types.Citation
	CurrentStep        string
	RetryCount         *int
	Error              *string
	CompletedAt        *time.Time

	AgentThoughts []string
	ToolsUsed     []string
}

// Apply merges an update into the state in place. This is the single
// merge rule of the state machine: the two trace fields are concatenated,
// every other set field replaces the previous value.
func Apply(state *types.AgentState, u Update) {
	if u.QueryIntent != nil {
		state.QueryIntent = *u.QueryIntent
	}
	if u.RewrittenQuery != nil {
		state.RewrittenQuery = *u.RewrittenQuery
	}
	if u.NeedsRewrite != nil {
		state.NeedsRewrite = *u.NeedsRewrite
	}
	if u.Confidence != nil {
		state.Confidence = *u.Confidence
	}
	if u.RetrievedDocuments != nil {
		state.RetrievedDocuments = *u.RetrievedDocuments
	}
	if u.RerankedDocuments != nil {
		state.RerankedDocuments = *u.RerankedDocuments
	}
	if u.FinalResponse != nil {
		state.FinalResponse = *u.FinalResponse
	}
	if u.Citations != nil {
		state.Citations = *u.Citations
	}
	if u.CurrentStep != "" {
		state.CurrentStep = u.CurrentStep
	}
	if u.RetryCount != nil {
		state.RetryCount = *u.RetryCount
	}
	if u.Error != nil {
		state.Error = *u.Error
	}
	if u.CompletedAt != nil {
		state.CompletedAt = u.CompletedAt
	}

	state.AgentThoughts = append(state.AgentThoughts, u.AgentThoughts...)
	state.ToolsUsed = append(state.ToolsUsed, u.ToolsUsed...)
}

func ptr[T any](v T) *T { return &v }
