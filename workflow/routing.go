package workflow

import "github.com/altheaworks/queryflow/types"

// Node names. NodeEnd is a pseudo-node that terminates the run.
const (
	NodeAnalyze  = "analyze"
	NodeRewrite  = "rewrite"
	NodeRetrieve = "retrieve"
	NodeRerank   = "rerank"
	NodeRespond  = "respond"
	NodeValidate = "validate"
	NodeError    = "error"
	NodeEnd      = "end"
)

// rerankThreshold is the document count above which the retrieve result
// goes through the rerank node.
const rerankThreshold = 3

// route returns the successor of a completed node. An error on the state
// always diverts to the error handler, which in turn always terminates.
func route(completed string, state *types.AgentState) string {
	if completed == NodeError {
		return NodeEnd
	}
	if state.Error != "" && completed != NodeRespond {
		// The respond node's failures still pass through validate so the
		// retry policy sees the draft; everything else goes straight to
		// the error handler.
		return NodeError
	}

	switch completed {
	case NodeAnalyze:
		return NodeRewrite
	case NodeRewrite:
		if state.QueryIntent == types.IntentRetrieval || state.QueryIntent == types.IntentSQL {
			return NodeRetrieve
		}
		return NodeRespond
	case NodeRetrieve:
		if len(state.RetrievedDocuments) > rerankThreshold {
			return NodeRerank
		}
		return NodeRespond
	case NodeRerank:
		return NodeRespond
	case NodeRespond:
		return NodeValidate
	case NodeValidate:
		if state.CurrentStep == stepValidationFailed {
			return NodeRewrite
		}
		return NodeEnd
	default:
		return NodeEnd
	}
}
