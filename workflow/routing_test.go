package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/altheaworks/queryflow/types"
)

func TestRoutingTable(t *testing.T) {
	docs := func(n int) []types.RetrievedDocument {
		out := make([]types.RetrievedDocument, n)
		for i := range out {
			out[i] = types.RetrievedDocument{Text: "doc"}
		}
		return out
	}

	tests := []struct {
		name      string
		completed string
		state     types.AgentState
		want      string
	}{
		{"analyze to rewrite", NodeAnalyze, types.AgentState{}, NodeRewrite},
		{"analyze with error", NodeAnalyze, types.AgentState{Error: "boom"}, NodeError},

		{"rewrite retrieval intent", NodeRewrite, types.AgentState{QueryIntent: types.IntentRetrieval}, NodeRetrieve},
		{"rewrite sql intent", NodeRewrite, types.AgentState{QueryIntent: types.IntentSQL}, NodeRetrieve},
		{"rewrite calculation intent", NodeRewrite, types.AgentState{QueryIntent: types.IntentCalculation}, NodeRespond},
		{"rewrite general intent", NodeRewrite, types.AgentState{QueryIntent: types.IntentGeneral}, NodeRespond},
		{"rewrite visualization intent", NodeRewrite, types.AgentState{QueryIntent: types.IntentVisualization}, NodeRespond},
		{"rewrite with error", NodeRewrite, types.AgentState{Error: "boom"}, NodeError},

		{"retrieve many documents", NodeRetrieve, types.AgentState{RetrievedDocuments: docs(5)}, NodeRerank},
		{"retrieve few documents", NodeRetrieve, types.AgentState{RetrievedDocuments: docs(3)}, NodeRespond},
		{"retrieve no documents", NodeRetrieve, types.AgentState{}, NodeRespond},
		{"retrieve failed", NodeRetrieve, types.AgentState{Error: "connection refused"}, NodeError},

		{"rerank to respond", NodeRerank, types.AgentState{RetrievedDocuments: docs(5)}, NodeRespond},

		{"respond to validate", NodeRespond, types.AgentState{}, NodeValidate},
		{"respond failure still validates", NodeRespond, types.AgentState{Error: "llm down"}, NodeValidate},

		{"validate accepted", NodeValidate, types.AgentState{CurrentStep: stepValidated}, NodeEnd},
		{"validate rejected with budget", NodeValidate, types.AgentState{CurrentStep: stepValidationFailed}, NodeRewrite},
		{"validate with error", NodeValidate, types.AgentState{CurrentStep: stepValidated, Error: "llm down"}, NodeError},

		{"error terminates", NodeError, types.AgentState{Error: "anything"}, NodeEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, route(tt.completed, &tt.state))
		})
	}
}
