package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInitialState(t *testing.T) {
	s := NewInitialState("t1", "u1", "sess-1", "what is our refund policy?")

	assert.Equal(t, "t1", s.TenantID)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, "what is our refund policy?", s.UserQuery)
	assert.Equal(t, "initialized", s.CurrentStep)
	assert.Zero(t, s.RetryCount)
	assert.Nil(t, s.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), s.StartedAt, time.Second)
}

func TestAgentState_Clone_IsDeep(t *testing.T) {
	now := time.Now().UTC()
	s := NewInitialState("t1", "u1", "sess-1", "q")
	s.AgentThoughts = []string{"a"}
	s.ToolsUsed = []string{"vector_search"}
	s.RetrievedDocuments = []RetrievedDocument{
		{Text: "doc", Score: 0.9, Metadata: map[string]any{"source": "kb"}},
	}
	s.Citations = []Citation{{SourceText: "doc", Score: 0.9}}
	s.CompletedAt = &now

	c := s.Clone()
	require.NotNil(t, c)

	c.AgentThoughts = append(c.AgentThoughts, "b")
	c.ToolsUsed[0] = "calculator"
	c.RetrievedDocuments[0].Metadata["source"] = "web"
	*c.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, []string{"a"}, s.AgentThoughts)
	assert.Equal(t, "vector_search", s.ToolsUsed[0])
	assert.Equal(t, "kb", s.RetrievedDocuments[0].Metadata["source"])
	assert.Equal(t, now, *s.CompletedAt)
}

func TestAgentState_Clone_Nil(t *testing.T) {
	var s *AgentState
	assert.Nil(t, s.Clone())
}

func TestAgentState_Documents_PrefersReranked(t *testing.T) {
	s := NewInitialState("t", "u", "s", "q")
	s.RetrievedDocuments = []RetrievedDocument{{Text: "a"}, {Text: "b"}}
	assert.Len(t, s.Documents(), 2)

	s.RerankedDocuments = []RetrievedDocument{{Text: "b"}}
	assert.Len(t, s.Documents(), 1)
	assert.Equal(t, "b", s.Documents()[0].Text)
}
