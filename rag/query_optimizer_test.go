package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeClassifiesIntent(t *testing.T) {
	o := NewQueryOptimizer()

	tests := []struct {
		query string
		want  QueryIntent
	}{
		{"what is a vector database?", IntentQuestion},
		{"how does reranking work", IntentQuestion},
		{"find documents about caching", IntentSearch},
		{"show me the latest report", IntentSearch},
		{"postgres vs mysql", IntentComparison},
		{"difference between bm25 and tf-idf", IntentComparison},
		{"explain reciprocal rank fusion", IntentExplanation},
		{"tell me about embeddings", IntentExplanation},
		{"kubernetes deployment yaml", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, o.Analyze(tt.query).Intent)
		})
	}
}

func TestAnalyzeShape(t *testing.T) {
	o := NewQueryOptimizer()

	a := o.Analyze("what is the capital of france?")
	assert.Equal(t, 6, a.Length)
	assert.True(t, a.HasQuestionMark)
	assert.False(t, a.IsShort)
	assert.False(t, a.IsLong)

	assert.True(t, o.Analyze("hi there").IsShort)

	long := strings.Repeat("word ", 25)
	assert.True(t, o.Analyze(long).IsLong)
}

func TestAnalyzeKeywordsDropStopWords(t *testing.T) {
	o := NewQueryOptimizer()

	a := o.Analyze("the cache and the database for an index")
	assert.Equal(t, []string{"cache", "database", "index"}, a.Keywords)
}

func TestOptimizeExpandsShortQuery(t *testing.T) {
	o := NewQueryOptimizer()

	assert.Equal(t, "kubernetes networking and more", o.Optimize("and more", "kubernetes networking"))

	// No previous query: nothing to expand with.
	assert.Equal(t, "and more", o.Optimize("and more", ""))
}

func TestOptimizeContractsLongQuery(t *testing.T) {
	o := NewQueryOptimizer()

	parts := make([]string, 25)
	for i := range parts {
		parts[i] = fmt.Sprintf("keyword%d", i)
	}
	optimized := o.Optimize(strings.Join(parts, " "), "")
	assert.Equal(t, "keyword0 keyword1 keyword2 keyword3 keyword4", optimized)
}

func TestOptimizePassesThroughMediumQuery(t *testing.T) {
	o := NewQueryOptimizer()

	q := "how do retrieval pipelines handle failures"
	assert.Equal(t, q, o.Optimize(q, "previous context"))
}

func TestQueryHistoryBounded(t *testing.T) {
	o := NewQueryOptimizer()

	for i := 0; i < maxHistory+20; i++ {
		o.RecordQuery(fmt.Sprintf("query %d", i), i)
	}

	all := o.History(0)
	require.Len(t, all, maxHistory)
	assert.Equal(t, fmt.Sprintf("query %d", maxHistory+19), all[len(all)-1].Query)

	recent := o.History(5)
	require.Len(t, recent, 5)
	assert.Equal(t, fmt.Sprintf("query %d", maxHistory+15), recent[0].Query)
}
