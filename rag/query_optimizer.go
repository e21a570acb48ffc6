package rag

import (
	"strings"
	"sync"
	"time"
)

// QueryIntent classifies what kind of answer a query expects.
type QueryIntent string

const (
	IntentQuestion    QueryIntent = "question"
	IntentSearch      QueryIntent = "search"
	IntentComparison  QueryIntent = "comparison"
	IntentExplanation QueryIntent = "explanation"
	IntentGeneral     QueryIntent = "general"
)

// QueryAnalysis describes the lexical shape of a query.
type QueryAnalysis struct {
	OriginalQuery   string      `json:"original_query"`
	Length          int         `json:"length"`
	HasQuestionMark bool        `json:"has_question_mark"`
	IsShort         bool        `json:"is_short"`
	IsLong          bool        `json:"is_long"`
	Keywords        []string    `json:"keywords"`
	Intent          QueryIntent `json:"intent"`
}

// QueryHistoryEntry records one optimized query and its result count.
type QueryHistoryEntry struct {
	Query      string    `json:"query"`
	Timestamp  time.Time `json:"timestamp"`
	NumResults int       `json:"num_results"`
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {},
}

const (
	shortQueryWords = 5
	longQueryWords  = 20
	maxKeywords     = 5
	maxHistory      = 100
)

// QueryOptimizer analyzes queries and rewrites them for better retrieval:
// short queries are expanded with the previous query, long ones contracted
// to their top keywords. Safe for concurrent use.
type QueryOptimizer struct {
	mu      sync.Mutex
	history []QueryHistoryEntry
}

// NewQueryOptimizer creates a query optimizer with empty history.
func NewQueryOptimizer() *QueryOptimizer {
	return &QueryOptimizer{}
}

// Analyze reports the lexical characteristics of a query.
func (o *QueryOptimizer) Analyze(query string) QueryAnalysis {
	words := strings.Fields(query)
	return QueryAnalysis{
		OriginalQuery:   query,
		Length:          len(words),
		HasQuestionMark: strings.Contains(query, "?"),
		IsShort:         len(words) < shortQueryWords,
		IsLong:          len(words) > longQueryWords,
		Keywords:        extractKeywords(query),
		Intent:          classifyIntent(query),
	}
}

// Optimize rewrites the query. Short queries are prefixed with
// previousQuery when one is available; long queries are contracted to
// their top keywords. Other queries pass through unchanged.
func (o *QueryOptimizer) Optimize(query, previousQuery string) string {
	analysis := o.Analyze(query)

	optimized := query
	if analysis.IsShort && previousQuery != "" {
		optimized = previousQuery + " " + query
	}
	if analysis.IsLong {
		keywords := analysis.Keywords
		if len(keywords) > maxKeywords {
			keywords = keywords[:maxKeywords]
		}
		optimized = strings.Join(keywords, " ")
	}
	return optimized
}

// RecordQuery appends a query to the bounded history log.
func (o *QueryOptimizer) RecordQuery(query string, numResults int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, QueryHistoryEntry{
		Query:      query,
		Timestamp:  time.Now().UTC(),
		NumResults: numResults,
	})
	if len(o.history) > maxHistory {
		o.history = o.history[len(o.history)-maxHistory:]
	}
}

// History returns up to limit most recent entries, oldest first.
func (o *QueryOptimizer) History(limit int) []QueryHistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]QueryHistoryEntry, limit)
	copy(out, o.history[len(o.history)-limit:])
	return out
}

// extractKeywords drops stop words and very short tokens.
func extractKeywords(query string) []string {
	words := tokenize(query)
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop || len(w) <= 2 {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

// classifyIntent buckets the query by its leading cue words. Question
// words win over search verbs, which win over comparison markers.
func classifyIntent(query string) QueryIntent {
	lower := strings.ToLower(query)

	contains := func(markers ...string) bool {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("what", "who", "where", "when", "why", "how"):
		return IntentQuestion
	case contains("find", "search", "look for", "show me"):
		return IntentSearch
	case contains("compare", "difference", "versus", "vs"):
		return IntentComparison
	case contains("explain", "describe", "tell me about"):
		return IntentExplanation
	default:
		return IntentGeneral
	}
}
