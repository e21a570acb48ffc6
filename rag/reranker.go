package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// Reranker reorders retrieval candidates by relevance. Implementations
// must return a permutation of the input: no candidate is added or
// dropped, only scores and order change.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

// CrossEncoder scores a single query-document pair. Higher is more
// relevant; raw scores may be unbounded logits.
type CrossEncoder interface {
	Score(ctx context.Context, query, document string) (float64, error)
}

// CrossEncoderConfig configures the cross-encoder reranker.
type CrossEncoderConfig struct {
	ModelName string `json:"model_name"`
	// MaxLength bounds document text sent to the model, in tokens;
	// content is truncated at roughly 4 bytes per token.
	MaxLength int `json:"max_length"`
}

// DefaultCrossEncoderConfig returns the default configuration.
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{
		ModelName: "cross-encoder/ms-marco-MiniLM-L-6-v2",
		MaxLength: 512,
	}
}

// CrossEncoderReranker reorders candidates purely by cross-encoder score.
// Fused scores are kept on the results but do not influence the order.
type CrossEncoderReranker struct {
	encoder CrossEncoder
	config  CrossEncoderConfig
	logger  *zap.Logger
}

// NewCrossEncoderReranker creates a cross-encoder reranker.
func NewCrossEncoderReranker(encoder CrossEncoder, config CrossEncoderConfig, logger *zap.Logger) *CrossEncoderReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossEncoderReranker{
		encoder: encoder,
		config:  config,
		logger:  logger,
	}
}

// Rerank scores every candidate against the query and sorts by score,
// best first. Any scoring failure fails the whole call so the caller can
// keep the fused order.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	reranked := make([]Result, len(results))
	copy(reranked, results)

	for i := range reranked {
		content := reranked[i].Document.Content
		if max := r.config.MaxLength * 4; max > 0 && len(content) > max {
			content = content[:max]
		}

		score, err := r.encoder.Score(ctx, query, content)
		if err != nil {
			return nil, fmt.Errorf("failed to score document %s: %w", reranked[i].Document.ID, err)
		}

		// Sigmoid normalization keeps scores comparable across models
		// that emit raw logits.
		reranked[i].RerankScore = 1.0 / (1.0 + math.Exp(-score))
		reranked[i].FinalScore = reranked[i].RerankScore
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].FinalScore > reranked[j].FinalScore
	})

	r.logger.Debug("reranking completed",
		zap.String("model", r.config.ModelName),
		zap.Int("candidates", len(reranked)),
		zap.Float64("top_score", reranked[0].FinalScore))

	return reranked, nil
}

// SimpleReranker is a lexical fallback reranker built on term overlap,
// term frequency, and term proximity. It needs no external model.
type SimpleReranker struct {
	logger *zap.Logger
}

// NewSimpleReranker creates a lexical reranker.
func NewSimpleReranker(logger *zap.Logger) *SimpleReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleReranker{logger: logger}
}

// Rerank reorders candidates by a blend of lexical features.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	queryTerms := tokenize(query)

	reranked := make([]Result, len(results))
	copy(reranked, results)

	for i := range reranked {
		docTerms := tokenize(reranked[i].Document.Content)

		exactMatch := exactMatchScore(queryTerms, docTerms)
		termFreq := termFrequencyScore(queryTerms, docTerms)
		proximity := proximityScore(queryTerms, docTerms)

		reranked[i].RerankScore = exactMatch*0.4 + termFreq*0.4 + proximity*0.2
		reranked[i].FinalScore = reranked[i].RerankScore
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].FinalScore > reranked[j].FinalScore
	})

	return reranked, nil
}

// exactMatchScore is the fraction of query terms present in the document.
func exactMatchScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0.0
	}

	docSet := make(map[string]struct{}, len(docTerms))
	for _, dt := range docTerms {
		docSet[dt] = struct{}{}
	}

	matched := 0
	for _, qt := range queryTerms {
		if _, ok := docSet[qt]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// termFrequencyScore rewards repeated query terms, capped at 1.
func termFrequencyScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0.0
	}

	freq := make(map[string]int, len(docTerms))
	for _, dt := range docTerms {
		freq[dt]++
	}

	total := 0
	for _, qt := range queryTerms {
		total += freq[qt]
	}
	return math.Min(float64(total)/float64(len(queryTerms)*3), 1.0)
}

// proximityScore rewards query terms appearing close together, based on
// the minimum span between any two query-term occurrences.
func proximityScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) <= 1 {
		return 1.0
	}

	querySet := make(map[string]struct{}, len(queryTerms))
	for _, qt := range queryTerms {
		querySet[qt] = struct{}{}
	}

	positions := []int{}
	for i, dt := range docTerms {
		if _, ok := querySet[dt]; ok {
			positions = append(positions, i)
		}
	}
	if len(positions) < 2 {
		return 0.0
	}

	minSpan := len(docTerms)
	for i := 1; i < len(positions); i++ {
		if span := positions[i] - positions[i-1]; span < minSpan {
			minSpan = span
		}
	}
	return 1.0 / (1.0 + float64(minSpan)/10.0)
}
