package rag

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Embedder embeds text into a fixed-length vector. Implemented by external
// embedding services; injected into the retriever.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Document is one corpus entry.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is one scored retrieval candidate. Each stage writes its own score
// field; FinalScore holds the score of the last stage that ran.
type Result struct {
	Document    Document `json:"document"`
	SparseScore float64  `json:"sparse_score"`
	DenseScore  float64  `json:"dense_score"`
	FusedScore  float64  `json:"fused_score"`
	RerankScore float64  `json:"rerank_score,omitempty"`
	FinalScore  float64  `json:"final_score"`
}

// HybridRetrievalConfig configures the hybrid retriever.
type HybridRetrievalConfig struct {
	// TopK is the number of results returned to the caller.
	TopK int `json:"top_k"`

	// DenseWeight is the RRF weight for the dense list; the sparse list
	// gets 1 - DenseWeight.
	DenseWeight float64 `json:"dense_weight"`

	// FusionK is the RRF smoothing constant.
	FusionK int `json:"fusion_k"`

	// BM25 parameters
	BM25K1 float64 `json:"bm25_k1"` // term saturation (1.2-2.0)
	BM25B  float64 `json:"bm25_b"`  // length normalization (0.75)

	// UseReranking enables the cross-encoder stage when a reranker is set.
	UseReranking bool `json:"use_reranking"`
}

// DefaultHybridRetrievalConfig returns the default configuration.
func DefaultHybridRetrievalConfig() HybridRetrievalConfig {
	return HybridRetrievalConfig{
		TopK:         5,
		DenseWeight:  0.5,
		FusionK:      60,
		BM25K1:       1.5,
		BM25B:        0.75,
		UseReranking: true,
	}
}

// corpusIndex is an immutable snapshot of the corpus together with its BM25
// statistics. It is never mutated after buildCorpusIndex returns, so any
// number of retrievals may read it concurrently.
type corpusIndex struct {
	documents []Document

	avgDocLen float64
	docLens   []int
	termFreqs []map[string]int
	idf       map[string]float64
}

// buildCorpusIndex precomputes document lengths, per-document term
// frequencies, and IDF values for the corpus.
func buildCorpusIndex(docs []Document) *corpusIndex {
	idx := &corpusIndex{
		documents: docs,
		docLens:   make([]int, len(docs)),
		termFreqs: make([]map[string]int, len(docs)),
	}

	totalLen := 0
	termDocCount := make(map[string]int)
	for i, doc := range docs {
		terms := tokenize(doc.Content)
		idx.docLens[i] = len(terms)
		totalLen += len(terms)

		freq := make(map[string]int, len(terms))
		for _, term := range terms {
			freq[term]++
		}
		idx.termFreqs[i] = freq

		for term := range freq {
			termDocCount[term]++
		}
	}

	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}

	idx.idf = make(map[string]float64, len(termDocCount))
	n := float64(len(docs))
	for term, df := range termDocCount {
		idx.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
	return idx
}

// bm25Score scores one document against the query terms.
func (idx *corpusIndex) bm25Score(queryTerms []string, docIdx int, k1, b float64) float64 {
	freq := idx.termFreqs[docIdx]
	docLen := float64(idx.docLens[docIdx])

	score := 0.0
	for _, term := range queryTerms {
		tf, ok := freq[term]
		if !ok {
			continue
		}

		idf := idx.idf[term]
		numerator := float64(tf) * (k1 + 1.0)
		denominator := float64(tf) + k1*(1.0-b+b*(docLen/idx.avgDocLen))
		score += idf * (numerator / denominator)
	}
	return score
}

// HybridRetriever fuses BM25 and dense-embedding rankings over an indexed
// corpus. IndexDocuments swaps in a fresh immutable index, so Retrieve is
// safe for callers concurrent with reindexing.
type HybridRetriever struct {
	config   HybridRetrievalConfig
	embedder Embedder
	reranker Reranker
	cache    *embeddingCache
	logger   *zap.Logger

	index atomic.Pointer[corpusIndex]
}

// NewHybridRetriever creates a retriever. embedder and reranker may be nil,
// which disables the dense and rerank stages respectively.
func NewHybridRetriever(config HybridRetrievalConfig, embedder Embedder, reranker Reranker, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		config:   config,
		embedder: embedder,
		reranker: reranker,
		cache:    newEmbeddingCache(),
		logger:   logger,
	}
}

// IndexDocuments replaces the corpus and recomputes BM25 statistics.
// version identifies the corpus revision; changing it invalidates the
// embedding cache, passing the same version keeps cached embeddings.
// The new index is built off to the side and published atomically, so
// in-flight retrievals keep reading the snapshot they started with.
func (r *HybridRetriever) IndexDocuments(docs []Document, version string) {
	idx := buildCorpusIndex(docs)
	r.cache.SetVersion(version)
	r.index.Store(idx)

	r.logger.Info("documents indexed",
		zap.Int("count", len(docs)),
		zap.String("corpus_version", version))
}

// Retrieve returns the top-K most relevant documents for the query.
// Collaborator failures degrade the ranking instead of failing the call.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	idx := r.index.Load()
	if idx == nil || len(idx.documents) == 0 {
		return []Result{}, nil
	}

	candidates := r.config.TopK * 2

	sparse := r.sparseRetrieve(idx, query, candidates)
	dense := r.denseRetrieve(ctx, idx, query, candidates)

	results := r.fuse(idx, sparse, dense)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FusedScore > results[j].FusedScore
	})
	if len(results) > candidates {
		results = results[:candidates]
	}

	if r.config.UseReranking && r.reranker != nil && len(results) > 0 {
		reranked, err := r.reranker.Rerank(ctx, query, results)
		if err != nil {
			r.logger.Warn("reranking failed, keeping fused order", zap.Error(err))
		} else {
			results = reranked
		}
	}

	if len(results) > r.config.TopK {
		results = results[:r.config.TopK]
	}
	return results, nil
}

// rankedDoc pairs a corpus index with a stage score.
type rankedDoc struct {
	index int
	score float64
}

// sparseRetrieve scores every document with BM25 and returns the top-n
// with positive scores, best first.
func (r *HybridRetriever) sparseRetrieve(idx *corpusIndex, query string, n int) []rankedDoc {
	queryTerms := tokenize(query)

	ranked := make([]rankedDoc, 0, len(idx.documents))
	for i := range idx.documents {
		score := idx.bm25Score(queryTerms, i, r.config.BM25K1, r.config.BM25B)
		if score > 0 {
			ranked = append(ranked, rankedDoc{index: i, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// denseRetrieve embeds the query and every document and ranks by cosine
// similarity. Any embedding failure degrades to an empty dense list so
// fusion falls back to sparse-only ranking.
func (r *HybridRetriever) denseRetrieve(ctx context.Context, idx *corpusIndex, query string, n int) []rankedDoc {
	if r.embedder == nil {
		return nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, falling back to sparse-only ranking", zap.Error(err))
		return nil
	}

	ranked := make([]rankedDoc, 0, len(idx.documents))
	for i := range idx.documents {
		doc := &idx.documents[i]
		vec, err := r.cache.GetOrCompute(ctx, doc.ID, func() ([]float64, error) {
			return r.embedder.Embed(ctx, doc.Content)
		})
		if err != nil {
			r.logger.Warn("document embedding failed, skipping document",
				zap.String("doc_id", doc.ID),
				zap.Error(err))
			continue
		}
		ranked = append(ranked, rankedDoc{index: i, score: cosineSimilarity(queryVec, vec)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// fuse combines the two ranked lists with weighted reciprocal rank fusion:
// a document at 0-indexed rank r in a list contributes weight/(k + r + 1),
// with the dense list weighted DenseWeight and the sparse list the
// remainder. A document absent from a list contributes nothing from it.
func (r *HybridRetriever) fuse(idx *corpusIndex, sparse, dense []rankedDoc) []Result {
	k := float64(r.config.FusionK)
	alpha := r.config.DenseWeight

	byIndex := make(map[int]*Result)
	get := func(i int) *Result {
		res, ok := byIndex[i]
		if !ok {
			res = &Result{Document: idx.documents[i]}
			byIndex[i] = res
		}
		return res
	}

	for rank, rd := range sparse {
		res := get(rd.index)
		res.SparseScore = rd.score
		res.FusedScore += (1 - alpha) / (k + float64(rank) + 1)
	}
	for rank, rd := range dense {
		res := get(rd.index)
		res.DenseScore = rd.score
		res.FusedScore += alpha / (k + float64(rank) + 1)
	}

	results := make([]Result, 0, len(byIndex))
	for _, res := range byIndex {
		res.FinalScore = res.FusedScore
		results = append(results, *res)
	}
	return results
}

// CacheStats reports embedding cache hit/miss counts for diagnostics.
func (r *HybridRetriever) CacheStats() (hits, misses uint64) {
	return r.cache.Stats()
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize lower-cases and splits on whitespace.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
