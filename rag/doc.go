// Package rag implements the hybrid retrieval subsystem: sparse BM25
// scoring and dense embedding similarity fused with weighted reciprocal
// rank fusion, plus optional cross-encoder re-ranking.
//
// Components:
//   - HybridRetriever — sparse + dense retrieval with RRF fusion
//   - Reranker — re-ranking interface (CrossEncoder / Simple implementations)
//   - Embedder — external embedding collaborator interface
//   - QueryOptimizer — lightweight query analysis and expansion/contraction
//
// Score semantics: sparse scores are BM25 values, dense scores are cosine
// similarities, fused scores are RRF sums, rerank scores are model logits.
// Scores from different stages live in different units and must not be
// compared across stages.
//
// Degradation policy: an empty corpus yields an empty result; a failing
// embedder degrades retrieval to sparse-only ranking; a failing reranker
// keeps the fused order. Collaborator failure never fails the retrieval.
package rag
