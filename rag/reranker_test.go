package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubCrossEncoder scores by the count of shared lowercase terms.
type stubCrossEncoder struct {
	err error
}

func (e *stubCrossEncoder) Score(_ context.Context, query, document string) (float64, error) {
	if e.err != nil {
		return 0, e.err
	}
	score := 0.0
	doc := strings.ToLower(document)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(doc, term) {
			score++
		}
	}
	return score, nil
}

func resultsFor(contents ...string) []Result {
	results := make([]Result, len(contents))
	for i, c := range contents {
		results[i] = Result{
			Document:   Document{ID: fmt.Sprintf("doc-%d", i), Content: c},
			FusedScore: float64(len(contents) - i),
			FinalScore: float64(len(contents) - i),
		}
	}
	return results
}

func TestCrossEncoderRerankerOrdersByScore(t *testing.T) {
	r := NewCrossEncoderReranker(&stubCrossEncoder{}, DefaultCrossEncoderConfig(), zap.NewNop())

	// Fused order puts the irrelevant document first; the encoder flips it.
	input := resultsFor(
		"quarterly revenue report",
		"cats and dogs living together",
	)

	out, err := r.Rerank(context.Background(), "cats dogs", input)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "doc-1", out[0].Document.ID)
	assert.Greater(t, out[0].RerankScore, out[1].RerankScore)
}

func TestCrossEncoderRerankerNormalizesScores(t *testing.T) {
	r := NewCrossEncoderReranker(&stubCrossEncoder{}, DefaultCrossEncoderConfig(), zap.NewNop())

	out, err := r.Rerank(context.Background(), "cats", resultsFor("cats everywhere"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Greater(t, out[0].RerankScore, 0.0)
	assert.LessOrEqual(t, out[0].RerankScore, 1.0)
	assert.Equal(t, out[0].RerankScore, out[0].FinalScore)
}

func TestCrossEncoderRerankerPropagatesEncoderError(t *testing.T) {
	r := NewCrossEncoderReranker(&stubCrossEncoder{err: errors.New("model offline")}, DefaultCrossEncoderConfig(), zap.NewNop())

	out, err := r.Rerank(context.Background(), "query", resultsFor("some doc"))
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestCrossEncoderRerankerEmptyInput(t *testing.T) {
	r := NewCrossEncoderReranker(&stubCrossEncoder{}, DefaultCrossEncoderConfig(), zap.NewNop())

	out, err := r.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCrossEncoderRerankerDoesNotMutateInput(t *testing.T) {
	r := NewCrossEncoderReranker(&stubCrossEncoder{}, DefaultCrossEncoderConfig(), zap.NewNop())

	input := resultsFor("quarterly revenue", "cats")
	origFirst := input[0].Document.ID

	_, err := r.Rerank(context.Background(), "cats", input)
	require.NoError(t, err)
	assert.Equal(t, origFirst, input[0].Document.ID)
	assert.Zero(t, input[0].RerankScore)
}

func TestSimpleRerankerFavorsTermOverlap(t *testing.T) {
	r := NewSimpleReranker(zap.NewNop())

	input := resultsFor(
		"unrelated financial statement",
		"error handling in distributed systems",
	)

	out, err := r.Rerank(context.Background(), "error handling", input)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "doc-1", out[0].Document.ID)
}

func TestSimpleRerankerProximity(t *testing.T) {
	near := proximityScore(tokenize("error handling"), tokenize("error handling is hard"))
	far := proximityScore(tokenize("error handling"), tokenize("error one two three four five six handling"))
	assert.Greater(t, near, far)

	// Single-term queries have trivially perfect proximity.
	assert.Equal(t, 1.0, proximityScore(tokenize("error"), tokenize("anything at all")))
}

func TestRerankIsPermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	rerankers := map[string]Reranker{
		"cross_encoder": NewCrossEncoderReranker(&stubCrossEncoder{}, DefaultCrossEncoderConfig(), zap.NewNop()),
		"simple":        NewSimpleReranker(zap.NewNop()),
	}

	genContents := gen.SliceOfN(6, gen.OneConstOf(
		"alpha beta gamma",
		"beta gamma delta",
		"gamma delta epsilon",
		"completely different text",
		"alpha",
		"",
	))

	for name, reranker := range rerankers {
		reranker := reranker
		properties.Property(name+" output is a permutation of input", prop.ForAll(
			func(contents []string) bool {
				input := resultsFor(contents...)
				out, err := reranker.Rerank(context.Background(), "alpha beta", input)
				if err != nil || len(out) != len(input) {
					return false
				}

				wantIDs := make([]string, len(input))
				gotIDs := make([]string, len(out))
				for i := range input {
					wantIDs[i] = input[i].Document.ID
					gotIDs[i] = out[i].Document.ID
				}
				sort.Strings(wantIDs)
				sort.Strings(gotIDs)
				for i := range wantIDs {
					if wantIDs[i] != gotIDs[i] {
						return false
					}
				}

				for i := 1; i < len(out); i++ {
					if out[i-1].FinalScore < out[i].FinalScore {
						return false
					}
				}
				return true
			},
			genContents,
		))
	}

	properties.TestingRun(t)
}
