package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/llm"
	"github.com/altheaworks/queryflow/rag"
	"github.com/altheaworks/queryflow/tool"
	"github.com/altheaworks/queryflow/types"
)

// CurrentStep values written by the nodes.
const (
	stepQueryAnalyzed      = "query_analyzed"
	stepQueryRewritten     = "query_rewritten"
	stepQueryReady         = "query_ready"
	stepDocumentsRetrieved = "documents_retrieved"
	stepRetrievalFailed    = "retrieval_failed"
	stepDocumentsReranked  = "documents_reranked"
	stepDocumentsReady     = "documents_ready"
	stepResponseGenerated  = "response_generated"
	stepResponseFailed     = "response_failed"
	stepValidated          = "validated"
	stepValidationFailed   = "validation_failed"
	stepErrorHandled       = "error_handled"
)

// fallbackResponse is the user-safe answer the error handler always emits.
const fallbackResponse = "I apologize, but I encountered an issue while processing your request. " +
	"Please try rephrasing your question or contact support if the problem persists."

// Node is one step of the state machine. Run returns a partial update;
// returned errors (and panics, recovered by the engine) become
// {Error, "<node>_failed"} updates so faults stay inside the machine.
type Node interface {
	Name() string
	Run(ctx context.Context, state *types.AgentState) (Update, error)
}

// llmParams are the completion settings shared by the LLM-backed nodes.
type llmParams struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// ---------------------------------------------------------------------------
// analyze

const analyzeSystemPrompt = `You are a query analyzer. Analyze the user's query and respond with JSON.

Classify the query intent:
- "retrieval": User wants information from documents
- "sql": User wants to query structured data
- "visualization": User wants charts/graphs
- "calculation": User needs math calculations
- "general": General conversation

Also determine if query rewriting would improve retrieval.

Respond ONLY with valid JSON in this exact format:
{
    "intent": "retrieval|sql|visualization|calculation|general",
    "needs_rewrite": true|false,
    "reasoning": "brief explanation",
    "confidence": 0.0-1.0
}`

type analyzeNode struct {
	provider llm.Provider
	params   llmParams
	logger   *zap.Logger
}

func (n *analyzeNode) Name() string { return NodeAnalyze }

// Run classifies the query. Both LLM failure and malformed JSON fall back
// to a retrieval classification instead of failing the run.
func (n *analyzeNode) Run(ctx context.Context, state *types.AgentState) (Update, error) {
	resp, err := n.provider.Completion(ctx, &llm.ChatRequest{
		TenantID: state.TenantID,
		Model:    n.params.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analyzeSystemPrompt},
			{Role: llm.RoleUser, Content: state.UserQuery},
		},
		MaxTokens:   n.params.MaxTokens,
		Temperature: n.params.Temperature,
	})
	if err != nil {
		n.logger.Warn("query analysis failed, defaulting to retrieval", zap.Error(err))
		return Update{
			QueryIntent:   ptr(types.IntentRetrieval),
			NeedsRewrite:  ptr(true),
			AgentThoughts: []string{fmt.Sprintf("Error in analysis: %v. Defaulting to retrieval.", err)},
			CurrentStep:   stepQueryAnalyzed,
		}, nil
	}

	var analysis struct {
		Intent       string  `json:"intent"`
		NeedsRewrite bool    `json:"needs_rewrite"`
		Reasoning    string  `json:"reasoning"`
		Confidence   float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &analysis); err != nil || analysis.Intent == "" {
		n.logger.Warn("failed to parse query analysis JSON, using defaults")
		analysis.Intent = string(types.IntentRetrieval)
		analysis.NeedsRewrite = true
		analysis.Reasoning = "Default classification"
		analysis.Confidence = 0.5
	}

	intent := parseIntent(analysis.Intent)
	n.logger.Info("query analyzed",
		zap.String("intent", string(intent)),
		zap.Float64("confidence", analysis.Confidence))

	return Update{
		QueryIntent:   ptr(intent),
		NeedsRewrite:  ptr(analysis.NeedsRewrite),
		Confidence:    ptr(analysis.Confidence),
		AgentThoughts: []string{fmt.Sprintf("Analyzed query intent: %s. %s", intent, analysis.Reasoning)},
		CurrentStep:   stepQueryAnalyzed,
	}, nil
}

func parseIntent(s string) types.Intent {
	switch types.Intent(strings.ToLower(strings.TrimSpace(s))) {
	case types.IntentRetrieval, types.IntentSQL, types.IntentVisualization,
		types.IntentCalculation, types.IntentGeneral:
		return types.Intent(strings.ToLower(strings.TrimSpace(s)))
	default:
		return types.IntentRetrieval
	}
}

// ---------------------------------------------------------------------------
// rewrite

const rewriteSystemPrompt = `Rewrite the user query to be more specific and retrieval-friendly.

Guidelines:
- Expand abbreviations
- Add context if needed
- Focus on key terms and concepts
- Keep it concise (1-2 sentences)
- Maintain the original intent

Respond with ONLY the rewritten query, no explanation.`

type rewriteNode struct {
	provider llm.Provider
	params   llmParams
	logger   *zap.Logger
}

func (n *rewriteNode) Name() string { return NodeRewrite }

// Run rewrites the query for retrieval. Skipped entirely when the state
// does not call for it; LLM failure falls back to the original query.
func (n *rewriteNode) Run(ctx context.Context, state *types.AgentState) (Update, error) {
	if !state.NeedsRewrite ||
		(state.QueryIntent != types.IntentRetrieval && state.QueryIntent != types.IntentSQL) {
		return Update{
			RewrittenQuery: ptr(state.UserQuery),
			AgentThoughts:  []string{"Query rewrite not needed"},
			CurrentStep:    stepQueryReady,
		}, nil
	}

	resp, err := n.provider.Completion(ctx, &llm.ChatRequest{
		TenantID: state.TenantID,
		Model:    n.params.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: rewriteSystemPrompt},
			{Role: llm.RoleUser, Content: state.UserQuery},
		},
		MaxTokens:   n.params.MaxTokens,
		Temperature: n.params.Temperature,
	})
	if err != nil {
		n.logger.Warn("query rewrite failed, keeping original query", zap.Error(err))
		return Update{
			RewrittenQuery: ptr(state.UserQuery),
			AgentThoughts:  []string{fmt.Sprintf("Error rewriting query: %v", err)},
			CurrentStep:    stepQueryRewritten,
		}, nil
	}

	rewritten := strings.TrimSpace(resp.Text)
	if rewritten == "" {
		rewritten = state.UserQuery
	}
	n.logger.Info("query rewritten", zap.String("rewritten_query", rewritten))

	return Update{
		RewrittenQuery: ptr(rewritten),
		AgentThoughts:  []string{fmt.Sprintf("Rewrote query: %q", rewritten)},
		CurrentStep:    stepQueryRewritten,
	}, nil
}

// ---------------------------------------------------------------------------
// retrieve

type retrieveNode struct {
	registry *tool.Registry
	topK     int
	logger   *zap.Logger
}

func (n *retrieveNode) Name() string { return NodeRetrieve }

// Run fetches candidate documents through the vector_search tool. A tool
// failure sets the state error so routing diverts to the error handler.
func (n *retrieveNode) Run(ctx context.Context, state *types.AgentState) (Update, error) {
	query := state.RewrittenQuery
	if query == "" {
		query = state.UserQuery
	}

	result, err := n.registry.Run(ctx, "vector_search", map[string]any{
		"query":     query,
		"tenant_id": state.TenantID,
		"top_k":     n.topK,
	})
	if err != nil {
		return Update{}, fmt.Errorf("vector search: %w", err)
	}
	if !result.Success {
		n.logger.Warn("vector search failed", zap.String("error", result.Err))
		return Update{
			RetrievedDocuments: ptr([]types.RetrievedDocument{}),
			AgentThoughts:      []string{fmt.Sprintf("Document retrieval failed: %s", result.Err)},
			CurrentStep:        stepRetrievalFailed,
			Error:              ptr(result.Err),
		}, nil
	}

	docs := documentsFromPayload(result.Payload)
	n.logger.Info("documents retrieved", zap.Int("count", len(docs)))

	return Update{
		RetrievedDocuments: ptr(docs),
		AgentThoughts:      []string{fmt.Sprintf("Retrieved %d relevant documents", len(docs))},
		CurrentStep:        stepDocumentsRetrieved,
		ToolsUsed:          []string{"vector_search"},
	}, nil
}

// documentsFromPayload converts the tool's loose sources payload into
// typed documents, tolerating partially-filled entries.
func documentsFromPayload(payload map[string]any) []types.RetrievedDocument {
	sources, ok := payload["sources"].([]map[string]any)
	if !ok {
		return []types.RetrievedDocument{}
	}
	docs := make([]types.RetrievedDocument, 0, len(sources))
	for _, src := range sources {
		doc := types.RetrievedDocument{}
		if text, ok := src["text"].(string); ok {
			doc.Text = text
		}
		if score, ok := src["score"].(float64); ok {
			doc.Score = score
		}
		if meta, ok := src["metadata"].(map[string]any); ok {
			doc.Metadata = meta
		}
		docs = append(docs, doc)
	}
	return docs
}

// ---------------------------------------------------------------------------
// rerank

type rerankNode struct {
	reranker rag.Reranker
	logger   *zap.Logger
}

func (n *rerankNode) Name() string { return NodeRerank }

// Run reorders the retrieved documents and keeps the top 3. With a
// reranker configured it is used; failures and the no-reranker case fall
// back to sorting by the fused retrieval score. The output is always a
// subset of the input.
func (n *rerankNode) Run(ctx context.Context, state *types.AgentState) (Update, error) {
	docs := state.RetrievedDocuments

	if len(docs) <= rerankThreshold {
		return Update{
			RerankedDocuments: ptr(docs),
			AgentThoughts:     []string{"Skipped reranking (sufficient documents)"},
			CurrentStep:       stepDocumentsReady,
		}, nil
	}

	reranked := n.rerank(ctx, state, docs)
	if len(reranked) > rerankThreshold {
		reranked = reranked[:rerankThreshold]
	}

	n.logger.Info("documents reranked", zap.Int("kept", len(reranked)))

	return Update{
		RerankedDocuments: ptr(reranked),
		AgentThoughts:     []string{fmt.Sprintf("Reranked to top %d most relevant documents", len(reranked))},
		CurrentStep:       stepDocumentsReranked,
	}, nil
}

func (n *rerankNode) rerank(ctx context.Context, state *types.AgentState, docs []types.RetrievedDocument) []types.RetrievedDocument {
	if n.reranker != nil {
		query := state.RewrittenQuery
		if query == "" {
			query = state.UserQuery
		}

		candidates := make([]rag.Result, len(docs))
		for i, doc := range docs {
			candidates[i] = rag.Result{
				Document:   rag.Document{ID: fmt.Sprintf("%d", i), Content: doc.Text, Metadata: doc.Metadata},
				FinalScore: doc.Score,
			}
		}

		reranked, err := n.reranker.Rerank(ctx, query, candidates)
		if err == nil {
			out := make([]types.RetrievedDocument, len(reranked))
			for i, res := range reranked {
				out[i] = types.RetrievedDocument{
					Text:     res.Document.Content,
					Score:    res.FinalScore,
					Metadata: res.Document.Metadata,
				}
			}
			return out
		}
		n.logger.Warn("reranking failed, sorting by retrieval score", zap.Error(err))
	}

	sorted := make([]types.RetrievedDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return sorted
}

// ---------------------------------------------------------------------------
// respond

const respondSystemPrompt = `You are a helpful AI assistant. Answer the user's question based on the provided context.

Guidelines:
- Be accurate and concise
- Cite your sources using [1], [2], etc.
- If the context doesn't contain the answer, say so
- Provide specific details from the documents
- Be professional and clear

Context:
%s`

// respondContextTokenBudget bounds the document context block so the
// prompt stays inside the model's window.
const respondContextTokenBudget = 3000

// citationPreviewLen is the number of characters of source text kept on
// each citation.
const citationPreviewLen = 200

type respondNode struct {
	provider llm.Provider
	params   llmParams
	encoding *tiktoken.Tiktoken
	logger   *zap.Logger
}

func newRespondNode(provider llm.Provider, params llmParams, logger *zap.Logger) *respondNode {
	// cl100k_base ships with the library; the error path only triggers on
	// unknown encoding names.
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tokenizer unavailable, context truncation disabled", zap.Error(err))
	}
	return &respondNode{provider: provider, params: params, encoding: encoding, logger: logger}
}

func (n *respondNode) Name() string { return NodeRespond }

// Run drafts the answer from the best available documents. LLM failure
// produces the apology draft plus a state error, and still flows through
// validate per the routing table.
func (n *respondNode) Run(ctx context.Context, state *types.AgentState) (Update, error) {
	docs := state.Documents()
	if len(docs) > rerankThreshold {
		docs = docs[:rerankThreshold]
	}

	contextBlock := n.buildContext(docs)

	resp, err := n.provider.Completion(ctx, &llm.ChatRequest{
		TenantID: state.TenantID,
		Model:    n.params.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(respondSystemPrompt, contextBlock)},
			{Role: llm.RoleUser, Content: state.UserQuery},
		},
		MaxTokens:   n.params.MaxTokens,
		Temperature: n.params.Temperature,
	})
	if err != nil {
		n.logger.Warn("response generation failed", zap.Error(err))
		return Update{
			FinalResponse: ptr(fmt.Sprintf("I apologize, but I encountered an error: %v", err)),
			Citations:     ptr([]types.Citation{}),
			AgentThoughts: []string{fmt.Sprintf("Error generating response: %v", err)},
			CurrentStep:   stepResponseFailed,
			Error:         ptr(err.Error()),
		}, nil
	}

	citations := make([]types.Citation, len(docs))
	for i, doc := range docs {
		citations[i] = types.Citation{
			SourceText: previewText(doc.Text, citationPreviewLen),
			Score:      doc.Score,
			Metadata:   doc.Metadata,
		}
	}

	n.logger.Info("response generated", zap.Int("citations", len(citations)))

	return Update{
		FinalResponse: ptr(resp.Text),
		Citations:     ptr(citations),
		AgentThoughts: []string{"Generated response with citations"},
		CurrentStep:   stepResponseGenerated,
	}, nil
}

// buildContext formats the documents into the prompt's context block,
// truncating by token count so long passages cannot blow the budget.
func (n *respondNode) buildContext(docs []types.RetrievedDocument) string {
	if len(docs) == 0 {
		return "No relevant documents found."
	}

	remaining := respondContextTokenBudget
	blocks := make([]string, 0, len(docs))
	for i, doc := range docs {
		text := doc.Text
		if n.encoding != nil {
			tokens := n.encoding.Encode(text, nil, nil)
			if len(tokens) > remaining {
				if remaining <= 0 {
					break
				}
				text = n.encoding.Decode(tokens[:remaining])
			}
			remaining -= min(len(tokens), remaining)
		}
		blocks = append(blocks, fmt.Sprintf("Document %d (relevance: %.2f):\n%s", i+1, doc.Score, text))
	}
	return strings.Join(blocks, "\n\n")
}

func previewText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// ---------------------------------------------------------------------------
// validate

// minResponseLen is the length at or below which a draft is rejected.
const minResponseLen = 10

var rejectedPrefixes = []string{
	"I don't know",
	"I apologize, but I encountered an error",
}

type validateNode struct {
	maxRetries int
	logger     *zap.Logger
}

func (n *validateNode) Name() string { return NodeValidate }

// Run applies the rejection predicate. A rejected draft with retry budget
// left bumps RetryCount and requests a rewrite; an exhausted budget
// accepts the draft as-is (the last draft is still surfaced to the user).
// When the response step already recorded an error the run is headed for
// the error handler, so no retry is charged.
func (n *validateNode) Run(_ context.Context, state *types.AgentState) (Update, error) {
	if state.Error != "" {
		return Update{
			AgentThoughts: []string{"Skipping validation, response step reported an error"},
			CurrentStep:   stepValidated,
		}, nil
	}

	if rejected(state.FinalResponse) {
		n.logger.Warn("response validation failed",
			zap.Int("retry_count", state.RetryCount))

		if state.RetryCount < n.maxRetries {
			return Update{
				AgentThoughts: []string{"Response needs improvement, retrying..."},
				CurrentStep:   stepValidationFailed,
				RetryCount:    ptr(state.RetryCount + 1),
				NeedsRewrite:  ptr(true),
			}, nil
		}
	}

	return Update{
		AgentThoughts: []string{"Response validated successfully"},
		CurrentStep:   stepValidated,
	}, nil
}

func rejected(response string) bool {
	if len(response) <= minResponseLen {
		return true
	}
	for _, prefix := range rejectedPrefixes {
		if strings.HasPrefix(response, prefix) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// error handler

type errorNode struct {
	logger *zap.Logger
}

func (n *errorNode) Name() string { return NodeError }

// Run converts whatever went wrong into the generic user-safe answer.
// It is the terminal node of every failed run.
func (n *errorNode) Run(_ context.Context, state *types.AgentState) (Update, error) {
	errMsg := state.Error
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	n.logger.Error("handling workflow error", zap.String("error", errMsg))

	now := time.Now().UTC()
	return Update{
		FinalResponse: ptr(fallbackResponse),
		Citations:     ptr([]types.Citation{}),
		AgentThoughts: []string{fmt.Sprintf("Error handled: %s", errMsg)},
		CurrentStep:   stepErrorHandled,
		CompletedAt:   &now,
	}, nil
}
