package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/altheaworks/queryflow/checkpoint"
	"github.com/altheaworks/queryflow/internal/metrics"
	"github.com/altheaworks/queryflow/llm"
	"github.com/altheaworks/queryflow/rag"
	"github.com/altheaworks/queryflow/tool"
	"github.com/altheaworks/queryflow/types"
)

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	// MaxRetries bounds validation-triggered rewrite loops.
	MaxRetries int
	// Timeout bounds one end-to-end run.
	Timeout time.Duration
	// RetrievalTopK is passed to the vector_search tool.
	RetrievalTopK int

	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:    2,
		Timeout:       120 * time.Second,
		RetrievalTopK: 5,
		Model:         "gpt-4o-mini",
		MaxTokens:     2048,
		Temperature:   0.7,
	}
}

// StepEvent is one streaming progress event: a snapshot of the state
// after a node completed. The final event carries Done=true.
type StepEvent struct {
	Node  string            `json:"node"`
	State *types.AgentState `json:"state"`
	Done  bool              `json:"done"`
}

// Engine executes the query workflow. It is safe for concurrent runs:
// per-run state is local, the collaborators it holds are themselves
// concurrency-safe.
type Engine struct {
	config  EngineConfig
	nodes   map[string]Node
	store   checkpoint.Store
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// NewEngine wires the node set from its collaborators. store, collector,
// and reranker may be nil: checkpointing, metrics, and cross-encoder
// reranking are then disabled (rerank falls back to score ordering).
func NewEngine(
	config EngineConfig,
	provider llm.Provider,
	registry *tool.Registry,
	reranker rag.Reranker,
	store checkpoint.Store,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	params := llmParams{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	}

	nodes := map[string]Node{
		NodeAnalyze:  &analyzeNode{provider: provider, params: params, logger: logger},
		NodeRewrite:  &rewriteNode{provider: provider, params: params, logger: logger},
		NodeRetrieve: &retrieveNode{registry: registry, topK: config.RetrievalTopK, logger: logger},
		NodeRerank:   &rerankNode{reranker: reranker, logger: logger},
		NodeRespond:  newRespondNode(provider, params, logger),
		NodeValidate: &validateNode{maxRetries: config.MaxRetries, logger: logger},
		NodeError:    &errorNode{logger: logger},
	}

	return &Engine{
		config:  config,
		nodes:   nodes,
		store:   store,
		logger:  logger.With(zap.String("component", "workflow")),
		metrics: collector,
		tracer:  otel.Tracer("queryflow/workflow"),
	}
}

// maxNodeExecutions is the hard step bound enforced on top of the retry
// bound: analyze and error, plus one full rewrite..validate pass per
// retry budget unit.
func (e *Engine) maxNodeExecutions() int {
	return 2 + 5*(e.config.MaxRetries+1)
}

// RunOnce executes the workflow synchronously and returns the final
// state. Node-level faults never surface as errors; they are routed
// through the error handler and produce a displayable answer.
func (e *Engine) RunOnce(ctx context.Context, query, tenantID, userID, sessionID string) (*types.AgentState, error) {
	state := types.NewInitialState(tenantID, userID, sessionID, query)
	e.run(ctx, state, NodeAnalyze, nil)
	return state, nil
}

// RunStream executes the workflow and emits one StepEvent per completed
// node. The channel is closed after the terminal event; the sequence is
// always finite.
func (e *Engine) RunStream(ctx context.Context, query, tenantID, userID, sessionID string) (<-chan StepEvent, error) {
	state := types.NewInitialState(tenantID, userID, sessionID, query)

	events := make(chan StepEvent, e.maxNodeExecutions()+1)
	go func() {
		defer close(events)
		e.run(ctx, state, NodeAnalyze, func(node string, snapshot *types.AgentState, done bool) {
			select {
			case events <- StepEvent{Node: node, State: snapshot, Done: done}:
			case <-ctx.Done():
			}
		})
	}()
	return events, nil
}

// Resume loads the latest checkpoint for a session and re-enters the
// state machine at the successor of the checkpointed step. A session
// whose run already terminated is returned as-is.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*types.AgentState, error) {
	if e.store == nil {
		return nil, fmt.Errorf("resume requires a checkpoint store")
	}
	cp, err := e.store.LoadLatest(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := cp.State
	next := route(cp.Step, state)
	if state.CompletedAt != nil || next == NodeEnd {
		return state, nil
	}

	e.logger.Info("resuming workflow",
		zap.String("session_id", sessionID),
		zap.String("from_step", cp.Step),
		zap.String("next_node", next))

	e.run(ctx, state, next, nil)
	return state, nil
}

// run drives the state machine from startNode to termination, mutating
// state in place. emit, when non-nil, receives a snapshot after every
// node and a final done event.
func (e *Engine) run(ctx context.Context, state *types.AgentState, startNode string, emit func(node string, snapshot *types.AgentState, done bool)) {
	runStart := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	ctx, runSpan := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("session.id", state.SessionID),
			attribute.String("tenant.id", state.TenantID),
		))
	defer runSpan.End()

	current := startNode
	executions := 0

	for current != NodeEnd {
		if err := ctx.Err(); err != nil {
			e.cancelRun(ctx, state, err)
			break
		}
		if executions >= e.maxNodeExecutions() {
			e.logger.Error("step bound exceeded, terminating run",
				zap.String("session_id", state.SessionID),
				zap.Int("executions", executions))
			state.Error = "step bound exceeded"
			current = NodeError
			continue
		}

		node, ok := e.nodes[current]
		if !ok {
			state.Error = fmt.Sprintf("unknown node %q", current)
			current = NodeError
			continue
		}

		retriesBefore := state.RetryCount
		e.executeNode(ctx, node, state)
		executions++

		if e.metrics != nil && state.RetryCount > retriesBefore {
			e.metrics.RecordRetry()
			e.metrics.RecordValidationRejection()
		}

		e.saveCheckpoint(ctx, state, current)
		if emit != nil {
			emit(current, state.Clone(), false)
		}

		current = route(current, state)
	}

	if state.CompletedAt == nil {
		now := time.Now().UTC()
		state.CompletedAt = &now
	}

	status := "success"
	if state.Error != "" {
		status = "error"
		runSpan.SetStatus(codes.Error, state.Error)
	}
	if e.metrics != nil {
		e.metrics.RecordWorkflowRun(status, time.Since(runStart))
	}
	if emit != nil {
		emit(NodeEnd, state.Clone(), true)
	}

	e.logger.Info("workflow completed",
		zap.String("session_id", state.SessionID),
		zap.String("final_step", state.CurrentStep),
		zap.String("status", status),
		zap.Int("retries", state.RetryCount),
		zap.Duration("duration", time.Since(runStart)))
}

// executeNode runs one node with panic containment and merges its update.
// Errors and panics become {Error, "<node>_failed"} updates.
func (e *Engine) executeNode(ctx context.Context, node Node, state *types.AgentState) {
	start := time.Now()

	nodeCtx, span := e.tracer.Start(ctx, "workflow.node."+node.Name())
	update, err := e.runGuarded(nodeCtx, node, state)
	if err != nil {
		e.logger.Warn("node failed",
			zap.String("node", node.Name()),
			zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		update = Update{
			Error:         ptr(err.Error()),
			CurrentStep:   node.Name() + "_failed",
			AgentThoughts: []string{fmt.Sprintf("Error in %s: %v", node.Name(), err)},
		}
	}
	span.End()

	Apply(state, update)

	if e.metrics != nil {
		status := "success"
		if err != nil || update.Error != nil {
			status = "error"
		}
		e.metrics.RecordNodeExecution(node.Name(), status, time.Since(start))
	}
}

// runGuarded converts node panics into ordinary errors.
func (e *Engine) runGuarded(ctx context.Context, node Node, state *types.AgentState) (update Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panic: %v", r)
		}
	}()
	return node.Run(ctx, state)
}

// cancelRun marks the state cancelled and attempts one last checkpoint
// save with a background-derived context, since ctx is already done.
func (e *Engine) cancelRun(ctx context.Context, state *types.AgentState, cause error) {
	e.logger.Warn("workflow cancelled",
		zap.String("session_id", state.SessionID),
		zap.Error(cause))

	state.Error = "cancelled"
	state.CurrentStep = "cancelled"

	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := e.store.Save(saveCtx, state.SessionID, state, state.CurrentStep); err != nil {
			e.logger.Warn("checkpoint save after cancellation failed", zap.Error(err))
		}
	}
}

// saveCheckpoint persists the state best-effort: failures are logged and
// counted, never propagated. The checkpoint step is the node name so
// Resume can compute its successor.
func (e *Engine) saveCheckpoint(ctx context.Context, state *types.AgentState, node string) {
	if e.store == nil {
		return
	}
	_, err := e.store.Save(ctx, state.SessionID, state, node)
	if e.metrics != nil {
		e.metrics.RecordCheckpointSave(err)
	}
	if err != nil {
		e.logger.Warn("checkpoint save failed",
			zap.String("session_id", state.SessionID),
			zap.String("node", node),
			zap.Error(err))
	}
}
