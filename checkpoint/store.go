// Package checkpoint provides durable, append-only storage of workflow
// state snapshots keyed by session id. The workflow engine saves a
// checkpoint after every node; callers use the latest checkpoint to resume
// an interrupted execution or to inspect a session's history.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: for distributed deployments
//   - GORM/Postgres: for durable single-source-of-truth deployments
//
// Checkpoints for one session form an append-only log: Save never
// overwrites prior entries, and the per-session sequence number is strictly
// monotonic so "latest" is well defined even when two saves land on the
// same clock tick. Concurrent writers for the same session are not expected
// within one execution (single writer per session); cross-session writes
// are independent.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/altheaworks/queryflow/types"
)

// Common errors
var (
	// ErrNotFound is returned when a session has no checkpoints.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalidInput is returned for nil state or empty session ids.
	ErrInvalidInput = errors.New("invalid input")
)

// Checkpoint is a persisted snapshot of workflow state at one step.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string `json:"id"`
	// SessionID keys the append-only log this checkpoint belongs to.
	SessionID string `json:"session_id"`
	// Step is the workflow node that produced this snapshot.
	Step string `json:"step"`
	// Seq is the per-session sequence number, strictly increasing.
	Seq int64 `json:"seq"`
	// State is the snapshot of the agent state after Step completed.
	State *types.AgentState `json:"state"`
	// Metadata stores additional checkpoint information.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the checkpoint was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the checkpoint storage contract.
type Store interface {
	// Save appends a new checkpoint for the session and returns its id.
	Save(ctx context.Context, sessionID string, state *types.AgentState, step string) (string, error)

	// LoadLatest returns the most recent checkpoint for the session, or
	// ErrNotFound when the session has none.
	LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// List returns up to limit checkpoints for the session, most recent
	// first. limit <= 0 means no limit.
	List(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error)

	// DeleteAll removes every checkpoint for the session and returns the
	// number deleted.
	DeleteAll(ctx context.Context, sessionID string) (int, error)
}
