package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/altheaworks/queryflow/types"
)

// checkpointRecord is the GORM model backing GormStore.
type checkpointRecord struct {
	RowID     uint   `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"size:64;uniqueIndex"`
	SessionID string `gorm:"size:128;index:idx_session_seq,priority:1"`
	Seq       int64  `gorm:"index:idx_session_seq,priority:2"`
	Step      string `gorm:"size:64"`
	State     []byte
	CreatedAt time.Time
}

func (checkpointRecord) TableName() string { return "workflow_checkpoints" }

// GormStore is a relational Store. Production deployments use Postgres
// (gorm.io/driver/postgres); tests run against an embedded SQLite database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the checkpoint table and returns a store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Save appends a checkpoint row. The per-session seq is allocated inside a
// transaction; the single-writer-per-session invariant keeps this safe.
func (s *GormStore) Save(ctx context.Context, sessionID string, state *types.AgentState, step string) (string, error) {
	if sessionID == "" || state == nil {
		return "", ErrInvalidInput
	}

	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	rec := &checkpointRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Step:      step,
		State:     data,
		CreatedAt: time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		row := tx.Model(&checkpointRecord{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&maxSeq); err != nil {
			return err
		}
		rec.Seq = maxSeq + 1
		return tx.Create(rec).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return rec.ID, nil
}

// LoadLatest returns the highest-seq checkpoint for the session.
func (s *GormStore) LoadLatest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return recordToCheckpoint(&rec)
}

// List returns checkpoints most recent first.
func (s *GormStore) List(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []checkpointRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]*Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := recordToCheckpoint(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteAll removes the session's checkpoints.
func (s *GormStore) DeleteAll(ctx context.Context, sessionID string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&checkpointRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func recordToCheckpoint(rec *checkpointRecord) (*Checkpoint, error) {
	var state types.AgentState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &Checkpoint{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Step:      rec.Step,
		Seq:       rec.Seq,
		State:     &state,
		CreatedAt: rec.CreatedAt,
	}, nil
}
