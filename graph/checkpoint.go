//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current checkpoint format version.
const CheckpointVersion = 1

// DefaultMaxCheckpointsPerLineage bounds checkpoint retention for savers
// that enforce a limit.
const DefaultMaxCheckpointsPerLineage = 100

// Checkpoint sources describing why a checkpoint was written.
const (
	// CheckpointSourceInput marks the checkpoint written before the
	// first step of a run.
	CheckpointSourceInput = "input"
	// CheckpointSourceLoop marks a checkpoint written after a node
	// transition.
	CheckpointSourceLoop = "loop"
	// CheckpointSourceInterrupt marks a checkpoint written when a run
	// suspends at an interrupt point.
	CheckpointSourceInterrupt = "interrupt"
	// CheckpointSourceUpdate marks a checkpoint written by an external
	// state update, including resume.
	CheckpointSourceUpdate = "update"
	// CheckpointSourceFork marks a checkpoint branched from another.
	CheckpointSourceFork = "fork"
)

// Checkpoint is a durable snapshot of a run: the state values plus
// enough routing information to continue execution.
type Checkpoint struct {
	Version            int             `json:"v"`
	ID                 string          `json:"id"`
	Timestamp          time.Time       `json:"ts"`
	StateValues        map[string]any  `json:"state_values"`
	ParentCheckpointID string          `json:"parent_checkpoint_id,omitempty"`
	NextNodes          []string        `json:"next_nodes,omitempty"`
	InterruptState     *InterruptState `json:"interrupt_state,omitempty"`
}

// InterruptState records where and why a run suspended.
type InterruptState struct {
	NodeID         string         `json:"node_id"`
	TaskID         string         `json:"task_id,omitempty"`
	InterruptValue any            `json:"interrupt_value,omitempty"`
	ResumeValues   map[string]any `json:"resume_values,omitempty"`
	Step           int            `json:"step"`
}

// NewCheckpoint creates a checkpoint with a fresh ID and timestamp.
func NewCheckpoint(stateValues map[string]any) *Checkpoint {
	return &Checkpoint{
		Version:     CheckpointVersion,
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		StateValues: stateValues,
	}
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	copied := &Checkpoint{
		Version:            c.Version,
		ID:                 c.ID,
		Timestamp:          c.Timestamp,
		StateValues:        deepCopyMap(c.StateValues),
		ParentCheckpointID: c.ParentCheckpointID,
	}
	if len(c.NextNodes) > 0 {
		copied.NextNodes = append([]string(nil), c.NextNodes...)
	}
	if c.InterruptState != nil {
		is := *c.InterruptState
		is.ResumeValues = deepCopyMap(c.InterruptState.ResumeValues)
		copied.InterruptState = &is
	}
	return copied
}

// Fork creates a new checkpoint derived from this one.
func (c *Checkpoint) Fork() *Checkpoint {
	forked := c.Copy()
	forked.ID = uuid.New().String()
	forked.Timestamp = time.Now().UTC()
	forked.ParentCheckpointID = c.ID
	return forked
}

// IsInterrupted reports whether the checkpoint captured a suspension.
func (c *Checkpoint) IsInterrupted() bool {
	return c != nil && c.InterruptState != nil
}

// SetInterruptState marks the checkpoint as interrupted.
func (c *Checkpoint) SetInterruptState(state *InterruptState) {
	c.InterruptState = state
}

// ClearInterruptState removes any recorded suspension.
func (c *Checkpoint) ClearInterruptState() {
	c.InterruptState = nil
}

// deepCopyMap copies a map through JSON where possible, falling back to
// a shallow copy for values that do not serialize.
func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	raw, err := json.Marshal(src)
	if err == nil {
		var dst map[string]any
		if err := json.Unmarshal(raw, &dst); err == nil {
			return dst
		}
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CheckpointMetadata describes a stored checkpoint.
type CheckpointMetadata struct {
	// Source is one of the CheckpointSource constants.
	Source string `json:"source"`
	// Step is the executor step at which the checkpoint was written.
	Step int `json:"step"`
	// Extra carries saver-visible metadata for filtering.
	Extra map[string]any `json:"extra,omitempty"`
}

// CheckpointTuple bundles a checkpoint with its addressing config,
// metadata, parent link and pending writes.
type CheckpointTuple struct {
	Config        map[string]any      `json:"config"`
	Checkpoint    *Checkpoint         `json:"checkpoint"`
	Metadata      *CheckpointMetadata `json:"metadata"`
	ParentConfig  map[string]any      `json:"parent_config,omitempty"`
	PendingWrites []PendingWrite      `json:"pending_writes,omitempty"`
}

// PendingWrite is a channel write captured alongside a checkpoint.
type PendingWrite struct {
	TaskID   string `json:"task_id"`
	Channel  string `json:"channel"`
	Value    any    `json:"value"`
	Sequence int64  `json:"sequence"`
}

// PutRequest stores a checkpoint.
type PutRequest struct {
	Config     map[string]any
	Checkpoint *Checkpoint
	Metadata   *CheckpointMetadata
}

// PutWritesRequest stores pending writes for an existing checkpoint.
type PutWritesRequest struct {
	Config map[string]any
	TaskID string
	Writes []PendingWrite
}

// PutFullRequest stores a checkpoint and its writes atomically.
type PutFullRequest struct {
	Config        map[string]any
	Checkpoint    *Checkpoint
	Metadata      *CheckpointMetadata
	PendingWrites []PendingWrite
}

// CheckpointFilter narrows List results.
type CheckpointFilter struct {
	// Before restricts results to checkpoints older than the one the
	// config addresses.
	Before map[string]any
	// Limit caps the number of results, newest first.
	Limit int
	// Metadata requires matching entries in CheckpointMetadata.Extra.
	Metadata map[string]any
}

// CheckpointSaver persists checkpoints for durable execution.
type CheckpointSaver interface {
	Get(ctx context.Context, config map[string]any) (*Checkpoint, error)
	GetTuple(ctx context.Context, config map[string]any) (*CheckpointTuple, error)
	List(ctx context.Context, config map[string]any, filter *CheckpointFilter) ([]*CheckpointTuple, error)
	Put(ctx context.Context, req PutRequest) (map[string]any, error)
	PutWrites(ctx context.Context, req PutWritesRequest) error
	PutFull(ctx context.Context, req PutFullRequest) (map[string]any, error)
	DeleteLineage(ctx context.Context, lineageID string) error
	Close() error
}

// CreateCheckpointConfig builds the config map addressing a checkpoint.
func CreateCheckpointConfig(lineageID, checkpointID, namespace string) map[string]any {
	configurable := map[string]any{
		CfgKeyLineageID: lineageID,
	}
	if checkpointID != "" {
		configurable[CfgKeyCheckpointID] = checkpointID
	}
	if namespace != "" {
		configurable[CfgKeyCheckpointNS] = namespace
	}
	return map[string]any{CfgKeyConfigurable: configurable}
}

// GetLineageID extracts the lineage ID from a checkpoint config.
func GetLineageID(config map[string]any) string {
	return configString(config, CfgKeyLineageID)
}

// GetCheckpointID extracts the checkpoint ID from a checkpoint config.
func GetCheckpointID(config map[string]any) string {
	return configString(config, CfgKeyCheckpointID)
}

// GetNamespace extracts the checkpoint namespace from a config.
func GetNamespace(config map[string]any) string {
	return configString(config, CfgKeyCheckpointNS)
}

func configString(config map[string]any, key string) string {
	configurable, ok := config[CfgKeyConfigurable].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := configurable[key].(string)
	return value
}

// CheckpointManager offers lineage-level operations over a saver.
type CheckpointManager struct {
	saver CheckpointSaver
}

// NewCheckpointManager creates a manager backed by the given saver.
func NewCheckpointManager(saver CheckpointSaver) *CheckpointManager {
	return &CheckpointManager{saver: saver}
}

// Latest returns the newest checkpoint tuple for a lineage, or nil.
func (m *CheckpointManager) Latest(ctx context.Context, lineageID, namespace string) (*CheckpointTuple, error) {
	if lineageID == "" {
		return nil, ErrLineageIDRequired
	}
	return m.saver.GetTuple(ctx, CreateCheckpointConfig(lineageID, "", namespace))
}

// Get returns a specific checkpoint tuple.
func (m *CheckpointManager) Get(ctx context.Context, lineageID, checkpointID, namespace string) (*CheckpointTuple, error) {
	if lineageID == "" {
		return nil, ErrLineageIDRequired
	}
	tuple, err := m.saver.GetTuple(ctx, CreateCheckpointConfig(lineageID, checkpointID, namespace))
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, ErrCheckpointNotFound
	}
	return tuple, nil
}

// List returns checkpoint tuples for a lineage, newest first.
func (m *CheckpointManager) List(ctx context.Context, lineageID, namespace string, filter *CheckpointFilter) ([]*CheckpointTuple, error) {
	if lineageID == "" {
		return nil, ErrLineageIDRequired
	}
	return m.saver.List(ctx, CreateCheckpointConfig(lineageID, "", namespace), filter)
}

// BranchFrom forks an existing checkpoint into a new one in the same
// lineage and returns the stored fork.
func (m *CheckpointManager) BranchFrom(ctx context.Context, lineageID, checkpointID, namespace string) (*Checkpoint, error) {
	tuple, err := m.Get(ctx, lineageID, checkpointID, namespace)
	if err != nil {
		return nil, err
	}
	forked := tuple.Checkpoint.Fork()
	_, err = m.saver.Put(ctx, PutRequest{
		Config:     CreateCheckpointConfig(lineageID, forked.ID, namespace),
		Checkpoint: forked,
		Metadata:   &CheckpointMetadata{Source: CheckpointSourceFork},
	})
	if err != nil {
		return nil, err
	}
	return forked, nil
}

// DeleteLineage removes all checkpoints for a lineage.
func (m *CheckpointManager) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return ErrLineageIDRequired
	}
	return m.saver.DeleteLineage(ctx, lineageID)
}
