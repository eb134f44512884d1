//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed checkpoint saver. Checkpoints
// and metadata are stored as JSON blobs keyed by lineage, namespace and
// checkpoint ID, which makes the saver durable across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

const (
	createCheckpointsTable = `CREATE TABLE IF NOT EXISTS checkpoints (
		lineage_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		parent_checkpoint_id TEXT,
		ts INTEGER NOT NULL,
		checkpoint_json BLOB NOT NULL,
		metadata_json BLOB NOT NULL,
		PRIMARY KEY (lineage_id, checkpoint_ns, checkpoint_id)
	)`

	createWritesTable = `CREATE TABLE IF NOT EXISTS checkpoint_writes (
		lineage_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL,
		checkpoint_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		channel TEXT NOT NULL,
		value_json BLOB NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (lineage_id, checkpoint_ns, checkpoint_id, task_id, idx)
	)`

	insertCheckpoint = `INSERT OR REPLACE INTO checkpoints
		(lineage_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, checkpoint_json, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertWrite = `INSERT OR REPLACE INTO checkpoint_writes
		(lineage_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, value_json, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectWrites = `SELECT task_id, channel, value_json, seq FROM checkpoint_writes
		WHERE lineage_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY seq`

	deleteLineageCheckpoints = `DELETE FROM checkpoints WHERE lineage_id = ?`
	deleteLineageWrites      = `DELETE FROM checkpoint_writes WHERE lineage_id = ?`
)

// Saver is a CheckpointSaver backed by a SQLite database.
type Saver struct {
	db *sql.DB
}

// NewSaver creates a saver over an initialized *sql.DB with a SQLite
// driver, creating the schema if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpointsTable); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(createWritesTable); err != nil {
		return nil, fmt.Errorf("create checkpoint_writes table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Get returns the checkpoint addressed by config, or nil.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil || tuple == nil {
		return nil, err
	}
	return tuple.Checkpoint, nil
}

type checkpointRow struct {
	checkpointJSON []byte
	metadataJSON   []byte
	parentID       sql.NullString
	checkpointID   string
	namespace      string
}

// GetTuple returns the checkpoint tuple addressed by config. An empty
// checkpoint ID selects the newest row; an empty namespace searches
// across namespaces.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)
	checkpointID := graph.GetCheckpointID(config)

	row, err := s.queryRow(ctx, lineageID, namespace, checkpointID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.buildTuple(ctx, lineageID, row)
}

func (s *Saver) queryRow(ctx context.Context, lineageID, namespace, checkpointID string) (*checkpointRow, error) {
	q := "SELECT checkpoint_json, metadata_json, parent_checkpoint_id, checkpoint_id, checkpoint_ns " +
		"FROM checkpoints WHERE lineage_id = ?"
	args := []any{lineageID}
	if namespace != "" {
		q += " AND checkpoint_ns = ?"
		args = append(args, namespace)
	}
	if checkpointID != "" {
		q += " AND checkpoint_id = ?"
		args = append(args, checkpointID)
	}
	q += " ORDER BY ts DESC LIMIT 1"

	var r checkpointRow
	err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&r.checkpointJSON, &r.metadataJSON, &r.parentID, &r.checkpointID, &r.namespace)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return &r, nil
}

func (s *Saver) buildTuple(ctx context.Context, lineageID string, row *checkpointRow) (*graph.CheckpointTuple, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(row.checkpointJSON, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var meta graph.CheckpointMetadata
	if err := json.Unmarshal(row.metadataJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	writes, err := s.loadWrites(ctx, lineageID, row.namespace, row.checkpointID)
	if err != nil {
		return nil, err
	}
	tuple := &graph.CheckpointTuple{
		Config:        graph.CreateCheckpointConfig(lineageID, row.checkpointID, row.namespace),
		Checkpoint:    &ckpt,
		Metadata:      &meta,
		PendingWrites: writes,
	}
	if row.parentID.Valid && row.parentID.String != "" {
		tuple.ParentConfig = graph.CreateCheckpointConfig(lineageID, row.parentID.String, row.namespace)
	}
	return tuple, nil
}

// List returns checkpoints for a lineage ordered newest first.
func (s *Saver) List(ctx context.Context, config map[string]any,
	filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {

	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)

	q := "SELECT checkpoint_json, metadata_json, parent_checkpoint_id, checkpoint_id, checkpoint_ns " +
		"FROM checkpoints WHERE lineage_id = ?"
	args := []any{lineageID}
	if namespace != "" {
		q += " AND checkpoint_ns = ?"
		args = append(args, namespace)
	}
	if beforeTS, ok, err := s.beforeTimestamp(ctx, lineageID, namespace, filter); err != nil {
		return nil, err
	} else if ok {
		q += " AND ts < ?"
		args = append(args, beforeTS)
	}
	q += " ORDER BY ts DESC"

	checkpointRows, err := s.scanRows(ctx, q, args)
	if err != nil {
		return nil, err
	}

	var tuples []*graph.CheckpointTuple
	for i := range checkpointRows {
		tuple, err := s.buildTuple(ctx, lineageID, &checkpointRows[i])
		if err != nil {
			return nil, err
		}
		if !matchesMetadata(tuple, filter) {
			continue
		}
		tuples = append(tuples, tuple)
		if filter != nil && filter.Limit > 0 && len(tuples) >= filter.Limit {
			break
		}
	}
	return tuples, nil
}

// scanRows reads all checkpoint rows into memory and closes the cursor
// before returning, so callers can issue further queries without holding
// a pool connection (SQLite writers are typically capped at one).
func (s *Saver) scanRows(ctx context.Context, q string, args []any) ([]checkpointRow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var out []checkpointRow
	for rows.Next() {
		var r checkpointRow
		if err := rows.Scan(&r.checkpointJSON, &r.metadataJSON, &r.parentID,
			&r.checkpointID, &r.namespace); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func (s *Saver) beforeTimestamp(ctx context.Context, lineageID, namespace string,
	filter *graph.CheckpointFilter) (int64, bool, error) {

	if filter == nil || filter.Before == nil {
		return 0, false, nil
	}
	beforeID := graph.GetCheckpointID(filter.Before)
	if beforeID == "" {
		return 0, false, nil
	}
	q := "SELECT ts FROM checkpoints WHERE lineage_id = ? AND checkpoint_id = ?"
	args := []any{lineageID, beforeID}
	if namespace != "" {
		q += " AND checkpoint_ns = ?"
		args = append(args, namespace)
	}
	var ts int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select before timestamp: %w", err)
	}
	return ts, true, nil
}

func matchesMetadata(tuple *graph.CheckpointTuple, filter *graph.CheckpointFilter) bool {
	if filter == nil || filter.Metadata == nil {
		return true
	}
	if tuple.Metadata == nil || tuple.Metadata.Extra == nil {
		return false
	}
	for k, v := range filter.Metadata {
		if tuple.Metadata.Extra[k] != v {
			return false
		}
	}
	return true
}

// Put stores a checkpoint and returns the config addressing it.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	lineageID := graph.GetLineageID(req.Config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(req.Config)
	if err := s.insertCheckpoint(ctx, s.db.ExecContext, lineageID, namespace, req.Checkpoint, req.Metadata); err != nil {
		return nil, err
	}
	return graph.CreateCheckpointConfig(lineageID, req.Checkpoint.ID, namespace), nil
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (s *Saver) insertCheckpoint(ctx context.Context, exec execFunc,
	lineageID, namespace string, ckpt *graph.Checkpoint, meta *graph.CheckpointMetadata) error {

	checkpointJSON, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if meta == nil {
		meta = &graph.CheckpointMetadata{Source: graph.CheckpointSourceUpdate}
	}
	metadataJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ts := ckpt.Timestamp.UnixNano()
	if ts <= 0 {
		ts = time.Now().UTC().UnixNano()
	}
	if _, err := exec(ctx, insertCheckpoint, lineageID, namespace, ckpt.ID,
		ckpt.ParentCheckpointID, ts, checkpointJSON, metadataJSON); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// PutWrites stores pending writes for an existing checkpoint.
func (s *Saver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	lineageID := graph.GetLineageID(req.Config)
	checkpointID := graph.GetCheckpointID(req.Config)
	if lineageID == "" || checkpointID == "" {
		return graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(req.Config)
	return s.insertWrites(ctx, s.db.ExecContext, lineageID, namespace, checkpointID, req.TaskID, req.Writes)
}

func (s *Saver) insertWrites(ctx context.Context, exec execFunc,
	lineageID, namespace, checkpointID, taskID string, writes []graph.PendingWrite) error {

	for idx, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("marshal write value: %w", err)
		}
		seq := w.Sequence
		if seq == 0 {
			seq = int64(idx)
		}
		id := w.TaskID
		if id == "" {
			id = taskID
		}
		if _, err := exec(ctx, insertWrite, lineageID, namespace, checkpointID,
			id, idx, w.Channel, valueJSON, seq); err != nil {
			return fmt.Errorf("insert write: %w", err)
		}
	}
	return nil
}

// PutFull stores a checkpoint and its writes in one transaction.
func (s *Saver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	lineageID := graph.GetLineageID(req.Config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(req.Config)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertCheckpoint(ctx, tx.ExecContext, lineageID, namespace, req.Checkpoint, req.Metadata); err != nil {
		return nil, err
	}
	if err := s.insertWrites(ctx, tx.ExecContext, lineageID, namespace,
		req.Checkpoint.ID, "", req.PendingWrites); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return graph.CreateCheckpointConfig(lineageID, req.Checkpoint.ID, namespace), nil
}

// DeleteLineage removes all checkpoints and writes for a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	if _, err := s.db.ExecContext(ctx, deleteLineageCheckpoints, lineageID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, deleteLineageWrites, lineageID); err != nil {
		return fmt.Errorf("delete writes: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Saver) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Saver) loadWrites(ctx context.Context, lineageID, namespace, checkpointID string) ([]graph.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, selectWrites, lineageID, namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("select writes: %w", err)
	}
	defer rows.Close()

	var writes []graph.PendingWrite
	for rows.Next() {
		var w graph.PendingWrite
		var valueJSON []byte
		if err := rows.Scan(&w.TaskID, &w.Channel, &valueJSON, &w.Sequence); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		if err := json.Unmarshal(valueJSON, &w.Value); err != nil {
			return nil, fmt.Errorf("unmarshal write value: %w", err)
		}
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate writes: %w", err)
	}
	return writes, nil
}
