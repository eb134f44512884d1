//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

func newTestSaver(t *testing.T) *Saver {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	saver, err := NewSaver(db)
	require.NoError(t, err)
	return saver
}

func putCheckpoint(t *testing.T, s *Saver, lineageID string, values map[string]any) *graph.Checkpoint {
	t.Helper()
	ckpt := graph.NewCheckpoint(values)
	_, err := s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig(lineageID, ckpt.ID, ""),
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceLoop, Step: 1},
	})
	require.NoError(t, err)
	return ckpt
}

func TestNewSaverRequiresDB(t *testing.T) {
	_, err := NewSaver(nil)
	require.Error(t, err)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	ckpt := graph.NewCheckpoint(map[string]any{"answer": "42"})
	ckpt.NextNodes = []string{"next_node"}
	ckpt.SetInterruptState(&graph.InterruptState{
		NodeID:         "human",
		InterruptValue: "please confirm",
		Step:           3,
	})
	_, err := s.Put(ctx, graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l1", ckpt.ID, ""),
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInterrupt, Step: 3},
	})
	require.NoError(t, err)

	loaded, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", ckpt.ID, ""))
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ckpt.ID, loaded.ID)
	assert.Equal(t, "42", loaded.StateValues["answer"])
	assert.Equal(t, []string{"next_node"}, loaded.NextNodes)
	require.True(t, loaded.IsInterrupted())
	assert.Equal(t, "human", loaded.InterruptState.NodeID)
	assert.Equal(t, "please confirm", loaded.InterruptState.InterruptValue)
}

func TestGetLatestAcrossPuts(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	putCheckpoint(t, s, "l1", map[string]any{"n": 1})
	time.Sleep(time.Millisecond)
	second := putCheckpoint(t, s, "l1", map[string]any{"n": 2})

	latest, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", "", ""))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestSaver(t)
	tuple, err := s.GetTuple(context.Background(), graph.CreateCheckpointConfig("nope", "", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)

	_, err = s.GetTuple(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, graph.ErrLineageIDRequired)
}

func TestParentConfig(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	parent := putCheckpoint(t, s, "l1", nil)
	child := graph.NewCheckpoint(nil)
	child.ParentCheckpointID = parent.ID
	_, err := s.Put(ctx, graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l1", child.ID, ""),
		Checkpoint: child,
	})
	require.NoError(t, err)

	tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l1", child.ID, ""))
	require.NoError(t, err)
	require.NotNil(t, tuple.ParentConfig)
	assert.Equal(t, parent.ID, graph.GetCheckpointID(tuple.ParentConfig))
}

func TestPutFullWithWrites(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	ckpt := graph.NewCheckpoint(nil)
	_, err := s.PutFull(ctx, graph.PutFullRequest{
		Config:     graph.CreateCheckpointConfig("l1", ckpt.ID, ""),
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInterrupt},
		PendingWrites: []graph.PendingWrite{
			{TaskID: "t1", Channel: graph.InterruptChannel, Value: "prompt", Sequence: 1},
			{TaskID: "t1", Channel: graph.ErrorChannel, Value: "oops", Sequence: 2},
		},
	})
	require.NoError(t, err)

	tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l1", ckpt.ID, ""))
	require.NoError(t, err)
	require.Len(t, tuple.PendingWrites, 2)
	assert.Equal(t, graph.InterruptChannel, tuple.PendingWrites[0].Channel)
	assert.Equal(t, "prompt", tuple.PendingWrites[0].Value)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ckpt := putCheckpoint(t, s, "l1", map[string]any{"i": i})
		ids = append(ids, ckpt.ID)
		time.Sleep(time.Millisecond)
	}

	tuples, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""), nil)
	require.NoError(t, err)
	require.Len(t, tuples, 3)
	assert.Equal(t, ids[2], tuples[0].Checkpoint.ID)

	limited, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""),
		&graph.CheckpointFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[2], limited[0].Checkpoint.ID)

	before, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""),
		&graph.CheckpointFilter{Before: graph.CreateCheckpointConfig("l1", ids[1], "")})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, ids[0], before[0].Checkpoint.ID)
}

func TestDeleteLineage(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	putCheckpoint(t, s, "l1", nil)
	putCheckpoint(t, s, "l2", nil)

	require.NoError(t, s.DeleteLineage(ctx, "l1"))

	gone, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l1", "", ""))
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l2", "", ""))
	require.NoError(t, err)
	assert.NotNil(t, kept)

	assert.Error(t, s.DeleteLineage(ctx, ""))
}
