//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

func putCheckpoint(t *testing.T, s *Saver, lineageID string, values map[string]any) *graph.Checkpoint {
	t.Helper()
	ckpt := graph.NewCheckpoint(values)
	_, err := s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig(lineageID, ckpt.ID, ""),
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceLoop},
	})
	require.NoError(t, err)
	return ckpt
}

func TestPutAndGetLatest(t *testing.T) {
	s := NewSaver()
	ctx := context.Background()

	first := putCheckpoint(t, s, "l1", map[string]any{"n": 1})
	time.Sleep(time.Millisecond)
	second := putCheckpoint(t, s, "l1", map[string]any{"n": 2})

	latest, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", "", ""))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)

	specific, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", first.ID, ""))
	require.NoError(t, err)
	require.NotNil(t, specific)
	assert.Equal(t, float64(1), specific.StateValues["n"])
}

func TestGetRequiresLineage(t *testing.T) {
	s := NewSaver()
	_, err := s.GetTuple(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, graph.ErrLineageIDRequired)
}

func TestGetUnknownLineageReturnsNil(t *testing.T) {
	s := NewSaver()
	tuple, err := s.GetTuple(context.Background(), graph.CreateCheckpointConfig("nope", "", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestStoredCheckpointIsIsolated(t *testing.T) {
	s := NewSaver()
	ctx := context.Background()

	ckpt := graph.NewCheckpoint(map[string]any{"k": "original"})
	_, err := s.Put(ctx, graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l1", ckpt.ID, ""),
		Checkpoint: ckpt,
	})
	require.NoError(t, err)

	// Mutating the caller's copy must not affect stored data.
	ckpt.StateValues["k"] = "mutated"

	stored, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", ckpt.ID, ""))
	require.NoError(t, err)
	assert.Equal(t, "original", stored.StateValues["k"])
}

func TestPutFullStoresWrites(t *testing.T) {
	s := NewSaver()
	ctx := context.Background()

	ckpt := graph.NewCheckpoint(nil)
	_, err := s.PutFull(ctx, graph.PutFullRequest{
		Config:     graph.CreateCheckpointConfig("l1", ckpt.ID, ""),
		Checkpoint: ckpt,
		Metadata:   &graph.CheckpointMetadata{Source: graph.CheckpointSourceInterrupt},
		PendingWrites: []graph.PendingWrite{
			{TaskID: "t1", Channel: graph.InterruptChannel, Value: "prompt", Sequence: 1},
		},
	})
	require.NoError(t, err)

	tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l1", ckpt.ID, ""))
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 1)
	assert.Equal(t, graph.InterruptChannel, tuple.PendingWrites[0].Channel)
	assert.Equal(t, graph.CheckpointSourceInterrupt, tuple.Metadata.Source)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := NewSaver()
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
	assert.Equal(t, ids[0], tuples[2].Checkpoint.ID)

	limited, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""),
		&graph.CheckpointFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListBeforeFilter(t *testing.T) {
	s := NewSaver()
	ctx := context.Background()

	first := putCheckpoint(t, s, "l1", nil)
	time.Sleep(time.Millisecond)
	second := putCheckpoint(t, s, "l1", nil)

	tuples, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""),
		&graph.CheckpointFilter{Before: graph.CreateCheckpointConfig("l1", second.ID, "")})
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, first.ID, tuples[0].Checkpoint.ID)
}

func TestEviction(t *testing.T) {
	s := NewSaver().WithMaxCheckpointsPerLineage(2)
	ctx := context.Background()

	oldest := putCheckpoint(t, s, "l1", nil)
	time.Sleep(time.Millisecond)
	putCheckpoint(t, s, "l1", nil)
	time.Sleep(time.Millisecond)
	putCheckpoint(t, s, "l1", nil)

	tuples, err := s.List(ctx, graph.CreateCheckpointConfig("l1", "", ""), nil)
	require.NoError(t, err)
	assert.Len(t, tuples, 2)

	gone, err := s.Get(ctx, graph.CreateCheckpointConfig("l1", oldest.ID, ""))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteLineageAndClose(t *testing.T) {
	s := NewSaver()
	ctx := context.Background()

	putCheckpoint(t, s, "l1", nil)
	putCheckpoint(t, s, "l2", nil)

	require.NoError(t, s.DeleteLineage(ctx, "l1"))
	tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig("l1", "", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)

	require.NoError(t, s.Close())
	tuple, err = s.GetTuple(ctx, graph.CreateCheckpointConfig("l2", "", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)
}
