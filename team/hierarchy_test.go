//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderMembers(t *testing.T) {
	members := []Member{
		{ID: "w2", Type: TypeWorker, Source: "lead"},
		{ID: "root", Type: TypeRoot},
		{ID: "lead", Type: TypeLeader, Source: "root"},
		{ID: "w1", Type: TypeWorker, Source: "root"},
	}
	ordered, err := orderMembers(members)
	require.NoError(t, err)
	require.Len(t, ordered, 4)
	assert.Equal(t, "root", ordered[0].ID)

	position := make(map[string]int, len(ordered))
	for i, m := range ordered {
		position[m.ID] = i
	}
	assert.Less(t, position["root"], position["lead"])
	assert.Less(t, position["root"], position["w1"])
	assert.Less(t, position["lead"], position["w2"])
}

func TestOrderMembersRejectsCycles(t *testing.T) {
	members := []Member{
		{ID: "root", Type: TypeRoot},
		{ID: "a", Type: TypeWorker, Source: "b"},
		{ID: "b", Type: TypeWorker, Source: "a"},
	}
	_, err := orderMembers(members)
	require.ErrorIs(t, err, ErrInvalidTeam)
	assert.Contains(t, err.Error(), "cycle")
}

func TestOrderMembersValidation(t *testing.T) {
	t.Run("two roots", func(t *testing.T) {
		_, err := orderMembers([]Member{
			{ID: "r1", Type: TypeRoot},
			{ID: "r2", Type: TypeRoot},
		})
		assert.ErrorIs(t, err, ErrInvalidTeam)
	})
	t.Run("no root", func(t *testing.T) {
		_, err := orderMembers([]Member{{ID: "w", Type: TypeWorker, Source: "w"}})
		assert.ErrorIs(t, err, ErrInvalidTeam)
	})
	t.Run("unknown source", func(t *testing.T) {
		_, err := orderMembers([]Member{
			{ID: "root", Type: TypeRoot},
			{ID: "w", Type: TypeWorker, Source: "ghost"},
		})
		assert.ErrorIs(t, err, ErrInvalidTeam)
	})
	t.Run("root with source", func(t *testing.T) {
		_, err := orderMembers([]Member{{ID: "root", Type: TypeRoot, Source: "x"}})
		assert.ErrorIs(t, err, ErrInvalidTeam)
	})
	t.Run("duplicate ids", func(t *testing.T) {
		_, err := orderMembers([]Member{
			{ID: "root", Type: TypeRoot},
			{ID: "root", Type: TypeWorker, Source: "root"},
		})
		assert.ErrorIs(t, err, ErrInvalidTeam)
	})
}

func TestChildrenOf(t *testing.T) {
	ordered, err := orderMembers([]Member{
		{ID: "root", Type: TypeRoot},
		{ID: "a", Type: TypeWorker, Source: "root"},
		{ID: "b", Type: TypeWorker, Source: "root"},
	})
	require.NoError(t, err)
	children := childrenOf(ordered, "root")
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].ID)
	assert.Equal(t, "b", children[1].ID)
	assert.Empty(t, childrenOf(ordered, "a"))
}
