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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/model"
)

func TestStateClone(t *testing.T) {
	original := State{"a": 1, "b": "two"}
	cloned := original.Clone()
	cloned["a"] = 99
	assert.Equal(t, 1, original["a"])
	assert.Equal(t, "two", cloned["b"])
}

func TestSchemaApplyUpdate(t *testing.T) {
	schema := NewStateSchema().
		AddField("counter", StateField{Type: reflect.TypeOf(0)}).
		AddField("tags", StateField{Type: reflect.TypeOf([]string{}), Reducer: StringSliceReducer})

	state := State{"counter": 1, "tags": []string{"a"}}
	state = schema.ApplyUpdate(state, State{"counter": 2, "tags": "b"})

	assert.Equal(t, 2, state["counter"])
	assert.Equal(t, []string{"a", "b"}, state["tags"])
}

func TestSchemaApplyUpdateUnknownKeyPassesThrough(t *testing.T) {
	schema := NewStateSchema()
	state := schema.ApplyUpdate(State{}, State{"custom": 42})
	assert.Equal(t, 42, state["custom"])
}

func TestSchemaValidate(t *testing.T) {
	schema := NewStateSchema().
		AddField("required_field", StateField{Type: reflect.TypeOf(""), Required: true})

	require.Error(t, schema.Validate(State{}))
	require.NoError(t, schema.Validate(State{"required_field": "ok"}))
}

func TestSchemaInitDefaults(t *testing.T) {
	schema := NewStateSchema().
		AddField("items", StateField{
			Type:    reflect.TypeOf([]string{}),
			Default: func() any { return []string{} },
		})
	state := schema.Init()
	assert.Equal(t, []string{}, state["items"])
}

func TestSchemaRehydrate(t *testing.T) {
	schema := MessagesStateSchema()
	// Simulate a JSON round trip through a checkpoint saver.
	state := State{
		StateKeyMessages: []any{
			map[string]any{"id": "m1", "role": "user", "content": "hello"},
		},
	}
	schema.Rehydrate(state)

	messages, ok := state[StateKeyMessages].([]model.Message)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestMergeReducer(t *testing.T) {
	existing := map[string]any{"a": 1}
	merged := MergeReducer(existing, map[string]any{"b": 2}).(map[string]any)
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
	// The original map is not mutated.
	assert.NotContains(t, existing, "b")
}

func TestMessageReducerAppend(t *testing.T) {
	first := model.NewUserMessage("hi")
	first.ID = "u1"
	second := model.NewAssistantMessage("hello")
	second.ID = "a1"

	result := MessageReducer(nil, first).([]model.Message)
	result = MessageReducer(result, []model.Message{second}).([]model.Message)

	require.Len(t, result, 2)
	assert.Equal(t, "u1", result[0].ID)
	assert.Equal(t, "a1", result[1].ID)
}

func TestMessageReducerReplaceByID(t *testing.T) {
	original := model.NewAssistantMessage("draft")
	original.ID = "a1"
	revised := model.NewAssistantMessage("final")
	revised.ID = "a1"

	history := MessageReducer(nil, original).([]model.Message)
	history = MessageReducer(history, revised).([]model.Message)

	require.Len(t, history, 1)
	assert.Equal(t, "final", history[0].Content)
}

func TestMessageReducerEmptySliceClears(t *testing.T) {
	history := MessageReducer(nil, model.NewUserMessage("hi")).([]model.Message)
	require.Len(t, history, 1)

	cleared := MessageReducer(history, []model.Message{}).([]model.Message)
	assert.Empty(t, cleared)
}

func TestMessageReducerOps(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("first"),
		model.NewAssistantMessage("answer"),
	}
	result := MessageReducer(history, ReplaceLastUser{Content: "rewritten"}).([]model.Message)
	require.Len(t, result, 2)
	assert.Equal(t, "rewritten", result[0].Content)
	// Original history untouched.
	assert.Equal(t, "first", history[0].Content)

	result = MessageReducer(result, RemoveAllMessages{}).([]model.Message)
	assert.Empty(t, result)
}
