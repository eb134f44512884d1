//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"reflect"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// State keys added by the workflow layer on top of the graph schema.
const (
	// StateKeyNodeOutputs maps node ID to that node's structured result.
	// Variable references resolve against this map.
	StateKeyNodeOutputs = "node_outputs"
	// StateKeyHistory is an append-only transcript retained across
	// sub-graph boundaries.
	StateKeyHistory = "history"
	// StateKeyAllMessages is the append-only record of every message
	// produced anywhere in the run.
	StateKeyAllMessages = "all_messages"
)

// Schema returns the execution state schema for compiled workflows:
// the conversational schema plus node outputs and the append-only
// transcripts.
func Schema() *graph.StateSchema {
	schema := graph.MessagesStateSchema()
	schema.AddField(StateKeyNodeOutputs, graph.StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: graph.MergeReducer,
		Default: func() any { return map[string]any{} },
	})
	schema.AddField(StateKeyHistory, graph.StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: appendOnlyMessages,
		Default: func() any { return []model.Message{} },
	})
	schema.AddField(StateKeyAllMessages, graph.StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: appendOnlyMessages,
		Default: func() any { return []model.Message{} },
	})
	return schema
}

// appendOnlyMessages keeps the transcript strictly append-only: no
// replacement, no clearing.
func appendOnlyMessages(existing, update any) any {
	existingMessages, _ := existing.([]model.Message)
	switch u := update.(type) {
	case model.Message:
		return append(existingMessages, u)
	case []model.Message:
		return append(existingMessages, u...)
	default:
		return existingMessages
	}
}

// nodeOutputs returns the node output map from state, never nil.
func nodeOutputs(state graph.State) map[string]any {
	if outputs, ok := state[StateKeyNodeOutputs].(map[string]any); ok {
		return outputs
	}
	return map[string]any{}
}

// outputUpdate builds the state delta writing one node's result entry.
func outputUpdate(nodeID string, value any) graph.State {
	return graph.State{StateKeyNodeOutputs: map[string]any{nodeID: value}}
}

// recordNodeError writes an error entry for the node directly into the
// live state. Used when a node fails hard: its returned update is
// discarded, but the failure must still land in node_outputs.
func recordNodeError(state graph.State, nodeID string, err error) {
	outputs, ok := state[StateKeyNodeOutputs].(map[string]any)
	if !ok {
		outputs = map[string]any{}
		state[StateKeyNodeOutputs] = outputs
	}
	outputs[nodeID] = map[string]any{"error": err.Error()}
}
