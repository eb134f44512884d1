//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

func feed(events ...*event.Event) <-chan *event.Event {
	ch := make(chan *event.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	return ch
}

func frames(t *testing.T, ch <-chan ChatResponse) []ChatResponse {
	t.Helper()
	var out []ChatResponse
	for frame := range ch {
		out = append(out, frame)
	}
	return out
}

func labelFor(nodeID string) string {
	if nodeID == "chat" {
		return "Chat Node"
	}
	return nodeID
}

func deltaEvent(author, content string) *event.Event {
	response := &model.Response{
		IsPartial: true,
		Choices:   []model.Choice{{Delta: model.Message{Content: content}}},
	}
	return event.NewResponseEvent("inv1", author, response)
}

func TestTranslateModelDeltas(t *testing.T) {
	out := frames(t, Translate(feed(
		graph.NewGraphStartEvent("inv1"),
		deltaEvent("chat", "hel"),
		deltaEvent("chat", "lo"),
		graph.NewCompletionEvent("inv1", "hello"),
	), labelFor))

	require.Len(t, out, 3)
	assert.Equal(t, TypeAI, out[0].Type)
	assert.Equal(t, "hel", out[0].Content)
	assert.Equal(t, "Chat Node", out[0].Name)
	assert.Equal(t, "lo", out[1].Content)
	assert.Equal(t, "hello", out[2].Content)
}

func TestTranslateSkipsLifecycleEvents(t *testing.T) {
	out := frames(t, Translate(feed(
		graph.NewGraphStartEvent("inv1"),
		graph.NewNodeEvent("inv1", graph.ObjectTypeNodeStart, graph.NodeExecutionMetadata{NodeID: "chat"}),
		graph.NewNodeEvent("inv1", graph.ObjectTypeNodeComplete, graph.NodeExecutionMetadata{NodeID: "chat"}),
	), labelFor))
	assert.Empty(t, out)
}

func TestTranslateToolFrames(t *testing.T) {
	msg := model.NewToolMessage("call1", "search", `["doc-a","doc-b"]`)
	response := &model.Response{
		Object:  model.ObjectTypeToolResponse,
		Done:    true,
		Choices: []model.Choice{{Message: msg}},
	}
	out := frames(t, Translate(feed(event.NewResponseEvent("inv1", "tools", response)), labelFor))

	require.Len(t, out, 1)
	assert.Equal(t, TypeTool, out[0].Type)
	assert.Equal(t, "call1", out[0].ID)
	assert.Equal(t, "search", out[0].Name)
	assert.Equal(t, `["doc-a","doc-b"]`, out[0].ToolOutput)
	assert.Equal(t, []any{"doc-a", "doc-b"}, out[0].Documents)
}

func TestTranslateInterruptFrame(t *testing.T) {
	md := graph.InterruptMetadata{
		NodeID: "chat",
		Value: map[string]any{
			"interaction_type": "tool_review",
			"question":         "run this?",
			"tool_call": map[string]any{
				"id":        "call1",
				"name":      "deploy",
				"arguments": `{"env":"prod"}`,
			},
		},
	}
	out := frames(t, Translate(feed(graph.NewInterruptEvent("inv1", md)), labelFor))

	require.Len(t, out, 1)
	frame := out[0]
	assert.Equal(t, TypeInterrupt, frame.Type)
	assert.Equal(t, "Chat Node", frame.Name)
	assert.Equal(t, "run this?", frame.Content)
	assert.Equal(t, "tool_review", frame.Next)
	require.Len(t, frame.ToolCalls, 1)
	assert.Equal(t, "deploy", frame.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"env":"prod"}`, string(frame.ToolCalls[0].Function.Arguments))
}

func TestTranslateErrorFrameOnce(t *testing.T) {
	out := frames(t, Translate(feed(
		event.NewErrorEvent("inv1", "chat", model.ErrorTypeFlowError, "boom"),
		event.NewErrorEvent("inv1", "chat", model.ErrorTypeFlowError, "boom again"),
	), labelFor))

	require.Len(t, out, 1)
	assert.Equal(t, TypeError, out[0].Type)
	assert.Equal(t, "boom", out[0].Content)
}

func TestTranslateNilResolver(t *testing.T) {
	out := frames(t, Translate(feed(deltaEvent("chat", "x")), nil))
	require.Len(t, out, 1)
	assert.Equal(t, "chat", out[0].Name)
}
