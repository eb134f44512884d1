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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

func classifierState(input string) graph.State {
	state := Schema().Init()
	state[graph.StateKeyUserInput] = input
	return state
}

func runNode(t *testing.T, fn graph.NodeFunc, state graph.State) graph.State {
	t.Helper()
	result, err := fn(context.Background(), state)
	require.NoError(t, err)
	update, ok := result.(graph.State)
	require.True(t, ok)
	return update
}

func nodeOutput(t *testing.T, update graph.State, nodeID string) map[string]any {
	t.Helper()
	outputs, ok := update[StateKeyNodeOutputs].(map[string]any)
	require.True(t, ok)
	entry, ok := outputs[nodeID].(map[string]any)
	require.True(t, ok)
	return entry
}

func TestClassifierNode(t *testing.T) {
	cfg := ClassifierConfig{
		Model: "m",
		Categories: []Category{
			{ID: "cat-billing", Name: "Billing"},
			{ID: "cat-tech", Name: "Technical"},
		},
	}

	t.Run("matches category case-insensitively", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{
			{content: `{"keywords":["invoice"],"category_name":"billing"}`},
		}}
		update := runNode(t, classifierNodeFunc("clf", cfg, fm), classifierState("my invoice is wrong"))
		entry := nodeOutput(t, update, "clf")
		assert.Equal(t, "cat-billing", entry["category_id"])
		assert.Equal(t, "Billing", entry["category_name"])
		assert.Equal(t, []string{"invoice"}, entry["keywords"])
	})

	t.Run("unparseable output falls back to others", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{{content: "I cannot decide, sorry"}}}
		update := runNode(t, classifierNodeFunc("clf", cfg, fm), classifierState("hmm"))
		entry := nodeOutput(t, update, "clf")
		assert.Equal(t, "others_category", entry["category_id"])
	})

	t.Run("unknown category name falls back to others", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{
			{content: `{"keywords":[],"category_name":"Legal"}`},
		}}
		update := runNode(t, classifierNodeFunc("clf", cfg, fm), classifierState("sue them"))
		entry := nodeOutput(t, update, "clf")
		assert.Equal(t, OthersCategoryID, entry["category_id"])
		assert.Equal(t, "Legal", entry["category_name"])
	})

	t.Run("json wrapped in prose still parses", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{
			{content: "Here is my answer:\n```json\n{\"keywords\":[],\"category_name\":\"Technical\"}\n```"},
		}}
		update := runNode(t, classifierNodeFunc("clf", cfg, fm), classifierState("app crashes"))
		entry := nodeOutput(t, update, "clf")
		assert.Equal(t, "cat-tech", entry["category_id"])
	})
}

func TestIfElseNode(t *testing.T) {
	cfg := IfElseConfig{Cases: []Case{
		{
			ID:              "case-done",
			LogicalOperator: "and",
			Conditions: []Condition{
				{Variable: "${job.status}", Operator: OpEqual, Value: "done"},
				{Variable: "${job.errors}", Operator: OpEmpty},
			},
		},
		{
			ID:              "case-retry",
			LogicalOperator: "or",
			Conditions: []Condition{
				{Variable: "${job.status}", Operator: OpEqual, Value: "failed"},
				{Variable: "${job.status}", Operator: OpEqual, Value: "timeout"},
			},
		},
		{ID: "case-else", IsElse: true},
	}}
	fn := ifElseNodeFunc("gate", cfg)

	run := func(status, errs string) string {
		state := Schema().Init()
		state[StateKeyNodeOutputs] = map[string]any{
			"job": map[string]any{"status": status, "errors": errs},
		}
		entry := nodeOutput(t, runNode(t, fn, state), "gate")
		result, _ := entry["result"].(string)
		return result
	}

	assert.Equal(t, "case-done", run("done", ""))
	assert.Equal(t, "case-else", run("done", "oops"))
	assert.Equal(t, "case-retry", run("timeout", ""))
	assert.Equal(t, "case-else", run("running", ""))
}

func TestIfElseOperators(t *testing.T) {
	state := Schema().Init()
	state[StateKeyNodeOutputs] = map[string]any{
		"n": map[string]any{"v": "hello world"},
	}
	cases := []struct {
		operator string
		value    string
		want     bool
	}{
		{OpContains, "world", true},
		{OpContains, "mars", false},
		{OpNotContains, "mars", true},
		{OpStartWith, "hello", true},
		{OpEndWith, "world", true},
		{OpEqual, "hello world", true},
		{OpNotEqual, "hello world", false},
		{OpNotEmpty, "", true},
		{"bogus", "", false},
	}
	for _, tc := range cases {
		got := evaluateCondition(Condition{Variable: "${n.v}", Operator: tc.operator, Value: tc.value}, state)
		assert.Equal(t, tc.want, got, "operator %s", tc.operator)
	}
	assert.True(t, evaluateCondition(Condition{Variable: "${n.missing}", Operator: OpEmpty}, state))
}

func TestParameterExtractorRecoversFromBadOutput(t *testing.T) {
	cfg := ParameterExtractorConfig{
		Model:      "m",
		Parameters: []ParameterSpec{{Name: "city", Type: "string", Required: true}},
	}

	t.Run("parses parameters", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{{content: `{"city":"Shenzhen"}`}}}
		update := runNode(t, extractorNodeFunc("ext", cfg, fm), classifierState("weather in Shenzhen"))
		entry := nodeOutput(t, update, "ext")
		params, ok := entry["parameters"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Shenzhen", params["city"])
	})

	t.Run("bad output yields empty parameters", func(t *testing.T) {
		fm := &fakeChatModel{turns: []scripted{{content: "no json here"}}}
		update := runNode(t, extractorNodeFunc("ext", cfg, fm), classifierState("weather"))
		entry := nodeOutput(t, update, "ext")
		assert.Empty(t, entry["parameters"])
		assert.Contains(t, entry["error"], "parameter extraction failed")
	})
}
