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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	doc := `{
		"id": "wf-1",
		"name": "support flow",
		"nodes": [
			{"id": "start", "type": "start", "data": {"title": "Start"}},
			{"id": "answer", "type": "answer", "data": {"answer": "hi"}},
			{"id": "end", "type": "end"}
		],
		"edges": [
			{"source": "start", "target": "answer"},
			{"source": "answer", "target": "end"}
		]
	}`
	def, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "wf-1", def.ID)
	assert.Len(t, def.Nodes, 3)
	assert.Len(t, def.Edges, 2)

	node, ok := def.Node("start")
	require.True(t, ok)
	assert.Equal(t, "Start", node.Title())

	start, ok := def.StartNode()
	require.True(t, ok)
	assert.Equal(t, "start", start.ID)

	assert.Len(t, def.EdgesFrom("start"), 1)
	assert.Empty(t, def.EdgesFrom("end"))
}

func TestParseYAML(t *testing.T) {
	doc := `
id: wf-2
name: yaml flow
nodes:
  - id: start
    type: start
  - id: answer
    type: answer
    data:
      answer: done
  - id: end
    type: end
edges:
  - source: start
    target: answer
  - source: answer
    target: end
metadata:
  human_in_the_loop:
    interrupt_before:
      - answer
`
	def, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "wf-2", def.ID)
	require.NotNil(t, def.Metadata)
	require.NotNil(t, def.Metadata.HumanInTheLoop)
	assert.Equal(t, []string{"answer"}, def.Metadata.HumanInTheLoop.InterruptBefore)
}

func TestValidateErrors(t *testing.T) {
	base := func() *Definition {
		return &Definition{
			ID:   "wf",
			Name: "wf",
			Nodes: []NodeSpec{
				{ID: "start", Type: TypeStart},
				{ID: "end", Type: TypeEnd},
			},
			Edges: []EdgeSpec{{Source: "start", Target: "end"}},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})
	t.Run("missing id", func(t *testing.T) {
		def := base()
		def.ID = ""
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
	t.Run("duplicate node", func(t *testing.T) {
		def := base()
		def.Nodes = append(def.Nodes, NodeSpec{ID: "start", Type: TypeStart})
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
	t.Run("no start node", func(t *testing.T) {
		def := base()
		def.Nodes[0].Type = TypeAnswer
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
	t.Run("two start nodes", func(t *testing.T) {
		def := base()
		def.Nodes = append(def.Nodes, NodeSpec{ID: "start2", Type: TypeStart})
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
	t.Run("dangling edge", func(t *testing.T) {
		def := base()
		def.Edges = append(def.Edges, EdgeSpec{Source: "start", Target: "ghost"})
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
	t.Run("untyped node", func(t *testing.T) {
		def := base()
		def.Nodes = append(def.Nodes, NodeSpec{ID: "x"})
		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
}

func TestNodeSpecDecodeData(t *testing.T) {
	node := NodeSpec{
		ID:   "llm1",
		Type: TypeLLM,
		Data: map[string]any{
			"model":         "gpt-4o-mini",
			"system_prompt": "be brief",
			"user_prompt":   "${start.input}",
		},
	}
	var cfg LLMConfig
	require.NoError(t, node.DecodeData(&cfg))
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "be brief", cfg.SystemPrompt)
	assert.Equal(t, "${start.input}", cfg.UserPrompt)
}

func TestNodeSpecTitleFallback(t *testing.T) {
	assert.Equal(t, "n1", NodeSpec{ID: "n1"}.Title())
	assert.Equal(t, "named", NodeSpec{ID: "n1", Data: map[string]any{"name": "named"}}.Title())
}
