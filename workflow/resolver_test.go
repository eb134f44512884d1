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

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

func stateWithOutputs(outputs map[string]any) graph.State {
	return graph.State{StateKeyNodeOutputs: outputs}
}

func TestResolve(t *testing.T) {
	state := stateWithOutputs(map[string]any{
		"start": map[string]any{"input": "hello"},
		"calc":  map[string]any{"res": float64(42), "detail": map[string]any{"unit": "ms"}},
	})

	assert.Equal(t, "got hello", Resolve("got ${start.input}", state))
	assert.Equal(t, "42 ms", Resolve("${calc.res} ${calc.detail.unit}", state))
	assert.Equal(t, "plain text", Resolve("plain text", state))
	assert.Equal(t, "missing: ", Resolve("missing: ${ghost.value}", state))
	assert.Equal(t, "", Resolve("${start.input.deeper}", state))
}

func TestResolveStringifiesStructures(t *testing.T) {
	state := stateWithOutputs(map[string]any{
		"search": map[string]any{"documents": []any{"a", "b"}},
	})
	assert.Equal(t, `["a","b"]`, Resolve("${search.documents}", state))
}

func TestLookup(t *testing.T) {
	state := stateWithOutputs(map[string]any{
		"clf": map[string]any{"category_id": "billing"},
	})
	value, ok := Lookup("clf.category_id", state)
	require.True(t, ok)
	assert.Equal(t, "billing", value)

	_, ok = Lookup("clf.nope", state)
	assert.False(t, ok)
	_, ok = Lookup("nope", state)
	assert.False(t, ok)
}

func TestResolveForCodeEscapes(t *testing.T) {
	state := stateWithOutputs(map[string]any{
		"start": map[string]any{"input": "line1\nsaid \"hi\" and 'bye'\\"},
	})
	resolved := ResolveForCode(`text = "${start.input}"`, state)
	assert.Equal(t, `text = "line1\nsaid \"hi\" and \'bye\'\\"`, resolved)
}

func TestResolveForCodeNormalizesWidth(t *testing.T) {
	state := stateWithOutputs(map[string]any{
		"start": map[string]any{"input": "ＡＢＣ　１２３"},
	})
	assert.Equal(t, "ABC 123", ResolveForCode("${start.input}", state))
}
