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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

// fakeExecutor returns canned output and records what it ran.
type fakeExecutor struct {
	output string
	err    error
	ran    []codeexecutor.CodeBlock
}

func (f *fakeExecutor) ExecuteCode(ctx context.Context, input codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	f.ran = append(f.ran, input.CodeBlocks...)
	if f.err != nil {
		return codeexecutor.CodeExecutionResult{}, f.err
	}
	return codeexecutor.CodeExecutionResult{Output: f.output}, nil
}

func (f *fakeExecutor) CodeBlockDelimiter() codeexecutor.CodeBlockDelimiter {
	return codeexecutor.CodeBlockDelimiter{Start: "```", End: "```"}
}

func TestCodeNode(t *testing.T) {
	t.Run("parses res object", func(t *testing.T) {
		exec := &fakeExecutor{output: `{"res": 7, "detail": "ok"}`}
		fn := codeNodeFunc("calc", CodeConfig{Code: `print(compute())`}, exec)
		update := runNode(t, fn, Schema().Init())
		entry := nodeOutput(t, update, "calc")
		assert.Equal(t, float64(7), entry["res"])
		assert.Equal(t, "ok", entry["detail"])
		assert.Equal(t, "7", update[graph.StateKeyLastResponse])
	})

	t.Run("substitutes variables with escaping", func(t *testing.T) {
		exec := &fakeExecutor{output: `{"res": "done"}`}
		fn := codeNodeFunc("calc", CodeConfig{Code: `text = "${start.input}"`}, exec)
		state := Schema().Init()
		state[StateKeyNodeOutputs] = map[string]any{
			"start": map[string]any{"input": `say "hi"`},
		}
		runNode(t, fn, state)
		require.Len(t, exec.ran, 1)
		assert.Equal(t, `text = "say \"hi\""`, exec.ran[0].Code)
		assert.Equal(t, "python3", exec.ran[0].Language)
	})

	t.Run("tolerates print lines before result", func(t *testing.T) {
		exec := &fakeExecutor{output: "debug line\n{\"res\": 1}"}
		fn := codeNodeFunc("calc", CodeConfig{Code: "x"}, exec)
		entry := nodeOutput(t, runNode(t, fn, Schema().Init()), "calc")
		assert.Equal(t, float64(1), entry["res"])
	})

	t.Run("execution failure becomes message", func(t *testing.T) {
		exec := &fakeExecutor{err: fmt.Errorf("sandbox unavailable")}
		fn := codeNodeFunc("calc", CodeConfig{Code: "x"}, exec)
		update := runNode(t, fn, Schema().Init())
		entry := nodeOutput(t, update, "calc")
		assert.Contains(t, entry["error"], "sandbox unavailable")
	})

	t.Run("output without res key becomes message", func(t *testing.T) {
		exec := &fakeExecutor{output: `{"value": 3}`}
		fn := codeNodeFunc("calc", CodeConfig{Code: "x"}, exec)
		entry := nodeOutput(t, runNode(t, fn, Schema().Init()), "calc")
		assert.Contains(t, entry["error"], "code output invalid")
	})
}
