//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor"
)

func TestNewDefaults(t *testing.T) {
	e := New()
	assert.Equal(t, 30*time.Second, e.Timeout)
	assert.True(t, e.CleanTempFiles)

	e = New(WithWorkDir("/tmp/work"), WithTimeout(time.Second), WithCleanTempFiles(false))
	assert.Equal(t, "/tmp/work", e.WorkDir)
	assert.Equal(t, time.Second, e.Timeout)
	assert.False(t, e.CleanTempFiles)
}

func TestExecuteBash(t *testing.T) {
	e := New(WithTimeout(10 * time.Second))
	result, err := e.ExecuteCode(context.Background(), codeexecutor.CodeExecutionInput{
		ExecutionID: "test-bash",
		CodeBlocks: []codeexecutor.CodeBlock{
			{Language: "bash", Code: "echo hello"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello")
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	e := New()
	result, err := e.ExecuteCode(context.Background(), codeexecutor.CodeExecutionInput{
		ExecutionID: "test-unsupported",
		CodeBlocks: []codeexecutor.CodeBlock{
			{Language: "cobol", Code: "DISPLAY 'HI'."},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "unsupported language")
}

func TestCodeBlockDelimiter(t *testing.T) {
	e := New()
	d := e.CodeBlockDelimiter()
	assert.Equal(t, "```", d.Start)
	assert.Equal(t, "```", d.End)
}
