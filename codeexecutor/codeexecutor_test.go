//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package codeexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeBlock(t *testing.T) {
	delimiter := CodeBlockDelimiter{Start: "```", End: "```"}

	blocks := ExtractCodeBlock("```python\nprint('hi')\n```", delimiter)
	require.Len(t, blocks, 1)
	assert.Equal(t, "python", blocks[0].Language)
	assert.Equal(t, "print('hi')\n", blocks[0].Code)

	blocks = ExtractCodeBlock("before\n```bash\necho a\n```\nmiddle\n```python\nx = 1\n```", delimiter)
	require.Len(t, blocks, 2)
	assert.Equal(t, "bash", blocks[0].Language)
	assert.Equal(t, "python", blocks[1].Language)

	blocks = ExtractCodeBlock("no code here", delimiter)
	assert.Empty(t, blocks)
}

func TestCodeExecutionResultString(t *testing.T) {
	assert.Contains(t, CodeExecutionResult{Output: "42"}.String(), "42")
	assert.Contains(t, CodeExecutionResult{}.String(), "No output")

	withFiles := CodeExecutionResult{OutputFiles: []File{{Name: "plot.png"}}}
	assert.Contains(t, withFiles.String(), "plot.png")
}
