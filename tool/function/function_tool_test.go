//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

func TestFunctionToolCall(t *testing.T) {
	ft := NewFunctionTool(func(_ context.Context, in addInput) (addOutput, error) {
		return addOutput{Sum: in.A + in.B}, nil
	}, WithName("add"), WithDescription("adds two numbers"))

	decl := ft.Declaration()
	require.Equal(t, "add", decl.Name)
	require.Equal(t, "adds two numbers", decl.Description)
	require.NotNil(t, decl.InputSchema)
	assert.Contains(t, decl.InputSchema.Properties, "a")
	assert.Contains(t, decl.InputSchema.Properties, "b")

	result, err := ft.Call(context.Background(), []byte(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, addOutput{Sum: 5}, result)
}

func TestFunctionToolCallEmptyArgs(t *testing.T) {
	ft := NewFunctionTool(func(_ context.Context, in addInput) (addOutput, error) {
		return addOutput{Sum: in.A + in.B}, nil
	}, WithName("add"))

	result, err := ft.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, addOutput{Sum: 0}, result)
}

func TestFunctionToolCallInvalidArgs(t *testing.T) {
	ft := NewFunctionTool(func(_ context.Context, in addInput) (addOutput, error) {
		return addOutput{}, nil
	}, WithName("add"))

	_, err := ft.Call(context.Background(), []byte(`{not json`))
	assert.Error(t, err)
}

func TestFunctionToolCallError(t *testing.T) {
	wantErr := errors.New("boom")
	ft := NewFunctionTool(func(_ context.Context, _ addInput) (addOutput, error) {
		return addOutput{}, wantErr
	}, WithName("failing"))

	_, err := ft.Call(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, wantErr)
}
