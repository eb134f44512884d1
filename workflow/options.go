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

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

// ToolRef identifies a tool a workflow document binds to a node.
// Interrupt marks the tool for human review before every invocation.
type ToolRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

// ModelProvider resolves a model name from a workflow document to a
// usable model instance.
type ModelProvider func(name string) (model.Model, error)

// ToolProvider resolves tool references to live tool instances.
// Implementations may hit remote registries, so fetches carry a
// context and run concurrently during compilation.
type ToolProvider interface {
	FetchTool(ctx context.Context, ref ToolRef) (tool.Tool, error)
}

// DefinitionLoader resolves a workflow ID to its document. Subgraph
// nodes use it to load nested workflows at run time.
type DefinitionLoader func(ctx context.Context, workflowID string) (*Definition, error)

// Options configures workflow compilation.
type Options struct {
	modelProvider ModelProvider
	toolProvider  ToolProvider
	codeExecutor  codeexecutor.CodeExecutor
	loader        DefinitionLoader
	saver         graph.CheckpointSaver
	maxSteps      int
}

// Option mutates compilation options.
type Option func(*Options)

// WithModelProvider sets the model provider used by model-backed nodes.
func WithModelProvider(p ModelProvider) Option {
	return func(o *Options) { o.modelProvider = p }
}

// WithToolProvider sets the tool provider used by tool-backed nodes.
func WithToolProvider(p ToolProvider) Option {
	return func(o *Options) { o.toolProvider = p }
}

// WithCodeExecutor sets the sandbox used by code nodes.
func WithCodeExecutor(e codeexecutor.CodeExecutor) Option {
	return func(o *Options) { o.codeExecutor = e }
}

// WithDefinitionLoader sets the loader used by subgraph nodes.
func WithDefinitionLoader(l DefinitionLoader) Option {
	return func(o *Options) { o.loader = l }
}

// WithCheckpointSaver enables durable checkpoints for compiled
// workflows. Required for interrupt and resume.
func WithCheckpointSaver(s graph.CheckpointSaver) Option {
	return func(o *Options) { o.saver = s }
}

// WithMaxSteps caps the number of node transitions per run.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.maxSteps = n }
}
