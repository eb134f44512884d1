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

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// Workflow is a compiled, executable workflow document.
type Workflow struct {
	def      *Definition
	graph    *graph.Graph
	executor *graph.Executor
	labels   map[string]string
}

// Definition returns the document this workflow was compiled from.
func (w *Workflow) Definition() *Definition { return w.def }

// Graph exposes the compiled graph, mainly for inspection and tests.
func (w *Workflow) Graph() *graph.Graph { return w.graph }

// NodeLabel returns the human-readable label of a node, falling back
// to the ID itself for unknown nodes.
func (w *Workflow) NodeLabel(nodeID string) string {
	if label, ok := w.labels[nodeID]; ok {
		return label
	}
	return nodeID
}

// Execute starts a fresh run with the given user input and streams its
// events. Durable continuation of an interrupted run goes through
// Resume, never Execute.
func (w *Workflow) Execute(ctx context.Context, input string, inv *graph.Invocation) (<-chan *event.Event, error) {
	initial := graph.State{
		graph.StateKeyUserInput: input,
	}
	return w.executor.Execute(ctx, initial, inv)
}

// Resume continues an interrupted run with a human decision. The
// decision feeds the pending interrupt of the node recorded in the
// latest checkpoint.
func (w *Workflow) Resume(ctx context.Context, inv *graph.Invocation, decision Decision) (<-chan *event.Event, error) {
	return w.executor.Resume(ctx, inv, graph.NewResumeCommand().WithResume(decision))
}

// startNodeFunc captures the run input: it seeds the conversation with
// the user message and publishes the input under the start node's
// output entry so templates can reference it.
func startNodeFunc(nodeID string) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		input, _ := state[graph.StateKeyUserInput].(string)
		update := graph.State{}
		if input != "" {
			user := model.NewUserMessage(input)
			user.ID = uuid.New().String()
			update[graph.StateKeyMessages] = []model.Message{user}
			update[StateKeyHistory] = []model.Message{user}
			update[StateKeyAllMessages] = []model.Message{user}
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"input": input, "query": input}) {
			update[k] = v
		}
		return update, nil
	}
}
