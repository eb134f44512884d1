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

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

const defaultMaxIterations = 5

// AgentConfig configures an agent node: a self-contained model and
// tool loop that runs to completion inside one workflow step.
type AgentConfig struct {
	Model         string    `json:"model"`
	Instruction   string    `json:"instruction,omitempty"`
	Tools         []ToolRef `json:"tools,omitempty"`
	MaxIterations int       `json:"max_iterations,omitempty"`
}

// agentNodeFunc builds the node function for an agent node. The loop
// alternates model turns and tool execution until the model answers
// without tool calls or the iteration cap is hit.
func agentNodeFunc(nodeID string, cfg AgentConfig, m model.Model, tools map[string]tool.Tool) graph.NodeFunc {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return func(ctx context.Context, state graph.State) (any, error) {
		conversation, _ := state[graph.StateKeyMessages].([]model.Message)
		conversation = append([]model.Message(nil), conversation...)
		if len(conversation) == 0 {
			if input, ok := state[graph.StateKeyUserInput].(string); ok && input != "" {
				user := model.NewUserMessage(input)
				user.ID = uuid.New().String()
				conversation = append(conversation, user)
			}
		}

		var produced []model.Message
		var content string
		for i := 0; i < maxIterations; i++ {
			var request model.Request
			if cfg.Instruction != "" {
				request.Messages = append(request.Messages, model.NewSystemMessage(Resolve(cfg.Instruction, state)))
			}
			request.Messages = append(request.Messages, conversation...)
			request.Tools = tools

			var toolCalls []model.ToolCall
			var err error
			content, toolCalls, err = callModel(ctx, state, nodeID, m, &request)
			if err != nil {
				return nil, err
			}

			assistant := model.NewAssistantMessage(content)
			assistant.ID = uuid.New().String()
			assistant.Name = nodeID
			assistant.ToolCalls = toolCalls
			conversation = append(conversation, assistant)
			produced = append(produced, assistant)

			if len(toolCalls) == 0 {
				break
			}
			for _, call := range toolCalls {
				msg := executeToolCall(ctx, tools, call)
				conversation = append(conversation, msg)
				produced = append(produced, msg)
			}
		}

		update := graph.State{
			graph.StateKeyMessages:     produced,
			StateKeyHistory:            produced,
			StateKeyAllMessages:        produced,
			graph.StateKeyLastResponse: content,
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"text": content}) {
			update[k] = v
		}
		return update, nil
	}
}

// CrewRole is one persona in a crew node's delegation chain.
type CrewRole struct {
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
}

// CrewConfig configures a crew node: roles handle the task in order,
// each seeing the previous role's output.
type CrewConfig struct {
	Model string     `json:"model"`
	Task  string     `json:"task"`
	Roles []CrewRole `json:"roles"`
}

// crewNodeFunc runs the roles sequentially over a shared task context.
// The last role's answer becomes the node result.
func crewNodeFunc(nodeID string, cfg CrewConfig, m model.Model) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		task := Resolve(cfg.Task, state)
		if task == "" {
			task, _ = state[graph.StateKeyUserInput].(string)
		}

		var produced []model.Message
		workContext := task
		var content string
		for _, role := range cfg.Roles {
			request := &model.Request{Messages: []model.Message{
				model.NewSystemMessage(role.Instruction),
				model.NewUserMessage(workContext),
			}}
			var err error
			content, _, err = callModel(ctx, state, nodeID, m, request)
			if err != nil {
				return nil, fmt.Errorf("role %q: %w", role.Name, err)
			}
			assistant := model.NewAssistantMessage(content)
			assistant.ID = uuid.New().String()
			assistant.Name = role.Name
			produced = append(produced, assistant)
			workContext = fmt.Sprintf("Task: %s\n\nWork so far from %s:\n%s", task, role.Name, content)
		}

		update := graph.State{
			graph.StateKeyMessages:     produced,
			StateKeyHistory:            produced,
			StateKeyAllMessages:        produced,
			graph.StateKeyLastResponse: content,
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"text": content}) {
			update[k] = v
		}
		return update, nil
	}
}

// SubgraphConfig configures a subgraph node.
type SubgraphConfig struct {
	WorkflowID string `json:"workflow_id"`
	Input      string `json:"input,omitempty"`
}

// subgraphNodeFunc runs a nested workflow on a fresh thread with no
// checkpointer and folds its final answer back as a tool result.
// Nested failures are recorded under the node's output entry and then
// re-raised.
func subgraphNodeFunc(nodeID string, cfg SubgraphConfig,
	build func(ctx context.Context, workflowID string) (*Workflow, error)) graph.NodeFunc {

	return func(ctx context.Context, state graph.State) (any, error) {
		wf, err := build(ctx, cfg.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load subworkflow %q: %w", cfg.WorkflowID, err)
		}

		input := Resolve(cfg.Input, state)
		if input == "" {
			input, _ = state[graph.StateKeyUserInput].(string)
		}
		events, err := wf.Execute(ctx, input, &graph.Invocation{})
		if err != nil {
			return nil, fmt.Errorf("run subworkflow %q: %w", cfg.WorkflowID, err)
		}

		var last string
		var runErr error
		for evt := range events {
			if evt.Response == nil {
				continue
			}
			if evt.Response.Error != nil {
				runErr = fmt.Errorf("subworkflow %q: %s", cfg.WorkflowID, evt.Response.Error.Message)
				continue
			}
			if evt.Response.Done && len(evt.Response.Choices) > 0 {
				if content := evt.Response.Choices[0].Message.Content; content != "" {
					last = content
				}
			}
		}
		if runErr != nil {
			recordNodeError(state, nodeID, runErr)
			return nil, runErr
		}

		msg := model.NewToolMessage(uuid.New().String(), cfg.WorkflowID, last)
		msg.ID = uuid.New().String()
		update := graph.State{
			graph.StateKeyMessages: []model.Message{msg},
			StateKeyHistory:        []model.Message{msg},
			StateKeyAllMessages:    []model.Message{msg},
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"output": last}) {
			update[k] = v
		}
		return update, nil
	}
}
