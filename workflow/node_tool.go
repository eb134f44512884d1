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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

// ToolConfig configures a tool or toolretrieval node.
type ToolConfig struct {
	Tools []ToolRef `json:"tools"`
}

// PluginConfig configures a plugin node: one provider tool invoked with
// templated arguments instead of model-produced ones.
type PluginConfig struct {
	Plugin ToolRef           `json:"plugin"`
	Args   map[string]string `json:"args,omitempty"`
}

// RetrievalConfig configures a retrieval node.
type RetrievalConfig struct {
	Tool  ToolRef `json:"tool"`
	Query string  `json:"query"`
	TopK  int     `json:"top_k,omitempty"`
}

// pendingToolCalls returns the tool calls of the latest assistant
// message that have no matching tool result yet.
func pendingToolCalls(messages []model.Message) (model.Message, []model.ToolCall) {
	answered := make(map[string]bool)
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == model.RoleTool {
			answered[msg.ToolID] = true
			continue
		}
		if msg.Role != model.RoleAssistant {
			continue
		}
		var pending []model.ToolCall
		for _, call := range msg.ToolCalls {
			if !answered[call.ID] {
				pending = append(pending, call)
			}
		}
		return msg, pending
	}
	return model.Message{}, nil
}

// executeToolCall runs one tool call. Failures become error-content
// tool results so the model can recover; they never fail the node.
func executeToolCall(ctx context.Context, tools map[string]tool.Tool, call model.ToolCall) model.Message {
	name := call.Function.Name
	result := func(content string) model.Message {
		msg := model.NewToolMessage(call.ID, name, content)
		msg.ID = uuid.New().String()
		return msg
	}
	t, ok := tools[name]
	if !ok {
		return result(fmt.Sprintf("tool %q not found", name))
	}
	callable, ok := t.(tool.CallableTool)
	if !ok {
		return result(fmt.Sprintf("tool %q is not callable", name))
	}
	out, err := callable.Call(ctx, call.Function.Arguments)
	if err != nil {
		return result(fmt.Sprintf("tool %q failed: %v", name, err))
	}
	return result(stringify(out))
}

// toolsNodeFunc builds the node function for tool and toolretrieval
// nodes: every pending call from the latest assistant turn yields
// exactly one tool result, correlated by call ID.
func toolsNodeFunc(nodeID string, tools map[string]tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		_, pending := pendingToolCalls(messages)
		if len(pending) == 0 {
			return nil, nil
		}

		execCtx, _ := graph.ExecContextFromState(state)
		results := make([]model.Message, 0, len(pending))
		outputs := make([]any, 0, len(pending))
		for _, call := range pending {
			msg := executeToolCall(ctx, tools, call)
			results = append(results, msg)
			outputs = append(outputs, map[string]any{
				"tool":   call.Function.Name,
				"result": msg.Content,
			})
			if execCtx != nil {
				execCtx.EmitEvent(ctx, toolResponseEvent(execCtx.InvocationID, nodeID, msg))
			}
		}

		update := graph.State{
			graph.StateKeyMessages: results,
			StateKeyHistory:        results,
			StateKeyAllMessages:    results,
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"results": outputs}) {
			update[k] = v
		}
		return update, nil
	}
}

// reviewedToolsNodeFunc wraps a tools node whose bindings include
// review-flagged tools. Before any flagged call runs the node pauses
// with a tool review interrupt and applies the resume decision the same
// way a human review node does: approved executes, update rewrites the
// call arguments first, rejected answers the calls without running them.
func reviewedToolsNodeFunc(nodeID string, tools map[string]tool.Tool, flagged map[string]bool) graph.NodeFunc {
	run := toolsNodeFunc(nodeID, tools)
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		assistant, pending := pendingToolCalls(messages)
		review := firstFlaggedCall(pending, flagged)
		if review == nil {
			return run(ctx, state)
		}

		payload := map[string]any{
			"interaction_type": InteractionToolReview,
			"question":         fmt.Sprintf("Approve call to %q?", review.Function.Name),
			"tool_call": map[string]any{
				"id":        review.ID,
				"name":      review.Function.Name,
				"arguments": string(review.Function.Arguments),
			},
		}
		value, err := graph.Interrupt(ctx, state, nodeID, payload)
		if err != nil {
			return nil, err
		}
		decision, err := decodeDecision(value)
		if err != nil {
			return nil, err
		}

		switch decision.Decision {
		case DecisionApproved:
			return run(ctx, state)
		case DecisionUpdate:
			raw, err := json.Marshal(decision.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode updated arguments: %w", err)
			}
			patched := replaceCallArguments(assistant, review.ID, raw)
			scratch := make(graph.State, len(state))
			for k, v := range state {
				scratch[k] = v
			}
			scratch[graph.StateKeyMessages] = swapMessage(messages, patched)
			out, err := run(ctx, scratch)
			if err != nil {
				return nil, err
			}
			update, _ := out.(graph.State)
			if update == nil {
				update = graph.State{}
			}
			results, _ := update[graph.StateKeyMessages].([]model.Message)
			update[graph.StateKeyMessages] = append([]model.Message{patched}, results...)
			return update, nil
		case DecisionRejected:
			results := rejectedToolResults(pending, decision.ToolMessage)
			return graph.State{
				graph.StateKeyMessages: results,
				StateKeyHistory:        results,
				StateKeyAllMessages:    results,
			}, nil
		default:
			return nil, fmt.Errorf("%w: %q for tool review", ErrUnknownDecision, decision.Decision)
		}
	}
}

// firstFlaggedCall picks the pending call that triggers the review
// pause, in call order.
func firstFlaggedCall(pending []model.ToolCall, flagged map[string]bool) *model.ToolCall {
	for i := range pending {
		if flagged[pending[i].Function.Name] {
			return &pending[i]
		}
	}
	return nil
}

// swapMessage replaces the message matching the update's ID.
func swapMessage(messages []model.Message, updated model.Message) []model.Message {
	out := append([]model.Message(nil), messages...)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
		}
	}
	return out
}

// pluginNodeFunc invokes one provider tool with resolved templated
// arguments, no model turn involved.
func pluginNodeFunc(nodeID string, cfg PluginConfig, t tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		args := make(map[string]any, len(cfg.Args))
		for key, template := range cfg.Args {
			args[key] = Resolve(template, state)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode plugin args: %w", err)
		}

		callable, ok := t.(tool.CallableTool)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not callable", cfg.Plugin.Name)
		}
		out, err := callable.Call(ctx, raw)

		content := ""
		if err != nil {
			content = fmt.Sprintf("plugin %q failed: %v", cfg.Plugin.Name, err)
		} else {
			content = stringify(out)
		}
		msg := model.NewToolMessage(uuid.New().String(), cfg.Plugin.Name, content)
		msg.ID = uuid.New().String()

		if execCtx, _ := graph.ExecContextFromState(state); execCtx != nil {
			execCtx.EmitEvent(ctx, toolResponseEvent(execCtx.InvocationID, nodeID, msg))
		}

		update := graph.State{
			graph.StateKeyMessages: []model.Message{msg},
			StateKeyHistory:        []model.Message{msg},
			StateKeyAllMessages:    []model.Message{msg},
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"result": content}) {
			update[k] = v
		}
		return update, nil
	}
}

// retrievalNodeFunc queries one retrieval tool and publishes the
// returned documents under the node's output entry.
func retrievalNodeFunc(nodeID string, cfg RetrievalConfig, t tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		query := Resolve(cfg.Query, state)
		if query == "" {
			query, _ = state[graph.StateKeyUserInput].(string)
		}
		args := map[string]any{"query": query}
		if cfg.TopK > 0 {
			args["top_k"] = cfg.TopK
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode retrieval args: %w", err)
		}

		callable, ok := t.(tool.CallableTool)
		if !ok {
			return nil, fmt.Errorf("retrieval tool %q is not callable", cfg.Tool.Name)
		}
		out, err := callable.Call(ctx, raw)
		if err != nil {
			return outputUpdate(nodeID, map[string]any{
				"documents": []any{},
				"error":     fmt.Sprintf("retrieval failed: %v", err),
			}), nil
		}

		documents := extractDocuments(out)
		msg := model.NewToolMessage(uuid.New().String(), cfg.Tool.Name, stringify(out))
		msg.ID = uuid.New().String()

		update := graph.State{
			graph.StateKeyMessages: []model.Message{msg},
			StateKeyHistory:        []model.Message{msg},
			StateKeyAllMessages:    []model.Message{msg},
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"documents": documents}) {
			update[k] = v
		}
		return update, nil
	}
}

// extractDocuments normalizes a retrieval tool result into a document
// list: either the result is the list itself or it carries one under a
// "documents" key.
func extractDocuments(out any) []any {
	switch v := out.(type) {
	case []any:
		return v
	case map[string]any:
		if docs, ok := v["documents"].([]any); ok {
			return docs
		}
	}
	return []any{out}
}

func toolResponseEvent(invocationID, nodeID string, msg model.Message) *event.Event {
	response := &model.Response{
		Object:  model.ObjectTypeToolResponse,
		Done:    true,
		Choices: []model.Choice{{Message: msg}},
	}
	return event.NewResponseEvent(invocationID, nodeID, response)
}
