//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package team

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	// RouteToolName is the delegation tool every leader is forced to call.
	RouteToolName = "route"
	// FinishRoute is the reserved next value that ends delegation.
	FinishRoute = "FINISH"
	// AskHumanToolName is the sentinel tool that pauses a worker for
	// human input.
	AskHumanToolName = "ask_human"
	// SummariserNodeID is the node that wraps up a hierarchical run.
	SummariserNodeID = "summariser"
)

// routeDecision is the payload a leader emits through the route tool.
type routeDecision struct {
	Next string `json:"next"`
	Task string `json:"task"`
}

// routeTool builds the forced delegation tool for a leader: next is
// constrained to the leader's members plus FINISH.
func routeTool(children []Member) tool.Tool {
	names := make([]string, 0, len(children)+1)
	for _, child := range children {
		names = append(names, memberName(child))
	}
	names = append(names, FinishRoute)
	return &declarationTool{declaration: &tool.Declaration{
		Name:        RouteToolName,
		Description: "Delegate the next step to a team member, or FINISH when the task is complete.",
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"next", "task"},
			Properties: map[string]*tool.Schema{
				"next": {Type: "string", Enum: names},
				"task": {Type: "string", Description: "The task for the chosen member."},
			},
		},
	}}
}

// declarationTool is a declaration-only tool: the engine intercepts its
// calls instead of executing them.
type declarationTool struct {
	declaration *tool.Declaration
}

func (d *declarationTool) Declaration() *tool.Declaration { return d.declaration }

// askHumanTool returns the sentinel tool workers use to request human
// input mid-task.
func askHumanTool() tool.Tool {
	return &declarationTool{declaration: &tool.Declaration{
		Name:        AskHumanToolName,
		Description: "Ask the human operator a question and wait for the answer.",
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"question"},
			Properties: map[string]*tool.Schema{
				"question": {Type: "string"},
			},
		},
	}}
}

// callMember runs one streaming model turn, forwarding chunks to the
// run's event stream.
func callMember(ctx context.Context, state graph.State, nodeID string,
	m model.Model, request *model.Request) (model.Message, error) {

	request.GenerationConfig.Stream = true
	responses, err := m.GenerateContent(ctx, request)
	if err != nil {
		return model.Message{}, fmt.Errorf("generate content: %w", err)
	}

	execCtx, _ := graph.ExecContextFromState(state)
	var content string
	var toolCalls []model.ToolCall
	for response := range responses {
		if response.Error != nil {
			return model.Message{}, fmt.Errorf("model error: %s", response.Error.Message)
		}
		if execCtx != nil && response.IsPartial {
			execCtx.EmitEvent(ctx, event.NewResponseEvent(execCtx.InvocationID, nodeID, response))
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if response.IsPartial {
			content += choice.Delta.Content
			continue
		}
		if choice.Message.Content != "" {
			content = choice.Message.Content
		}
		if len(choice.Message.ToolCalls) > 0 {
			toolCalls = choice.Message.ToolCalls
		}
	}

	msg := model.NewAssistantMessage(content)
	msg.ID = uuid.New().String()
	msg.Name = nodeID
	msg.ToolCalls = toolCalls
	return msg, nil
}

// leaderNodeFunc builds a leader turn: the model is forced through the
// route tool and the decision lands in the next/task state fields. The
// route call is answered inline so the transcript stays well-formed.
func leaderNodeFunc(m Member, mdl model.Model, children []Member) graph.NodeFunc {
	rt := routeTool(children)
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		mainTask, _ := state[StateKeyMainTask].(string)

		var sb strings.Builder
		if m.Instruction != "" {
			sb.WriteString(m.Instruction)
			sb.WriteString("\n")
		}
		sb.WriteString("You lead a team. Main task: ")
		sb.WriteString(mainTask)
		sb.WriteString("\nDelegate the next step with the route tool, or route to FINISH when done.")

		request := &model.Request{
			Messages:   append([]model.Message{model.NewSystemMessage(sb.String())}, messages...),
			Tools:      map[string]tool.Tool{RouteToolName: rt},
			ToolChoice: RouteToolName,
		}
		assistant, err := callMember(ctx, state, m.ID, mdl, request)
		if err != nil {
			return nil, err
		}

		decision, err := parseRouteCall(assistant.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("leader %q: %w", m.ID, err)
		}

		produced := []model.Message{assistant}
		for _, call := range assistant.ToolCalls {
			if call.Function.Name != RouteToolName {
				continue
			}
			ack := model.NewToolMessage(call.ID, RouteToolName,
				fmt.Sprintf("routed to %s", decision.Next))
			ack.ID = uuid.New().String()
			produced = append(produced, ack)
		}

		return graph.State{
			graph.StateKeyMessages:       produced,
			workflow.StateKeyHistory:     produced,
			workflow.StateKeyAllMessages: produced,
			StateKeyNext:                 decision.Next,
			StateKeyTask:                 decision.Task,
		}, nil
	}
}

func parseRouteCall(calls []model.ToolCall) (routeDecision, error) {
	for _, call := range calls {
		if call.Function.Name != RouteToolName {
			continue
		}
		var decision routeDecision
		if err := json.Unmarshal(call.Function.Arguments, &decision); err != nil {
			return routeDecision{}, fmt.Errorf("parse route arguments: %w", err)
		}
		if decision.Next == "" {
			return routeDecision{}, fmt.Errorf("route call carries no next member")
		}
		return decision, nil
	}
	return routeDecision{}, fmt.Errorf("no route tool call in leader turn")
}

// leaderRouteCondition routes on the leader's delegation. A member name
// outside the routing table is fatal.
func leaderRouteCondition(leaderID string, pathMap map[string]string) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (string, error) {
		next, _ := state[StateKeyNext].(string)
		if _, ok := pathMap[next]; ok {
			return next, nil
		}
		return "", fmt.Errorf("%w: leader %q routed to %q", ErrUnknownMember, leaderID, next)
	}
}

// workerNodeFunc builds a worker turn: the member works its delegated
// task with its tools over the shared conversation.
func workerNodeFunc(m Member, mdl model.Model, tools map[string]tool.Tool) graph.NodeFunc {
	withSentinel := make(map[string]tool.Tool, len(tools)+1)
	for name, t := range tools {
		withSentinel[name] = t
	}
	withSentinel[AskHumanToolName] = askHumanTool()

	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		task, _ := state[StateKeyTask].(string)
		if task == "" {
			task, _ = state[StateKeyMainTask].(string)
		}

		var sb strings.Builder
		if m.Instruction != "" {
			sb.WriteString(m.Instruction)
			sb.WriteString("\n")
		}
		if task != "" {
			sb.WriteString("Your current task: ")
			sb.WriteString(task)
		}

		request := &model.Request{
			Messages: append([]model.Message{model.NewSystemMessage(sb.String())}, messages...),
			Tools:    withSentinel,
		}
		assistant, err := callMember(ctx, state, m.ID, mdl, request)
		if err != nil {
			return nil, err
		}

		update := graph.State{
			graph.StateKeyMessages:       []model.Message{assistant},
			workflow.StateKeyHistory:     []model.Message{assistant},
			workflow.StateKeyAllMessages: []model.Message{assistant},
		}
		if len(assistant.ToolCalls) == 0 {
			update[graph.StateKeyLastResponse] = assistant.Content
		}
		return update, nil
	}
}

// pendingToolsCondition sends a member turn with unanswered tool calls
// to its tool node and a plain answer onward.
func pendingToolsCondition(toolsID, done string) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (string, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		if _, pending := pendingCalls(messages); len(pending) > 0 {
			return toolsID, nil
		}
		return done, nil
	}
}

// pendingCalls returns the unanswered tool calls of the latest
// assistant turn.
func pendingCalls(messages []model.Message) (model.Message, []model.ToolCall) {
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

// memberToolsNodeFunc executes a member's pending tool calls. Calls to
// the ask-human sentinel suspend the run instead of executing; the
// human's reply becomes the tool result.
func memberToolsNodeFunc(nodeID string, tools map[string]tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		_, pending := pendingCalls(messages)
		if len(pending) == 0 {
			return nil, nil
		}

		execCtx, _ := graph.ExecContextFromState(state)
		results := make([]model.Message, 0, len(pending))
		for _, call := range pending {
			var msg model.Message
			if call.Function.Name == AskHumanToolName {
				reply, err := askHuman(ctx, state, call)
				if err != nil {
					return nil, err
				}
				msg = model.NewToolMessage(call.ID, AskHumanToolName, reply)
				msg.ID = uuid.New().String()
			} else {
				msg = runToolCall(ctx, tools, call)
			}
			results = append(results, msg)
			if execCtx != nil {
				response := &model.Response{
					Object:  model.ObjectTypeToolResponse,
					Done:    true,
					Choices: []model.Choice{{Message: msg}},
				}
				execCtx.EmitEvent(ctx, event.NewResponseEvent(execCtx.InvocationID, nodeID, response))
			}
		}
		return graph.State{
			graph.StateKeyMessages:       results,
			workflow.StateKeyHistory:     results,
			workflow.StateKeyAllMessages: results,
		}, nil
	}
}

// askHuman pauses the run on the sentinel call and returns the staged
// human reply once resumed.
func askHuman(ctx context.Context, state graph.State, call model.ToolCall) (string, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(call.Function.Arguments, &args); err != nil {
		return "", fmt.Errorf("parse ask_human arguments: %w", err)
	}
	value, err := graph.Interrupt(ctx, state, call.ID, map[string]any{
		"interaction_type": "context_input",
		"question":         args.Question,
	})
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]any:
		if content, ok := v["content"].(string); ok {
			return content, nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode human reply: %w", err)
	}
	return string(raw), nil
}

// runToolCall executes one tool call; failures become error-content
// results the model can react to.
func runToolCall(ctx context.Context, tools map[string]tool.Tool, call model.ToolCall) model.Message {
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
	switch v := out.(type) {
	case string:
		return result(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return result(fmt.Sprintf("%v", v))
		}
		return result(string(raw))
	}
}

// summariserNodeFunc wraps up a hierarchical run: one model turn over
// the whole conversation produces the final answer.
func summariserNodeFunc(mdl model.Model) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		mainTask, _ := state[StateKeyMainTask].(string)

		instruction := "Summarise the team's work into a final answer for the user."
		if mainTask != "" {
			instruction += " Original request: " + mainTask
		}
		request := &model.Request{
			Messages: append([]model.Message{model.NewSystemMessage(instruction)}, messages...),
		}
		assistant, err := callMember(ctx, state, SummariserNodeID, mdl, request)
		if err != nil {
			return nil, err
		}
		return graph.State{
			graph.StateKeyMessages:       []model.Message{assistant},
			workflow.StateKeyHistory:     []model.Message{assistant},
			workflow.StateKeyAllMessages: []model.Message{assistant},
			graph.StateKeyLastResponse:   assistant.Content,
		}, nil
	}
}
