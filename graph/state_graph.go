//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

// StateGraph builds a Graph incrementally. All methods return the
// builder for chaining; Compile validates and freezes the result.
type StateGraph struct {
	graph *Graph
	err   error
}

// NewStateGraph creates a builder over the given state schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &StateGraph{
		graph: &Graph{
			nodes:            make(map[string]*Node),
			edges:            make(map[string][]*Edge),
			conditionalEdges: make(map[string]*ConditionalEdge),
			schema:           schema,
			interruptBefore:  make(map[string]bool),
			interruptAfter:   make(map[string]bool),
		},
	}
}

// Option configures a node at registration time.
type Option func(*Node)

// WithName sets a display name for the node.
func WithName(name string) Option {
	return func(n *Node) { n.Name = name }
}

// WithDescription sets a description for the node.
func WithDescription(description string) Option {
	return func(n *Node) { n.Description = description }
}

// AddNode registers a node function under the given ID.
func (sg *StateGraph) AddNode(id string, fn NodeFunc, opts ...Option) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if id == "" || id == Start || id == End {
		sg.err = fmt.Errorf("invalid node ID %q", id)
		return sg
	}
	if _, exists := sg.graph.nodes[id]; exists {
		sg.err = fmt.Errorf("node %q already exists", id)
		return sg
	}
	if fn == nil {
		sg.err = fmt.Errorf("node %q has no function", id)
		return sg
	}
	node := &Node{ID: id, Name: id, Function: fn}
	for _, opt := range opts {
		opt(node)
	}
	sg.graph.nodes[id] = node
	return sg
}

// AddLLMNode registers a node that calls the model with the shared
// conversation plus a system instruction, and appends the response.
func (sg *StateGraph) AddLLMNode(id string, m model.Model, instruction string,
	tools map[string]tool.Tool, opts ...Option) *StateGraph {
	return sg.AddNode(id, NewLLMNodeFunc(m, instruction, tools), opts...)
}

// AddToolsNode registers a node that executes the tool calls of the
// latest assistant message.
func (sg *StateGraph) AddToolsNode(id string, tools map[string]tool.Tool, opts ...Option) *StateGraph {
	return sg.AddNode(id, NewToolsNodeFunc(tools), opts...)
}

// AddEdge adds an unconditional edge between two nodes.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if from == End {
		sg.err = fmt.Errorf("cannot add edge from %s", End)
		return sg
	}
	if to == Start {
		sg.err = fmt.Errorf("cannot add edge to %s", Start)
		return sg
	}
	sg.graph.edges[from] = append(sg.graph.edges[from], &Edge{From: from, To: to})
	return sg
}

// AddConditionalEdges adds routing from a node through a condition. The
// condition result is mapped through pathMap; unmapped results are used
// as node IDs directly.
func (sg *StateGraph) AddConditionalEdges(from string, condition ConditionalFunc,
	pathMap map[string]string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	if condition == nil {
		sg.err = fmt.Errorf("conditional edge from %q has no condition", from)
		return sg
	}
	if _, exists := sg.graph.conditionalEdges[from]; exists {
		sg.err = fmt.Errorf("node %q already has a conditional edge", from)
		return sg
	}
	sg.graph.conditionalEdges[from] = &ConditionalEdge{
		From:      from,
		Condition: condition,
		PathMap:   pathMap,
	}
	return sg
}

// AddToolsConditionalEdges routes to the tools node when the latest
// assistant message carries tool calls, otherwise to fallback.
func (sg *StateGraph) AddToolsConditionalEdges(from, toolsNodeID, fallback string) *StateGraph {
	condition := func(ctx context.Context, state State) (string, error) {
		messages, _ := state[StateKeyMessages].([]model.Message)
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == model.RoleAssistant {
				if len(messages[i].ToolCalls) > 0 {
					return toolsNodeID, nil
				}
				break
			}
		}
		return fallback, nil
	}
	return sg.AddConditionalEdges(from, condition, map[string]string{
		toolsNodeID: toolsNodeID,
		fallback:    fallback,
	})
}

// SetEntryPoint marks the node executed first, adding the Start edge.
func (sg *StateGraph) SetEntryPoint(id string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	sg.graph.entryPoint = id
	return sg.AddEdge(Start, id)
}

// SetFinishPoint connects the node to End.
func (sg *StateGraph) SetFinishPoint(id string) *StateGraph {
	return sg.AddEdge(id, End)
}

// SetInterruptBefore pauses execution before the named nodes until a
// resume value is supplied.
func (sg *StateGraph) SetInterruptBefore(nodeIDs ...string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	for _, id := range nodeIDs {
		sg.graph.interruptBefore[id] = true
	}
	return sg
}

// SetInterruptAfter pauses execution after the named nodes complete.
func (sg *StateGraph) SetInterruptAfter(nodeIDs ...string) *StateGraph {
	if sg.err != nil {
		return sg
	}
	for _, id := range nodeIDs {
		sg.graph.interruptAfter[id] = true
	}
	return sg
}

// Compile validates the builder and returns the immutable graph.
func (sg *StateGraph) Compile() (*Graph, error) {
	if sg.err != nil {
		return nil, sg.err
	}
	if err := sg.graph.validate(); err != nil {
		return nil, err
	}
	return sg.graph, nil
}

// MustCompile is Compile that panics on error, for static graphs.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

// MessagesStateSchema returns the schema used by conversational graphs:
// a reduced message history plus scalar bookkeeping fields.
func MessagesStateSchema() *StateSchema {
	return NewStateSchema().
		AddField(StateKeyMessages, StateField{
			Type:    reflect.TypeOf([]model.Message{}),
			Reducer: MessageReducer,
			Default: func() any { return []model.Message{} },
		}).
		AddField(StateKeyUserInput, StateField{
			Type:    reflect.TypeOf(""),
			Reducer: DefaultReducer,
		}).
		AddField(StateKeyLastResponse, StateField{
			Type:    reflect.TypeOf(""),
			Reducer: DefaultReducer,
		}).
		AddField(StateKeyNodeResponses, StateField{
			Type:    reflect.TypeOf(map[string]any{}),
			Reducer: MergeReducer,
			Default: func() any { return map[string]any{} },
		}).
		AddField(StateKeyMetadata, StateField{
			Type:    reflect.TypeOf(map[string]any{}),
			Reducer: MergeReducer,
		})
}

// NewLLMNodeFunc builds a node function that sends the conversation to
// the model and merges the streamed response back into state. Streaming
// chunks are forwarded to the run's event channel as they arrive.
func NewLLMNodeFunc(m model.Model, instruction string, tools map[string]tool.Tool) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		messages, _ := state[StateKeyMessages].([]model.Message)
		request := &model.Request{
			Messages: buildLLMMessages(instruction, messages, state),
			Tools:    tools,
		}
		request.GenerationConfig.Stream = true

		responses, err := m.GenerateContent(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		nodeID, _ := state[StateKeyCurrentNodeID].(string)
		execCtx, _ := ExecContextFromState(state)

		var content string
		var toolCalls []model.ToolCall
		for response := range responses {
			if response.Error != nil {
				return nil, fmt.Errorf("model error: %s", response.Error.Message)
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

		assistant := model.NewAssistantMessage(content)
		assistant.ID = uuid.New().String()
		assistant.Name = nodeID
		assistant.ToolCalls = toolCalls

		update := State{StateKeyMessages: []model.Message{assistant}}
		if len(toolCalls) == 0 {
			update[StateKeyLastResponse] = content
			update[StateKeyNodeResponses] = map[string]any{nodeID: content}
		}
		return update, nil
	}
}

// buildLLMMessages prepends the system instruction and falls back to
// the raw user input when the history is empty.
func buildLLMMessages(instruction string, messages []model.Message, state State) []model.Message {
	var result []model.Message
	if instruction != "" {
		result = append(result, model.NewSystemMessage(instruction))
	}
	if len(messages) == 0 {
		if input, ok := state[StateKeyUserInput].(string); ok && input != "" {
			return append(result, model.NewUserMessage(input))
		}
	}
	return append(result, messages...)
}

// NewToolsNodeFunc builds a node function that runs the tool calls of
// the latest assistant message and appends the tool responses.
func NewToolsNodeFunc(tools map[string]tool.Tool) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		messages, _ := state[StateKeyMessages].([]model.Message)
		toolCalls := pendingToolCalls(messages)
		if len(toolCalls) == 0 {
			return nil, nil
		}

		execCtx, _ := ExecContextFromState(state)
		nodeID, _ := state[StateKeyCurrentNodeID].(string)

		results := make([]model.Message, 0, len(toolCalls))
		for _, call := range toolCalls {
			toolMsg, err := executeToolCall(ctx, tools, call)
			if err != nil {
				return nil, err
			}
			if execCtx != nil {
				rsp := &model.Response{
					Object:  model.ObjectTypeToolResponse,
					Choices: []model.Choice{{Message: toolMsg}},
				}
				execCtx.EmitEvent(ctx, event.NewResponseEvent(execCtx.InvocationID, nodeID, rsp))
			}
			results = append(results, toolMsg)
		}
		return State{StateKeyMessages: results}, nil
	}
}

// pendingToolCalls returns the tool calls of the latest assistant
// message that have no tool response yet.
func pendingToolCalls(messages []model.Message) []model.ToolCall {
	answered := make(map[string]bool)
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == model.RoleTool {
			answered[m.ToolID] = true
			continue
		}
		if m.Role == model.RoleAssistant {
			var pending []model.ToolCall
			for _, call := range m.ToolCalls {
				if !answered[call.ID] {
					pending = append(pending, call)
				}
			}
			return pending
		}
	}
	return nil
}

// executeToolCall runs one tool call and wraps the result as a tool
// message. Unknown or non-callable tools produce an error message
// rather than failing the node, so the model can recover.
func executeToolCall(ctx context.Context, tools map[string]tool.Tool, call model.ToolCall) (model.Message, error) {
	name := call.Function.Name
	buildMsg := func(content string) model.Message {
		msg := model.NewToolMessage(call.ID, name, content)
		msg.ID = uuid.New().String()
		return msg
	}
	t, ok := tools[name]
	if !ok {
		return buildMsg(fmt.Sprintf("Error: tool %q not found", name)), nil
	}
	callable, ok := t.(tool.CallableTool)
	if !ok {
		return buildMsg(fmt.Sprintf("Error: tool %q is not callable", name)), nil
	}
	result, err := callable.Call(ctx, call.Function.Arguments)
	if err != nil {
		return buildMsg(fmt.Sprintf("Error executing tool %q: %v", name, err)), nil
	}
	content, err := marshalToolResult(result)
	if err != nil {
		return model.Message{}, fmt.Errorf("marshal result of tool %q: %w", name, err)
	}
	return buildMsg(content), nil
}

func marshalToolResult(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
