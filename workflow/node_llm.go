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
	"strings"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

// LLMConfig configures an llm node.
type LLMConfig struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// callModel sends one request to the model, forwards streaming chunks
// to the run's event stream and returns the accumulated result.
func callModel(ctx context.Context, state graph.State, nodeID string,
	m model.Model, request *model.Request) (string, []model.ToolCall, error) {

	request.GenerationConfig.Stream = true
	responses, err := m.GenerateContent(ctx, request)
	if err != nil {
		return "", nil, fmt.Errorf("generate content: %w", err)
	}

	execCtx, _ := graph.ExecContextFromState(state)
	var content string
	var toolCalls []model.ToolCall
	for response := range responses {
		if response.Error != nil {
			return "", nil, fmt.Errorf("model error: %s", response.Error.Message)
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
	return content, toolCalls, nil
}

// llmNodeFunc builds the node function for an llm node. Prompts are
// resolved against node_outputs before the call; bound tools come from
// forward edge traversal at compile time.
func llmNodeFunc(nodeID string, cfg LLMConfig, m model.Model, tools map[string]tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)

		var request model.Request
		if cfg.SystemPrompt != "" {
			request.Messages = append(request.Messages, model.NewSystemMessage(Resolve(cfg.SystemPrompt, state)))
		}
		request.Messages = append(request.Messages, messages...)

		var newMessages []model.Message
		if cfg.UserPrompt != "" {
			user := model.NewUserMessage(Resolve(cfg.UserPrompt, state))
			user.ID = uuid.New().String()
			request.Messages = append(request.Messages, user)
			newMessages = append(newMessages, user)
		} else if len(messages) == 0 {
			if input, ok := state[graph.StateKeyUserInput].(string); ok && input != "" {
				user := model.NewUserMessage(input)
				user.ID = uuid.New().String()
				request.Messages = append(request.Messages, user)
				newMessages = append(newMessages, user)
			}
		}
		request.Tools = tools
		if cfg.Temperature != nil {
			request.GenerationConfig.Temperature = cfg.Temperature
		}

		content, toolCalls, err := callModel(ctx, state, nodeID, m, &request)
		if err != nil {
			return nil, err
		}

		assistant := model.NewAssistantMessage(content)
		assistant.ID = uuid.New().String()
		assistant.Name = nodeID
		assistant.ToolCalls = toolCalls
		newMessages = append(newMessages, assistant)

		update := graph.State{
			graph.StateKeyMessages: newMessages,
			StateKeyHistory:        newMessages,
			StateKeyAllMessages:    newMessages,
		}
		if len(toolCalls) == 0 {
			update[graph.StateKeyLastResponse] = content
			for k, v := range outputUpdate(nodeID, map[string]any{"text": content}) {
				update[k] = v
			}
		}
		return update, nil
	}
}

// AnswerConfig configures an answer node.
type AnswerConfig struct {
	Answer string `json:"answer"`
}

// answerNodeFunc synthesizes the final answer from a template.
func answerNodeFunc(nodeID string, cfg AnswerConfig) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		content := Resolve(cfg.Answer, state)
		assistant := model.NewAssistantMessage(content)
		assistant.ID = uuid.New().String()
		assistant.Name = nodeID

		update := graph.State{
			graph.StateKeyMessages:     []model.Message{assistant},
			StateKeyHistory:            []model.Message{assistant},
			StateKeyAllMessages:        []model.Message{assistant},
			graph.StateKeyLastResponse: content,
		}
		for k, v := range outputUpdate(nodeID, map[string]any{"answer": content}) {
			update[k] = v
		}
		return update, nil
	}
}

// ParameterSpec declares one parameter an extractor node pulls out of
// the conversation.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ParameterExtractorConfig configures a parameterExtractor node.
type ParameterExtractorConfig struct {
	Model      string          `json:"model"`
	Query      string          `json:"query"`
	Parameters []ParameterSpec `json:"parameters"`
}

const extractorInstruction = "Extract the requested parameters from the user input. " +
	"Respond with a single JSON object whose keys are exactly the parameter names. " +
	"Use null for parameters that cannot be determined. Do not add commentary."

// extractorNodeFunc builds the node function for a parameterExtractor
// node. Parse failures are recovered as an empty parameter map, never
// raised.
func extractorNodeFunc(nodeID string, cfg ParameterExtractorConfig, m model.Model) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		var sb strings.Builder
		sb.WriteString(extractorInstruction)
		sb.WriteString("\nParameters:\n")
		for _, p := range cfg.Parameters {
			sb.WriteString(fmt.Sprintf("- %s (%s)", p.Name, p.Type))
			if p.Required {
				sb.WriteString(" [required]")
			}
			if p.Description != "" {
				sb.WriteString(": " + p.Description)
			}
			sb.WriteString("\n")
		}

		query := Resolve(cfg.Query, state)
		if query == "" {
			query, _ = state[graph.StateKeyUserInput].(string)
		}
		request := &model.Request{Messages: []model.Message{
			model.NewSystemMessage(sb.String()),
			model.NewUserMessage(query),
		}}
		content, _, err := callModel(ctx, state, nodeID, m, request)
		if err != nil {
			return nil, err
		}

		params, parseErr := parseJSONObject(content)
		if parseErr != nil {
			return outputUpdate(nodeID, map[string]any{
				"parameters": map[string]any{},
				"error":      fmt.Sprintf("parameter extraction failed: %v", parseErr),
			}), nil
		}
		return outputUpdate(nodeID, map[string]any{"parameters": params}), nil
	}
}

// parseJSONObject extracts the first JSON object from model output,
// tolerating surrounding prose and code fences.
func parseJSONObject(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", content)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, err
	}
	return result, nil
}
