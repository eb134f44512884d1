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

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// CodeConfig configures a code node. The script must print a JSON
// object carrying a "res" key as its final output.
type CodeConfig struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// codeNodeFunc builds the node function for a code node. Variables are
// substituted into the script with code-safe escaping before it runs in
// the sandbox. Execution and parse failures are reported as messages,
// never raised as node errors.
func codeNodeFunc(nodeID string, cfg CodeConfig, executor codeexecutor.CodeExecutor) graph.NodeFunc {
	language := cfg.Language
	if language == "" {
		language = "python3"
	}
	return func(ctx context.Context, state graph.State) (any, error) {
		code := ResolveForCode(cfg.Code, state)
		result, err := executor.ExecuteCode(ctx, codeexecutor.CodeExecutionInput{
			CodeBlocks:  []codeexecutor.CodeBlock{{Code: code, Language: language}},
			ExecutionID: uuid.New().String(),
		})
		if err != nil {
			return codeFailureUpdate(nodeID, fmt.Sprintf("code execution failed: %v", err)), nil
		}

		parsed, parseErr := parseCodeOutput(result.Output)
		if parseErr != nil {
			return codeFailureUpdate(nodeID, fmt.Sprintf("code output invalid: %v", parseErr)), nil
		}

		content := stringify(parsed["res"])
		assistant := model.NewAssistantMessage(content)
		assistant.ID = uuid.New().String()
		assistant.Name = nodeID

		update := graph.State{
			graph.StateKeyMessages:     []model.Message{assistant},
			StateKeyHistory:            []model.Message{assistant},
			StateKeyAllMessages:        []model.Message{assistant},
			graph.StateKeyLastResponse: content,
		}
		for k, v := range outputUpdate(nodeID, parsed) {
			update[k] = v
		}
		return update, nil
	}
}

// parseCodeOutput expects the script's stdout to end with a JSON object
// holding a "res" key. Earlier print lines are tolerated.
func parseCodeOutput(output string) (map[string]any, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}
	candidates := []string{trimmed}
	if lines := strings.Split(trimmed, "\n"); len(lines) > 1 {
		candidates = append(candidates, strings.TrimSpace(lines[len(lines)-1]))
	}
	var lastErr error
	for _, candidate := range candidates {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			lastErr = err
			continue
		}
		if _, ok := parsed["res"]; !ok {
			lastErr = fmt.Errorf(`output object has no "res" key`)
			continue
		}
		return parsed, nil
	}
	return nil, lastErr
}

func codeFailureUpdate(nodeID, message string) graph.State {
	assistant := model.NewAssistantMessage(message)
	assistant.ID = uuid.New().String()
	assistant.Name = nodeID

	update := graph.State{
		graph.StateKeyMessages: []model.Message{assistant},
		StateKeyHistory:        []model.Message{assistant},
		StateKeyAllMessages:    []model.Message{assistant},
	}
	for k, v := range outputUpdate(nodeID, map[string]any{"error": message}) {
		update[k] = v
	}
	return update
}
