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

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// Interaction types a human node can pause with.
const (
	InteractionToolReview   = "tool_review"
	InteractionOutputReview = "output_review"
	InteractionContextInput = "context_input"
)

// Resume decisions accepted per interaction type.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionUpdate   = "update"
	DecisionReview   = "review"
	DecisionEdit     = "edit"
	DecisionContinue = "continue"
)

// HumanConfig configures a human node.
type HumanConfig struct {
	InteractionType string `json:"interaction_type"`
	Question        string `json:"question,omitempty"`
}

// Decision is the typed resume payload a client sends to continue past
// a human node.
type Decision struct {
	InteractionType string         `json:"interaction_type,omitempty"`
	Decision        string         `json:"decision"`
	ToolMessage     string         `json:"tool_message,omitempty"`
	Content         string         `json:"content,omitempty"`
	Arguments       map[string]any `json:"arguments,omitempty"`
}

// humanRoutes holds the compile-time routing targets of a human node,
// derived from its outgoing edges.
type humanRoutes struct {
	approved string
	rejected string
	reentry  string
}

// humanNodeFunc builds the node function for a human node. It pauses
// the run with an interrupt carrying the interaction payload and, once
// resumed, applies the decision and routes accordingly.
func humanNodeFunc(nodeID string, cfg HumanConfig, routes humanRoutes) graph.NodeFunc {
	interaction := cfg.InteractionType
	if interaction == "" {
		interaction = InteractionContextInput
	}
	return func(ctx context.Context, state graph.State) (any, error) {
		payload := map[string]any{
			"interaction_type": interaction,
			"question":         Resolve(cfg.Question, state),
		}
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		assistant, pending := pendingToolCalls(messages)
		switch interaction {
		case InteractionToolReview:
			if len(pending) > 0 {
				payload["tool_call"] = map[string]any{
					"id":        pending[0].ID,
					"name":      pending[0].Function.Name,
					"arguments": string(pending[0].Function.Arguments),
				}
			}
		case InteractionOutputReview:
			payload["content"], _ = state[graph.StateKeyLastResponse].(string)
		}

		value, err := graph.Interrupt(ctx, state, nodeID, payload)
		if err != nil {
			return nil, err
		}
		decision, err := decodeDecision(value)
		if err != nil {
			return nil, err
		}

		switch interaction {
		case InteractionToolReview:
			return applyToolReview(decision, assistant, pending, routes)
		case InteractionOutputReview:
			return applyOutputReview(decision, routes)
		default:
			return applyContextInput(decision)
		}
	}
}

// decodeDecision accepts the typed Decision, its JSON map form, or a
// bare decision string.
func decodeDecision(value any) (Decision, error) {
	switch v := value.(type) {
	case Decision:
		return v, nil
	case string:
		return Decision{Decision: v}, nil
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return Decision{}, fmt.Errorf("encode decision: %w", err)
		}
		var d Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return Decision{}, fmt.Errorf("decode decision: %w", err)
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("%w: unsupported payload type %T", ErrUnknownDecision, value)
	}
}

func applyToolReview(d Decision, assistant model.Message, pending []model.ToolCall, routes humanRoutes) (any, error) {
	switch d.Decision {
	case DecisionApproved:
		return nil, nil
	case DecisionUpdate:
		if assistant.ID == "" || len(pending) == 0 {
			return nil, fmt.Errorf("%w: no pending tool call to update", ErrUnknownDecision)
		}
		raw, err := json.Marshal(d.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encode updated arguments: %w", err)
		}
		updated := replaceCallArguments(assistant, pending[0].ID, raw)
		return graph.State{graph.StateKeyMessages: []model.Message{updated}}, nil
	case DecisionRejected:
		results := rejectedToolResults(pending, d.ToolMessage)
		update := graph.State{
			graph.StateKeyMessages: results,
			StateKeyHistory:        results,
			StateKeyAllMessages:    results,
		}
		goTo := routes.rejected
		if goTo == "" {
			goTo = graph.End
		}
		return &graph.Command{Update: update, GoTo: goTo}, nil
	default:
		return nil, fmt.Errorf("%w: %q for tool review", ErrUnknownDecision, d.Decision)
	}
}

func applyOutputReview(d Decision, routes humanRoutes) (any, error) {
	switch d.Decision {
	case DecisionApproved:
		return nil, nil
	case DecisionReview, DecisionEdit:
		feedback := d.Content
		if feedback == "" {
			feedback = d.ToolMessage
		}
		user := model.NewUserMessage(feedback)
		user.ID = uuid.New().String()
		update := graph.State{
			graph.StateKeyMessages: []model.Message{user},
			StateKeyHistory:        []model.Message{user},
			StateKeyAllMessages:    []model.Message{user},
		}
		goTo := routes.reentry
		if goTo == "" {
			goTo = routes.rejected
		}
		if goTo == "" {
			return nil, fmt.Errorf("%w: no re-entry edge for %q", ErrUnknownDecision, d.Decision)
		}
		return &graph.Command{Update: update, GoTo: goTo}, nil
	default:
		return nil, fmt.Errorf("%w: %q for output review", ErrUnknownDecision, d.Decision)
	}
}

// replaceCallArguments returns a copy of the assistant message with the
// identified call's arguments rewritten. The copy keeps the message ID
// so the reducer swaps it in place.
func replaceCallArguments(assistant model.Message, callID string, args []byte) model.Message {
	updated := assistant
	updated.ToolCalls = append([]model.ToolCall(nil), assistant.ToolCalls...)
	for i := range updated.ToolCalls {
		if updated.ToolCalls[i].ID == callID {
			updated.ToolCalls[i].Function.Arguments = args
		}
	}
	return updated
}

// rejectedToolResults answers every pending call with a rejection tool
// result, plus the reviewer's message when one was given, so the
// conversation stays well-formed without running anything.
func rejectedToolResults(pending []model.ToolCall, toolMessage string) []model.Message {
	var results []model.Message
	for _, call := range pending {
		msg := model.NewToolMessage(call.ID, call.Function.Name, "Rejected by user.")
		msg.ID = uuid.New().String()
		results = append(results, msg)
	}
	if toolMessage != "" {
		user := model.NewUserMessage(toolMessage)
		user.ID = uuid.New().String()
		results = append(results, user)
	}
	return results
}

func applyContextInput(d Decision) (any, error) {
	if d.Decision != DecisionContinue && d.Decision != DecisionApproved {
		return nil, fmt.Errorf("%w: %q for context input", ErrUnknownDecision, d.Decision)
	}
	if d.Content == "" {
		return nil, nil
	}
	user := model.NewUserMessage(d.Content)
	user.ID = uuid.New().String()
	return graph.State{
		graph.StateKeyMessages: []model.Message{user},
		StateKeyHistory:        []model.Message{user},
		StateKeyAllMessages:    []model.Message{user},
	}, nil
}
