//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package stream translates internal execution events into the
// client-facing chat frame protocol and serves it over SSE.
package stream

import (
	"encoding/json"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// Frame types.
const (
	TypeAI        = "ai"
	TypeHuman     = "human"
	TypeTool      = "tool"
	TypeError     = "error"
	TypeInterrupt = "interrupt"
)

// ChatResponse is one client-facing frame.
type ChatResponse struct {
	Type       string           `json:"type"`
	ID         string           `json:"id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []model.ToolCall `json:"tool_calls,omitempty"`
	ToolOutput string           `json:"tool_output,omitempty"`
	Documents  []any            `json:"documents,omitempty"`
	Next       string           `json:"next,omitempty"`
}

// LabelResolver maps a node ID to its display label.
type LabelResolver func(nodeID string) string

// Translate converts an execution event stream into chat frames.
// Interrupt and error frames are terminal: at most one of each is
// emitted and the output closes after the source drains.
func Translate(events <-chan *event.Event, resolve LabelResolver) <-chan ChatResponse {
	if resolve == nil {
		resolve = func(nodeID string) string { return nodeID }
	}
	out := make(chan ChatResponse, 16)
	go func() {
		defer close(out)
		var sawError, sawInterrupt bool
		for evt := range events {
			if evt == nil || evt.Response == nil {
				continue
			}
			frame, ok := translateEvent(evt, resolve)
			if !ok {
				continue
			}
			if frame.Type == TypeError {
				if sawError {
					continue
				}
				sawError = true
			}
			if frame.Type == TypeInterrupt {
				if sawInterrupt {
					continue
				}
				sawInterrupt = true
			}
			out <- frame
		}
	}()
	return out
}

func translateEvent(evt *event.Event, resolve LabelResolver) (ChatResponse, bool) {
	response := evt.Response
	if response.Error != nil {
		return ChatResponse{
			Type:    TypeError,
			ID:      evt.ID,
			Name:    resolve(evt.Author),
			Content: response.Error.Message,
		}, true
	}

	switch response.Object {
	case graph.ObjectTypeInterrupt:
		return interruptFrame(evt, resolve)
	case model.ObjectTypeToolResponse:
		return toolFrame(evt, resolve)
	case graph.ObjectTypeGraphComplete:
		if len(response.Choices) == 0 {
			return ChatResponse{}, false
		}
		return ChatResponse{
			Type:    TypeAI,
			ID:      evt.ID,
			Name:    resolve(evt.Author),
			Content: response.Choices[0].Message.Content,
		}, true
	case graph.ObjectTypeGraphStart, graph.ObjectTypeNodeStart,
		graph.ObjectTypeNodeComplete, graph.ObjectTypeCheckpoint:
		return ChatResponse{}, false
	}

	if response.IsPartial && len(response.Choices) > 0 {
		delta := response.Choices[0].Delta
		calls := delta.ToolCalls
		if len(calls) == 0 {
			calls = response.Choices[0].Message.ToolCalls
		}
		if delta.Content == "" && len(calls) == 0 {
			return ChatResponse{}, false
		}
		return ChatResponse{
			Type:      TypeAI,
			ID:        evt.ID,
			Name:      resolve(evt.Author),
			Content:   delta.Content,
			ToolCalls: calls,
		}, true
	}
	if response.Done && len(response.Choices) > 0 {
		msg := response.Choices[0].Message
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			return ChatResponse{}, false
		}
		return ChatResponse{
			Type:      TypeAI,
			ID:        evt.ID,
			Name:      resolve(evt.Author),
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		}, true
	}
	return ChatResponse{}, false
}

// interruptFrame shapes the terminal frame for a pending interrupt by
// its interaction type.
func interruptFrame(evt *event.Event, resolve LabelResolver) (ChatResponse, bool) {
	frame := ChatResponse{Type: TypeInterrupt, ID: evt.ID}
	md, ok := graph.InterruptMetadataFromEvent(evt)
	if !ok {
		frame.Name = resolve(evt.Author)
		return frame, true
	}
	frame.Name = resolve(md.NodeID)
	payload, ok := md.Value.(map[string]any)
	if !ok {
		frame.Content = stringifyValue(md.Value)
		return frame, true
	}
	if question, ok := payload["question"].(string); ok && question != "" {
		frame.Content = question
	} else if content, ok := payload["content"].(string); ok {
		frame.Content = content
	}
	if it, ok := payload["interaction_type"].(string); ok {
		frame.Next = it
	}
	if call, ok := payload["tool_call"].(map[string]any); ok {
		name, _ := call["name"].(string)
		args, _ := call["arguments"].(string)
		id, _ := call["id"].(string)
		frame.ToolCalls = []model.ToolCall{{
			ID:   id,
			Type: "function",
			Function: model.FunctionDefinitionParam{
				Name:      name,
				Arguments: []byte(args),
			},
		}}
	}
	return frame, true
}

// toolFrame carries one tool completion, with documents split out when
// the output is a JSON document list.
func toolFrame(evt *event.Event, resolve LabelResolver) (ChatResponse, bool) {
	if len(evt.Response.Choices) == 0 {
		return ChatResponse{}, false
	}
	msg := evt.Response.Choices[0].Message
	frame := ChatResponse{
		Type:       TypeTool,
		ID:         msg.ToolID,
		Name:       msg.ToolName,
		ToolOutput: msg.Content,
	}
	var docs []any
	if err := json.Unmarshal([]byte(msg.Content), &docs); err == nil {
		frame.Documents = docs
	}
	return frame, true
}

func stringifyValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}
