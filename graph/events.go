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
	"encoding/json"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// Object types emitted by the executor.
const (
	ObjectTypeGraphStart    = "graph.execution.start"
	ObjectTypeGraphComplete = "graph.execution.complete"
	ObjectTypeNodeStart     = "graph.node.start"
	ObjectTypeNodeComplete  = "graph.node.complete"
	ObjectTypeNodeError     = "graph.node.error"
	ObjectTypeInterrupt     = "graph.interrupt"
	ObjectTypeCheckpoint    = "graph.checkpoint"
)

// StateDelta keys carrying serialized event metadata.
const (
	MetadataKeyNode      = "_node_metadata"
	MetadataKeyInterrupt = "_interrupt_metadata"
)

// NodeType classifies a node for event consumers.
type NodeType string

// Known node types.
const (
	NodeTypeFunction NodeType = "function"
	NodeTypeLLM      NodeType = "llm"
	NodeTypeTools    NodeType = "tools"
)

// NodeExecutionMetadata describes a node lifecycle event.
type NodeExecutionMetadata struct {
	NodeID    string    `json:"node_id"`
	NodeName  string    `json:"node_name,omitempty"`
	NodeType  NodeType  `json:"node_type,omitempty"`
	Step      int       `json:"step"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// InterruptMetadata describes a suspension event.
type InterruptMetadata struct {
	NodeID       string `json:"node_id"`
	TaskID       string `json:"task_id,omitempty"`
	Value        any    `json:"value,omitempty"`
	LineageID    string `json:"lineage_id,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// NewNodeEvent creates a node lifecycle event. The metadata is attached
// as JSON under MetadataKeyNode.
func NewNodeEvent(invocationID, objectType string, md NodeExecutionMetadata) *event.Event {
	e := event.New(invocationID, md.NodeID, event.WithObject(objectType))
	if raw, err := json.Marshal(md); err == nil {
		e.StateDelta = map[string][]byte{MetadataKeyNode: raw}
	}
	if md.Error != "" {
		e.Response.Error = &model.ResponseError{
			Type:    model.ErrorTypeFlowError,
			Message: md.Error,
		}
	}
	return e
}

// NewInterruptEvent creates the event emitted when a run suspends. The
// interrupt payload rides in both the metadata and the response content
// so plain chat consumers see the prompt.
func NewInterruptEvent(invocationID string, md InterruptMetadata) *event.Event {
	e := event.New(invocationID, md.NodeID, event.WithObject(ObjectTypeInterrupt))
	if raw, err := json.Marshal(md); err == nil {
		e.StateDelta = map[string][]byte{MetadataKeyInterrupt: raw}
	}
	if prompt, ok := md.Value.(string); ok {
		e.Response.Choices = []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: prompt},
		}}
	}
	return e
}

// NewGraphStartEvent marks the beginning of a run.
func NewGraphStartEvent(invocationID string) *event.Event {
	return event.New(invocationID, AuthorGraphExecutor, event.WithObject(ObjectTypeGraphStart))
}

// NewCompletionEvent carries the final response of a finished run.
func NewCompletionEvent(invocationID, lastResponse string) *event.Event {
	e := event.New(invocationID, AuthorGraphExecutor, event.WithObject(ObjectTypeGraphComplete))
	e.Response.Done = true
	e.Response.Choices = []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: lastResponse},
	}}
	return e
}

// NodeMetadataFromEvent decodes node metadata, if the event carries any.
func NodeMetadataFromEvent(e *event.Event) (*NodeExecutionMetadata, bool) {
	raw, ok := e.StateDelta[MetadataKeyNode]
	if !ok {
		return nil, false
	}
	var md NodeExecutionMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, false
	}
	return &md, true
}

// InterruptMetadataFromEvent decodes interrupt metadata, if present.
func InterruptMetadataFromEvent(e *event.Event) (*InterruptMetadata, bool) {
	raw, ok := e.StateDelta[MetadataKeyInterrupt]
	if !ok {
		return nil, false
	}
	var md InterruptMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, false
	}
	return &md, true
}
