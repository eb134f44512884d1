//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Configuration map keys used by checkpoint savers. The configurable
// sub-map addresses a single checkpoint within a lineage.
const (
	CfgKeyConfigurable = "configurable"
	CfgKeyLineageID    = "lineage_id"
	CfgKeyCheckpointID = "checkpoint_id"
	CfgKeyCheckpointNS = "checkpoint_ns"
)

// Well-known state keys shared between the executor and node functions.
const (
	// StateKeyUserInput carries the initial user input for the run.
	StateKeyUserInput = "user_input"
	// StateKeyLastResponse holds the most recent assistant response text.
	// The executor reads it to build the final completion event.
	StateKeyLastResponse = "last_response"
	// StateKeyMessages is the shared conversation history.
	StateKeyMessages = "messages"
	// StateKeyNodeResponses maps node ID to that node's final output.
	StateKeyNodeResponses = "node_responses"
	// StateKeyMetadata carries request-scoped metadata for node functions.
	StateKeyMetadata = "metadata"
	// StateKeyExecContext holds the *ExecutionContext for the current run.
	// It is never checkpointed.
	StateKeyExecContext = "exec_context"
	// StateKeyCurrentNodeID names the node currently executing.
	StateKeyCurrentNodeID = "current_node_id"
)

// Internal state keys used by the interrupt and resume machinery.
const (
	// StateKeyCommand carries a Command staged before the next node runs.
	StateKeyCommand = "__command__"
	// StateKeyResumeMap maps interrupt keys to staged resume values.
	StateKeyResumeMap = "__resume_map__"
	// StateKeyUsedInterrupts records interrupt keys already satisfied in
	// this lineage so replayed nodes do not interrupt twice.
	StateKeyUsedInterrupts = "__used_interrupts__"
)

// Virtual channels referenced by checkpoints and resume staging.
const (
	// ResumeChannel carries a single untargeted resume value.
	ResumeChannel = "__resume__"
	// InterruptChannel records the pending interrupt payload.
	InterruptChannel = "__interrupt__"
	// ErrorChannel records a node error captured at checkpoint time.
	ErrorChannel = "__error__"
)

// AuthorGraphExecutor is the event author used for executor-level events.
// Node-level events are authored by the node ID.
const AuthorGraphExecutor = "graph-executor"
