//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package team compiles leader/member team configurations into
// executable graphs: a hierarchy of delegating leaders and tool-using
// workers, or flat sequential, chatbot and ragbot flavors.
package team

import (
	"reflect"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// State keys the team layer adds on top of the workflow schema.
const (
	// StateKeyNext is the member name the active leader delegated to.
	StateKeyNext = "next"
	// StateKeyTask is the task text handed to the delegated member.
	StateKeyTask = "task"
	// StateKeyMainTask is the original user request, set once at the root.
	StateKeyMainTask = "main_task"
)

// Schema returns the execution state schema for compiled teams.
func Schema() *graph.StateSchema {
	schema := workflow.Schema()
	for _, key := range []string{StateKeyNext, StateKeyTask, StateKeyMainTask} {
		schema.AddField(key, graph.StateField{
			Type:    reflect.TypeOf(""),
			Reducer: graph.DefaultReducer,
			Default: func() any { return "" },
		})
	}
	return schema
}
