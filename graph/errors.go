//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

var (
	// ErrLineageIDRequired is returned when an operation that touches
	// checkpoint storage is invoked without a lineage ID.
	ErrLineageIDRequired = errors.New("lineage_id is required")

	// ErrCheckpointSaverRequired is returned when resuming without a
	// configured checkpoint saver.
	ErrCheckpointSaverRequired = errors.New("checkpoint saver is required")

	// ErrCheckpointNotFound is returned when no checkpoint exists for the
	// requested lineage or checkpoint ID.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrGraphNotCompiled is returned when an executor is created from a
	// nil graph.
	ErrGraphNotCompiled = errors.New("graph is not compiled")
)
