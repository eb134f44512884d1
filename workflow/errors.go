//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import "errors"

var (
	// ErrInvalidDefinition marks structural errors in a workflow
	// document. Compile errors are fatal and never retried.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrUnknownDecision is returned when a resume decision does not
	// apply to the pending interaction type.
	ErrUnknownDecision = errors.New("unknown resume decision")

	// ErrModelProviderRequired is returned when a document declares
	// model-backed nodes but no model provider was configured.
	ErrModelProviderRequired = errors.New("model provider is required")

	// ErrToolProviderRequired is returned when a document declares tool
	// nodes but no tool provider was configured.
	ErrToolProviderRequired = errors.New("tool provider is required")
)
