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
	"errors"
	"fmt"
)

// InterruptError suspends graph execution. The executor catches it,
// persists an interrupted checkpoint and emits an interrupt event so a
// caller can collect input and resume the run.
type InterruptError struct {
	// Value is the payload surfaced to the caller, typically a prompt
	// describing what input is needed.
	Value any
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph execution interrupted: %v", e.Value)
}

// NewInterruptError creates an interrupt error with the given payload.
func NewInterruptError(value any) *InterruptError {
	return &InterruptError{Value: value}
}

// IsInterruptError reports whether err is an interrupt.
func IsInterruptError(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// AsInterruptError extracts the interrupt from err, if any.
func AsInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// ResumeCommand carries the caller's answers when resuming an
// interrupted run. Resume satisfies the single pending interrupt;
// ResumeMap targets specific interrupt keys ahead of time.
type ResumeCommand struct {
	Resume    any
	ResumeMap map[string]any
}

// NewResumeCommand creates an empty resume command.
func NewResumeCommand() *ResumeCommand {
	return &ResumeCommand{}
}

// WithResume sets the untargeted resume value.
func (c *ResumeCommand) WithResume(value any) *ResumeCommand {
	c.Resume = value
	return c
}

// WithResumeValue stages a resume value for a specific interrupt key.
func (c *ResumeCommand) WithResumeValue(key string, value any) *ResumeCommand {
	if c.ResumeMap == nil {
		c.ResumeMap = make(map[string]any)
	}
	c.ResumeMap[key] = value
	return c
}
