//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "context"

// Interrupt pauses execution at the given key until a resume value is
// supplied. The call is idempotent per key within a lineage: once a
// value has been consumed, replaying the node returns the same value
// instead of interrupting again.
//
// Resolution order: previously consumed values, then the untargeted
// resume channel, then the per-key resume map. With nothing staged the
// function returns an *InterruptError carrying the prompt.
func Interrupt(ctx context.Context, state State, key string, prompt any) (any, error) {
	used := usedInterrupts(state)
	if value, ok := used[key]; ok {
		return value, nil
	}
	if value, ok := state[ResumeChannel]; ok {
		delete(state, ResumeChannel)
		used[key] = value
		return value, nil
	}
	if resumeMap, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if value, ok := resumeMap[key]; ok {
			used[key] = value
			return value, nil
		}
	}
	return nil, NewInterruptError(prompt)
}

// HasResumeValue reports whether a resume value is staged for the key.
func HasResumeValue(state State, key string) bool {
	if used := usedInterrupts(state); used != nil {
		if _, ok := used[key]; ok {
			return true
		}
	}
	if _, ok := state[ResumeChannel]; ok {
		return true
	}
	if resumeMap, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if _, ok := resumeMap[key]; ok {
			return true
		}
	}
	return false
}

// ResumeValue returns the staged resume value for the key converted to
// T, consuming it if needed.
func ResumeValue[T any](ctx context.Context, state State, key string) (T, bool) {
	var zero T
	if !HasResumeValue(state, key) {
		return zero, false
	}
	value, err := Interrupt(ctx, state, key, nil)
	if err != nil {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ResumeValueOrDefault returns the staged resume value for the key or
// the given default when nothing is staged.
func ResumeValueOrDefault[T any](ctx context.Context, state State, key string, def T) T {
	if value, ok := ResumeValue[T](ctx, state, key); ok {
		return value
	}
	return def
}

// ClearResumeValue removes any staged or consumed value for the key so
// the next Interrupt call pauses again.
func ClearResumeValue(state State, key string) {
	if used, ok := state[StateKeyUsedInterrupts].(map[string]any); ok {
		delete(used, key)
	}
	if resumeMap, ok := state[StateKeyResumeMap].(map[string]any); ok {
		delete(resumeMap, key)
	}
}

// ClearAllResumeValues drops all staged and consumed resume values.
func ClearAllResumeValues(state State) {
	delete(state, ResumeChannel)
	delete(state, StateKeyResumeMap)
	delete(state, StateKeyUsedInterrupts)
}

// usedInterrupts returns the consumed-interrupt record, creating it in
// place on first use.
func usedInterrupts(state State) map[string]any {
	if used, ok := state[StateKeyUsedInterrupts].(map[string]any); ok {
		return used
	}
	used := make(map[string]any)
	state[StateKeyUsedInterrupts] = used
	return used
}
