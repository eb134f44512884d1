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
	"fmt"
	"reflect"
	"sync"

	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// State is the shared data passed between nodes during graph execution.
// Node functions receive a copy and return partial updates; reducers in
// the schema decide how each update merges into the existing value.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	cloned := make(State, len(s))
	for k, v := range s {
		cloned[k] = v
	}
	return cloned
}

// ReducerFunc merges a state update into the existing value for a field.
type ReducerFunc func(existing, update any) any

// StateField describes one field of a state schema.
type StateField struct {
	Type     reflect.Type
	Reducer  ReducerFunc
	Default  func() any
	Required bool
}

// StateSchema declares the fields a graph's state may contain and how
// updates to each field are merged.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates an empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField registers a field and returns the schema for chaining.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}
	s.Fields[name] = field
	return s
}

// Field returns the declared field and whether it exists.
func (s *StateSchema) Field(name string) (StateField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.Fields[name]
	return f, ok
}

// Init returns a new state populated with the schema's default values.
func (s *StateSchema) Init() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(State, len(s.Fields))
	for name, field := range s.Fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// ApplyUpdate merges an update into the state using the declared reducers.
// Unknown keys pass through with last-write-wins semantics so internal
// keys such as resume staging survive without schema entries.
func (s *StateSchema) ApplyUpdate(state State, update State) State {
	if len(update) == 0 {
		return state
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := state.Clone()
	for key, value := range update {
		if field, ok := s.Fields[key]; ok {
			result[key] = field.Reducer(result[key], value)
			continue
		}
		result[key] = value
	}
	return result
}

// Validate checks that required fields are present.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		if field.Required {
			if _, ok := state[name]; !ok {
				return fmt.Errorf("required state field %q is missing", name)
			}
		}
	}
	return nil
}

// Rehydrate converts JSON-decoded state values back into their declared
// types. Checkpoint savers round-trip state through JSON, which turns
// typed slices into []any; this restores message fields to their
// concrete types so node functions can use them directly.
func (s *StateSchema) Rehydrate(state State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		value, ok := state[name]
		if !ok || value == nil || field.Type == nil {
			continue
		}
		if reflect.TypeOf(value) == field.Type {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		target := reflect.New(field.Type)
		if err := json.Unmarshal(raw, target.Interface()); err != nil {
			continue
		}
		state[name] = target.Elem().Interface()
	}
	return state
}

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	return update
}

// AppendReducer appends update elements to an existing []any slice.
func AppendReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	existingSlice, _ := existing.([]any)
	switch u := update.(type) {
	case []any:
		return append(existingSlice, u...)
	default:
		return append(existingSlice, u)
	}
}

// StringSliceReducer appends update strings to an existing []string slice.
func StringSliceReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	existingSlice, _ := existing.([]string)
	switch u := update.(type) {
	case []string:
		return append(existingSlice, u...)
	case string:
		return append(existingSlice, u)
	default:
		return existing
	}
}

// MergeReducer merges update map entries into an existing map[string]any.
func MergeReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	updateMap, ok := update.(map[string]any)
	if !ok {
		return existing
	}
	existingMap, ok := existing.(map[string]any)
	if !ok {
		existingMap = make(map[string]any, len(updateMap))
	} else {
		merged := make(map[string]any, len(existingMap)+len(updateMap))
		for k, v := range existingMap {
			merged[k] = v
		}
		existingMap = merged
	}
	for k, v := range updateMap {
		existingMap[k] = v
	}
	return existingMap
}

// MessageReducer merges message updates into the conversation history
// with add-or-replace semantics: an update message whose ID matches an
// existing message replaces it in place, anything else is appended. An
// explicit empty slice clears the history. Message ops are applied as
// transformations over the full history.
func MessageReducer(existing, update any) any {
	existingMessages, _ := existing.([]model.Message)
	switch u := update.(type) {
	case nil:
		return existingMessages
	case model.Message:
		return upsertMessages(existingMessages, []model.Message{u})
	case []model.Message:
		if len(u) == 0 {
			return []model.Message{}
		}
		return upsertMessages(existingMessages, u)
	case MessageOp:
		return u.Apply(existingMessages)
	case []MessageOp:
		for _, op := range u {
			existingMessages = op.Apply(existingMessages)
		}
		return existingMessages
	default:
		return existingMessages
	}
}

// upsertMessages appends updates to dst, replacing in place any message
// whose non-empty ID already exists.
func upsertMessages(dst, updates []model.Message) []model.Message {
	index := make(map[string]int, len(dst))
	for i, m := range dst {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	result := make([]model.Message, len(dst), len(dst)+len(updates))
	copy(result, dst)
	for _, m := range updates {
		if m.ID != "" {
			if i, ok := index[m.ID]; ok {
				result[i] = m
				continue
			}
			index[m.ID] = len(result)
		}
		result = append(result, m)
	}
	return result
}
