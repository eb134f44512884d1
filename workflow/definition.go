//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package workflow compiles declarative node/edge workflow documents
// into executable graphs and provides the node library they run on.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Node type identifiers accepted in workflow documents.
const (
	TypeStart              = "start"
	TypeEnd                = "end"
	TypeLLM                = "llm"
	TypeTool               = "tool"
	TypeToolRetrieval      = "toolretrieval"
	TypeClassifier         = "classifier"
	TypeIfElse             = "ifelse"
	TypeCode               = "code"
	TypeHuman              = "human"
	TypeSubgraph           = "subgraph"
	TypeAnswer             = "answer"
	TypeRetrieval          = "retrieval"
	TypeParameterExtractor = "parameterExtractor"
	TypePlugin             = "plugin"
	TypeAgent              = "agent"
	TypeCrew               = "crew"
)

// Edge types.
const (
	EdgeTypeDefault     = "default"
	EdgeTypeConditional = "conditional"
)

// Definition is a declarative workflow document. It is immutable once
// compiled.
type Definition struct {
	ID       string     `json:"id" yaml:"id"`
	Name     string     `json:"name" yaml:"name"`
	Nodes    []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges    []EdgeSpec `json:"edges" yaml:"edges"`
	Metadata *Metadata  `json:"metadata" yaml:"metadata"`
}

// NodeSpec declares one node: its kind and a kind-specific config bag.
type NodeSpec struct {
	ID   string         `json:"id" yaml:"id"`
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data" yaml:"data"`
}

// Title returns the human-readable label for the node, falling back to
// its ID.
func (n NodeSpec) Title() string {
	if n.Data != nil {
		if title, ok := n.Data["title"].(string); ok && title != "" {
			return title
		}
		if name, ok := n.Data["name"].(string); ok && name != "" {
			return name
		}
	}
	return n.ID
}

// DecodeData unmarshals the node's config bag into a typed struct.
func (n NodeSpec) DecodeData(target any) error {
	raw, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode data of node %q: %w", n.ID, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode data of node %q: %w", n.ID, err)
	}
	return nil
}

// EdgeSpec declares one transition. SourceHandle is the routing key a
// conditional source emits to select this edge.
type EdgeSpec struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	Type         string `json:"type" yaml:"type"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}

// Metadata carries document-level options.
type Metadata struct {
	HumanInTheLoop *HumanInTheLoop `json:"human_in_the_loop,omitempty" yaml:"human_in_the_loop,omitempty"`
}

// HumanInTheLoop lists nodes that pause for review before or after they
// execute.
type HumanInTheLoop struct {
	InterruptBefore []string `json:"interrupt_before,omitempty" yaml:"interrupt_before,omitempty"`
	InterruptAfter  []string `json:"interrupt_after,omitempty" yaml:"interrupt_after,omitempty"`
}

// ParseJSON decodes a workflow document from JSON and validates it.
func ParseJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseYAML decodes a workflow document from YAML and validates it.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural invariants of the document: required
// top-level fields, unique node IDs, resolvable edge endpoints and
// exactly one start node.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDefinition)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidDefinition)
	}
	ids := make(map[string]string, len(d.Nodes))
	startCount := 0
	for _, node := range d.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidDefinition)
		}
		if node.Type == "" {
			return fmt.Errorf("%w: node %q has no type", ErrInvalidDefinition, node.ID)
		}
		if _, dup := ids[node.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}
		ids[node.ID] = node.Type
		if node.Type == TypeStart {
			startCount++
		}
	}
	if startCount != 1 {
		return fmt.Errorf("%w: expected exactly one start node, got %d", ErrInvalidDefinition, startCount)
	}
	for _, edge := range d.Edges {
		if _, ok := ids[edge.Source]; !ok {
			return fmt.Errorf("%w: edge source %q is not a declared node", ErrInvalidDefinition, edge.Source)
		}
		if _, ok := ids[edge.Target]; !ok {
			return fmt.Errorf("%w: edge target %q is not a declared node", ErrInvalidDefinition, edge.Target)
		}
	}
	return nil
}

// Node returns the node spec with the given ID.
func (d *Definition) Node(id string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// StartNode returns the single start node.
func (d *Definition) StartNode() (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.Type == TypeStart {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// EdgesFrom returns the outgoing edges of a node in declaration order.
func (d *Definition) EdgesFrom(source string) []EdgeSpec {
	var out []EdgeSpec
	for _, e := range d.Edges {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}
