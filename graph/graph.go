//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a directed state graph: nodes transform a
// shared state, edges and conditions route between them, and an
// executor walks the graph emitting streaming events. Runs can suspend
// at interrupt points and resume later from durable checkpoints.
package graph

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-workflow-go/event"
)

// Virtual node IDs marking graph entry and exit.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc executes a node. It returns a partial state update (State or
// map[string]any), a *Command for combined update-and-goto, or nil.
type NodeFunc func(ctx context.Context, state State) (any, error)

// ConditionalFunc selects the routing key for a conditional edge.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Command is a node result that both updates state and overrides routing.
type Command struct {
	// Update is merged into the state through the schema reducers.
	Update State
	// GoTo names the next node, bypassing edges. May be End.
	GoTo string
}

// Node is a single executable vertex.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc
}

// Edge is an unconditional transition between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node by evaluating a condition and
// mapping its result through PathMap. A condition result that is not in
// the map is used as a node ID directly.
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	PathMap   map[string]string
}

// Graph is an immutable compiled graph produced by StateGraph.Compile.
type Graph struct {
	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
	schema           *StateSchema
	interruptBefore  map[string]bool
	interruptAfter   map[string]bool
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes keyed by ID.
func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

// Edges returns the unconditional edges leaving the given node.
func (g *Graph) Edges(from string) []*Edge {
	return g.edges[from]
}

// ConditionalEdge returns the conditional edge leaving the given node.
func (g *Graph) ConditionalEdge(from string) (*ConditionalEdge, bool) {
	e, ok := g.conditionalEdges[from]
	return e, ok
}

// EntryPoint returns the first node executed after Start.
func (g *Graph) EntryPoint() string {
	return g.entryPoint
}

// Schema returns the state schema the graph was compiled with.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

// InterruptBefore reports whether execution pauses before the node.
func (g *Graph) InterruptBefore(nodeID string) bool {
	return g.interruptBefore[nodeID]
}

// InterruptAfter reports whether execution pauses after the node.
func (g *Graph) InterruptAfter(nodeID string) bool {
	return g.interruptAfter[nodeID]
}

func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return fmt.Errorf("graph has no entry point")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point %q is not a registered node", g.entryPoint)
	}
	for from, edges := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return fmt.Errorf("edge from unknown node %q", from)
			}
		}
		for _, e := range edges {
			if e.To != End {
				if _, ok := g.nodes[e.To]; !ok {
					return fmt.Errorf("edge %q -> %q targets unknown node", e.From, e.To)
				}
			}
		}
	}
	for from, ce := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge from unknown node %q", from)
		}
		for _, to := range ce.PathMap {
			if to != End {
				if _, ok := g.nodes[to]; !ok {
					return fmt.Errorf("conditional edge %q targets unknown node %q", from, to)
				}
			}
		}
	}
	for id := range g.interruptBefore {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("interrupt before unknown node %q", id)
		}
	}
	for id := range g.interruptAfter {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("interrupt after unknown node %q", id)
		}
	}
	return nil
}

// ExecutionContext exposes the running graph to node functions through
// StateKeyExecContext. It is stripped before states are checkpointed.
type ExecutionContext struct {
	Graph        *Graph
	EventChan    chan<- *event.Event
	InvocationID string
}

// EmitEvent sends an event to the run's stream, dropping it if the
// consumer context is done.
func (ec *ExecutionContext) EmitEvent(ctx context.Context, e *event.Event) {
	if ec == nil || ec.EventChan == nil || e == nil {
		return
	}
	select {
	case ec.EventChan <- e:
	case <-ctx.Done():
	}
}

// ExecContextFromState extracts the execution context, if present.
func ExecContextFromState(state State) (*ExecutionContext, bool) {
	ec, ok := state[StateKeyExecContext].(*ExecutionContext)
	return ec, ok
}
