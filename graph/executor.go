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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
)

// Executor defaults.
const (
	defaultChannelBufferSize = 256
	defaultMaxSteps          = 100
)

// Executor walks a compiled graph node by node, streaming events and
// writing checkpoints after every transition when a saver is set.
type Executor struct {
	graph             *Graph
	channelBufferSize int
	maxSteps          int
	saver             CheckpointSaver
}

// ExecutorOption configures an executor.
type ExecutorOption func(*Executor)

// WithChannelBufferSize sets the event channel buffer size.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(e *Executor) {
		if size > 0 {
			e.channelBufferSize = size
		}
	}
}

// WithMaxSteps caps the number of node transitions per run.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithCheckpointSaver enables durable execution through the saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) { e.saver = saver }
}

// NewExecutor creates an executor over a compiled graph.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, ErrGraphNotCompiled
	}
	e := &Executor{
		graph:             graph,
		channelBufferSize: defaultChannelBufferSize,
		maxSteps:          defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Invocation identifies one run of a graph. LineageID groups the run's
// checkpoints; leave it empty to run without durability.
type Invocation struct {
	InvocationID string
	LineageID    string
	CheckpointNS string
}

func (inv *Invocation) normalized() *Invocation {
	out := &Invocation{}
	if inv != nil {
		*out = *inv
	}
	if out.InvocationID == "" {
		out.InvocationID = uuid.New().String()
	}
	return out
}

// Execute starts a fresh run from the entry point. Events stream on the
// returned channel until the run completes, errors or interrupts; the
// channel is closed in all cases.
func (e *Executor) Execute(ctx context.Context, initialState State, inv *Invocation) (<-chan *event.Event, error) {
	inv = inv.normalized()
	state := e.graph.Schema().Init()
	for k, v := range initialState {
		state = e.graph.Schema().ApplyUpdate(state, State{k: v})
	}
	if err := e.graph.Schema().Validate(state); err != nil {
		return nil, err
	}
	eventChan := make(chan *event.Event, e.channelBufferSize)
	state[StateKeyExecContext] = &ExecutionContext{
		Graph:        e.graph,
		EventChan:    eventChan,
		InvocationID: inv.InvocationID,
	}
	go e.run(ctx, state, inv, eventChan, e.graph.EntryPoint(), 0, CheckpointSourceInput)
	return eventChan, nil
}

// Resume continues an interrupted run from its latest checkpoint,
// staging the resume values from cmd before re-entering the graph.
func (e *Executor) Resume(ctx context.Context, inv *Invocation, cmd *ResumeCommand) (<-chan *event.Event, error) {
	if e.saver == nil {
		return nil, ErrCheckpointSaverRequired
	}
	if inv == nil || inv.LineageID == "" {
		return nil, ErrLineageIDRequired
	}
	inv = inv.normalized()
	tuple, err := e.saver.GetTuple(ctx, CreateCheckpointConfig(inv.LineageID, "", inv.CheckpointNS))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if tuple == nil || tuple.Checkpoint == nil {
		return nil, ErrCheckpointNotFound
	}
	ckpt := tuple.Checkpoint

	state := e.restoreState(ckpt)
	stageResumeValues(state, cmd)

	startNode := End
	startStep := 0
	if ckpt.IsInterrupted() {
		startNode = ckpt.InterruptState.NodeID
		startStep = ckpt.InterruptState.Step
	} else if len(ckpt.NextNodes) > 0 {
		startNode = ckpt.NextNodes[0]
	}

	eventChan := make(chan *event.Event, e.channelBufferSize)
	state[StateKeyExecContext] = &ExecutionContext{
		Graph:        e.graph,
		EventChan:    eventChan,
		InvocationID: inv.InvocationID,
	}
	go e.run(ctx, state, inv, eventChan, startNode, startStep, CheckpointSourceUpdate)
	return eventChan, nil
}

// restoreState rebuilds a runtime state from checkpointed values.
func (e *Executor) restoreState(ckpt *Checkpoint) State {
	state := e.graph.Schema().Init()
	for k, v := range ckpt.StateValues {
		state[k] = v
	}
	e.graph.Schema().Rehydrate(state)
	// JSON round-trips turn the internal maps into map[string]any,
	// which is already the type the resume machinery expects.
	if ckpt.InterruptState != nil && len(ckpt.InterruptState.ResumeValues) > 0 {
		used := usedInterrupts(state)
		for k, v := range ckpt.InterruptState.ResumeValues {
			used[k] = v
		}
	}
	return state
}

func stageResumeValues(state State, cmd *ResumeCommand) {
	if cmd == nil {
		return
	}
	if cmd.Resume != nil {
		state[ResumeChannel] = cmd.Resume
	}
	if len(cmd.ResumeMap) > 0 {
		resumeMap, ok := state[StateKeyResumeMap].(map[string]any)
		if !ok {
			resumeMap = make(map[string]any, len(cmd.ResumeMap))
		}
		for k, v := range cmd.ResumeMap {
			resumeMap[k] = v
		}
		state[StateKeyResumeMap] = resumeMap
	}
}

// run is the main execution loop. It owns eventChan and always closes it.
func (e *Executor) run(ctx context.Context, state State, inv *Invocation,
	eventChan chan *event.Event, startNode string, startStep int, source string) {
	defer close(eventChan)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("graph execution panic: %v", r)
			emitEvent(ctx, eventChan, event.NewErrorEvent(
				inv.InvocationID, AuthorGraphExecutor,
				model.ErrorTypeFlowError, fmt.Sprintf("panic: %v", r)))
		}
	}()

	ctx, span := trace.Tracer.Start(ctx, "graph.execute",
		oteltrace.WithAttributes(
			attribute.String("trpc.go.workflow.invocation_id", inv.InvocationID),
			attribute.String("trpc.go.workflow.lineage_id", inv.LineageID),
		))
	defer span.End()

	emitEvent(ctx, eventChan, NewGraphStartEvent(inv.InvocationID))
	e.saveCheckpoint(ctx, state, inv, []string{startNode}, source, startStep, nil)

	current := startNode
	for step := startStep; current != End; step++ {
		if step-startStep >= e.maxSteps {
			emitEvent(ctx, eventChan, event.NewErrorEvent(
				inv.InvocationID, AuthorGraphExecutor, model.ErrorTypeFlowError,
				fmt.Sprintf("max steps exceeded (%d)", e.maxSteps)))
			return
		}
		if ctx.Err() != nil {
			return
		}

		node, ok := e.graph.Node(current)
		if !ok {
			emitEvent(ctx, eventChan, event.NewErrorEvent(
				inv.InvocationID, AuthorGraphExecutor, model.ErrorTypeFlowError,
				fmt.Sprintf("node %q not found", current)))
			return
		}

		if e.graph.InterruptBefore(current) {
			if _, err := Interrupt(ctx, state, interruptKeyBefore(current), current); err != nil {
				e.suspend(ctx, state, inv, eventChan, current, step, err)
				return
			}
		}

		next, done := e.executeNode(ctx, state, inv, eventChan, node, step)
		if done {
			return
		}

		if e.graph.InterruptAfter(current) {
			if _, err := Interrupt(ctx, state, interruptKeyAfter(current), current); err != nil {
				e.suspend(ctx, state, inv, eventChan, next, step+1, err)
				return
			}
		}

		e.saveCheckpoint(ctx, state, inv, []string{next}, CheckpointSourceLoop, step, nil)
		current = next
	}

	lastResponse, _ := state[StateKeyLastResponse].(string)
	emitEvent(ctx, eventChan, NewCompletionEvent(inv.InvocationID, lastResponse))
}

// executeNode runs one node, applies its state update and resolves the
// next node. done is true when the run must stop (error or interrupt).
func (e *Executor) executeNode(ctx context.Context, state State, inv *Invocation,
	eventChan chan *event.Event, node *Node, step int) (next string, done bool) {

	ctx, span := trace.Tracer.Start(ctx, "graph.node",
		oteltrace.WithAttributes(
			attribute.String("trpc.go.workflow.node_id", node.ID),
			attribute.Int("trpc.go.workflow.step", step),
		))
	defer span.End()

	startTime := time.Now()
	state[StateKeyCurrentNodeID] = node.ID
	emitEvent(ctx, eventChan, NewNodeEvent(inv.InvocationID, ObjectTypeNodeStart, NodeExecutionMetadata{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Step:      step,
		StartTime: startTime,
	}))

	result, err := node.Function(ctx, state)
	if err != nil {
		if IsInterruptError(err) {
			e.suspend(ctx, state, inv, eventChan, node.ID, step, err)
			return "", true
		}
		log.Errorf("node %s failed: %v", node.ID, err)
		emitEvent(ctx, eventChan, NewNodeEvent(inv.InvocationID, ObjectTypeNodeError, NodeExecutionMetadata{
			NodeID:  node.ID,
			Step:    step,
			EndTime: time.Now(),
			Error:   err.Error(),
		}))
		return "", true
	}

	var goTo string
	switch r := result.(type) {
	case nil:
	case *Command:
		if r != nil {
			e.applyUpdate(state, r.Update)
			goTo = r.GoTo
		}
	case Command:
		e.applyUpdate(state, r.Update)
		goTo = r.GoTo
	case State:
		e.applyUpdate(state, r)
	case map[string]any:
		e.applyUpdate(state, r)
	default:
		emitEvent(ctx, eventChan, event.NewErrorEvent(
			inv.InvocationID, AuthorGraphExecutor, model.ErrorTypeFlowError,
			fmt.Sprintf("node %q returned unsupported result type %T", node.ID, result)))
		return "", true
	}

	emitEvent(ctx, eventChan, NewNodeEvent(inv.InvocationID, ObjectTypeNodeComplete, NodeExecutionMetadata{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Step:      step,
		StartTime: startTime,
		EndTime:   time.Now(),
	}))

	if goTo != "" {
		return goTo, false
	}
	next, err = e.selectNext(ctx, state, node.ID)
	if err != nil {
		emitEvent(ctx, eventChan, event.NewErrorEvent(
			inv.InvocationID, AuthorGraphExecutor, model.ErrorTypeFlowError, err.Error()))
		return "", true
	}
	return next, false
}

// applyUpdate merges a node result into the shared state in place so
// internal keys written by Interrupt survive across steps.
func (e *Executor) applyUpdate(state State, update map[string]any) {
	if len(update) == 0 {
		return
	}
	merged := e.graph.Schema().ApplyUpdate(state, State(update))
	for k, v := range merged {
		state[k] = v
	}
}

// selectNext resolves the outgoing transition for a node: conditional
// edge first, then the first static edge, otherwise End.
func (e *Executor) selectNext(ctx context.Context, state State, nodeID string) (string, error) {
	if ce, ok := e.graph.ConditionalEdge(nodeID); ok {
		result, err := ce.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("condition of node %q: %w", nodeID, err)
		}
		if target, ok := ce.PathMap[result]; ok {
			return target, nil
		}
		if result == End {
			return End, nil
		}
		if _, ok := e.graph.Node(result); ok {
			return result, nil
		}
		return "", fmt.Errorf("condition of node %q returned unknown target %q", nodeID, result)
	}
	if edges := e.graph.Edges(nodeID); len(edges) > 0 {
		return edges[0].To, nil
	}
	return End, nil
}

// suspend persists an interrupted checkpoint and emits the interrupt
// event. Non-interrupt errors fall through as error events.
func (e *Executor) suspend(ctx context.Context, state State, inv *Invocation,
	eventChan chan *event.Event, nodeID string, step int, err error) {

	ie, ok := AsInterruptError(err)
	if !ok {
		emitEvent(ctx, eventChan, event.NewErrorEvent(
			inv.InvocationID, AuthorGraphExecutor, model.ErrorTypeFlowError, err.Error()))
		return
	}

	interruptState := &InterruptState{
		NodeID:         nodeID,
		TaskID:         uuid.New().String(),
		InterruptValue: ie.Value,
		Step:           step,
	}
	if used, ok := state[StateKeyUsedInterrupts].(map[string]any); ok && len(used) > 0 {
		interruptState.ResumeValues = deepCopyMap(used)
	}
	checkpointID := e.saveCheckpoint(ctx, state, inv, []string{nodeID},
		CheckpointSourceInterrupt, step, interruptState)

	emitEvent(ctx, eventChan, NewInterruptEvent(inv.InvocationID, InterruptMetadata{
		NodeID:       nodeID,
		TaskID:       interruptState.TaskID,
		Value:        ie.Value,
		LineageID:    inv.LineageID,
		CheckpointID: checkpointID,
	}))
}

// saveCheckpoint writes a checkpoint when durability is configured.
// Returns the new checkpoint ID, or empty when not persisted.
func (e *Executor) saveCheckpoint(ctx context.Context, state State, inv *Invocation,
	nextNodes []string, source string, step int, interruptState *InterruptState) string {

	if e.saver == nil || inv.LineageID == "" {
		return ""
	}
	ckpt := NewCheckpoint(checkpointableValues(state))
	ckpt.NextNodes = nextNodes
	ckpt.InterruptState = interruptState

	if tuple, err := e.saver.GetTuple(ctx,
		CreateCheckpointConfig(inv.LineageID, "", inv.CheckpointNS)); err == nil && tuple != nil && tuple.Checkpoint != nil {
		ckpt.ParentCheckpointID = tuple.Checkpoint.ID
	}

	_, err := e.saver.PutFull(ctx, PutFullRequest{
		Config:     CreateCheckpointConfig(inv.LineageID, ckpt.ID, inv.CheckpointNS),
		Checkpoint: ckpt,
		Metadata:   &CheckpointMetadata{Source: source, Step: step},
	})
	if err != nil {
		log.Errorf("save checkpoint for lineage %s: %v", inv.LineageID, err)
		return ""
	}
	return ckpt.ID
}

// checkpointableValues strips runtime-only entries from the state.
func checkpointableValues(state State) map[string]any {
	values := make(map[string]any, len(state))
	for k, v := range state {
		if k == StateKeyExecContext {
			continue
		}
		values[k] = v
	}
	return values
}

func interruptKeyBefore(nodeID string) string { return "before:" + nodeID }
func interruptKeyAfter(nodeID string) string  { return "after:" + nodeID }

func emitEvent(ctx context.Context, eventChan chan<- *event.Event, e *event.Event) {
	if e == nil {
		return
	}
	select {
	case eventChan <- e:
	case <-ctx.Done():
	}
}
