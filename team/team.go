//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package team

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

var (
	// ErrInvalidTeam marks structural errors in a team configuration.
	ErrInvalidTeam = errors.New("invalid team configuration")

	// ErrUnknownMember is returned when a leader delegates to a member
	// name that does not exist. Routing errors are fatal.
	ErrUnknownMember = errors.New("unknown team member")
)

// Member is one participant in a team. Source names the parent member
// that delegates to it; the single root member has none.
type Member struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Source      string             `json:"source,omitempty"`
	Model       string             `json:"model"`
	Instruction string             `json:"instruction,omitempty"`
	Tools       []workflow.ToolRef `json:"tools,omitempty"`
	Uploads     []string           `json:"uploads,omitempty"`
	Interrupt   bool               `json:"interrupt,omitempty"`
}

// Config is a declarative team document.
type Config struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Mode    string   `json:"mode"`
	Members []Member `json:"members"`
}

// Options configures team compilation.
type Options struct {
	modelProvider workflow.ModelProvider
	toolProvider  workflow.ToolProvider
	saver         graph.CheckpointSaver
	maxSteps      int
}

// Option mutates compilation options.
type Option func(*Options)

// WithModelProvider sets the model provider for member turns.
func WithModelProvider(p workflow.ModelProvider) Option {
	return func(o *Options) { o.modelProvider = p }
}

// WithToolProvider sets the tool provider for member tools.
func WithToolProvider(p workflow.ToolProvider) Option {
	return func(o *Options) { o.toolProvider = p }
}

// WithCheckpointSaver enables durable checkpoints. Required for the
// ask-human tool and flagged-tool review.
func WithCheckpointSaver(s graph.CheckpointSaver) Option {
	return func(o *Options) { o.saver = s }
}

// WithMaxSteps caps node transitions per run.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.maxSteps = n }
}

// Team is a compiled, executable team.
type Team struct {
	cfg      *Config
	graph    *graph.Graph
	executor *graph.Executor
	labels   map[string]string
}

// Build compiles a team configuration into an executable Team.
func Build(ctx context.Context, cfg *Config, opts ...Option) (*Team, error) {
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("%w: missing id or name", ErrInvalidTeam)
	}
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("%w: no members", ErrInvalidTeam)
	}
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	c := &teamCompiler{
		cfg:     cfg,
		opts:    options,
		builder: graph.NewStateGraph(Schema()),
		labels:  make(map[string]string, len(cfg.Members)),
	}
	return c.compile(ctx)
}

type teamCompiler struct {
	cfg     *Config
	opts    *Options
	builder *graph.StateGraph
	labels  map[string]string
	tools   map[string]tool.Tool
}

func (c *teamCompiler) compile(ctx context.Context) (*Team, error) {
	for _, m := range c.cfg.Members {
		label := m.Name
		if label == "" {
			label = m.ID
		}
		c.labels[m.ID] = label
	}
	if err := c.fetchTools(ctx); err != nil {
		return nil, err
	}

	var err error
	switch c.cfg.Mode {
	case ModeHierarchical:
		err = c.compileHierarchical()
	case ModeSequential:
		err = c.compileSequential()
	case ModeChatbot, ModeRagbot:
		err = c.compileSingle()
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidTeam, c.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	compiled, err := c.builder.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTeam, err)
	}
	executorOpts := []graph.ExecutorOption{}
	if c.opts.saver != nil {
		executorOpts = append(executorOpts, graph.WithCheckpointSaver(c.opts.saver))
	}
	if c.opts.maxSteps > 0 {
		executorOpts = append(executorOpts, graph.WithMaxSteps(c.opts.maxSteps))
	}
	executor, err := graph.NewExecutor(compiled, executorOpts...)
	if err != nil {
		return nil, err
	}
	return &Team{cfg: c.cfg, graph: compiled, executor: executor, labels: c.labels}, nil
}

// fetchTools resolves every member tool reference concurrently. Ragbot
// teams bind only upload-backed tools, so everything else is filtered
// before fetching.
func (c *teamCompiler) fetchTools(ctx context.Context) error {
	seen := make(map[string]bool)
	var refs []workflow.ToolRef
	for _, m := range c.cfg.Members {
		for _, ref := range c.memberToolRefs(m) {
			if ref.Name == "" || seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	c.tools = make(map[string]tool.Tool, len(refs))
	if len(refs) == 0 {
		return nil
	}
	if c.opts.toolProvider == nil {
		return fmt.Errorf("%w: members declare tools", workflow.ErrToolProviderRequired)
	}

	pool, err := ants.NewPool(len(refs))
	if err != nil {
		return fmt.Errorf("create fetch pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		task := func() {
			defer wg.Done()
			t, err := c.opts.toolProvider.FetchTool(ctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("fetch tool %q: %w", ref.Name, err)
				}
				return
			}
			c.tools[ref.Name] = t
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return fmt.Errorf("submit fetch task: %w", err)
		}
	}
	wg.Wait()
	return firstErr
}

// memberToolRefs returns the references a member actually binds. In
// ragbot mode only tools backed by one of the member's uploads qualify.
func (c *teamCompiler) memberToolRefs(m Member) []workflow.ToolRef {
	if c.cfg.Mode != ModeRagbot {
		return m.Tools
	}
	uploads := make(map[string]bool, len(m.Uploads))
	for _, u := range m.Uploads {
		uploads[u] = true
	}
	var refs []workflow.ToolRef
	for _, ref := range m.Tools {
		if uploads[ref.ID] {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (c *teamCompiler) memberTools(m Member) map[string]tool.Tool {
	tools := make(map[string]tool.Tool)
	for _, ref := range c.memberToolRefs(m) {
		if t, ok := c.tools[ref.Name]; ok {
			tools[ref.Name] = t
		}
	}
	return tools
}

func (c *teamCompiler) resolveModel(m Member) (model.Model, error) {
	if c.opts.modelProvider == nil {
		return nil, fmt.Errorf("%w: member %q", workflow.ErrModelProviderRequired, m.ID)
	}
	mdl, err := c.opts.modelProvider(m.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve model for member %q: %w", m.ID, err)
	}
	return mdl, nil
}

// addWorkerLoop registers a member's turn node and its tool node, wired
// as a loop: pending tool calls run the tools and return to the member,
// a plain answer hands off to done. Flagged tools pause for review
// before the tool node runs.
func (c *teamCompiler) addWorkerLoop(m Member, done string) error {
	mdl, err := c.resolveModel(m)
	if err != nil {
		return err
	}
	tools := c.memberTools(m)
	toolsID := m.ID + ".tools"

	c.builder.AddNode(m.ID, workerNodeFunc(m, mdl, tools), graph.WithName(c.labels[m.ID]))
	c.builder.AddNode(toolsID, memberToolsNodeFunc(toolsID, tools), graph.WithName(c.labels[m.ID]+" tools"))
	c.builder.AddConditionalEdges(m.ID, pendingToolsCondition(toolsID, done), map[string]string{
		toolsID: toolsID,
		done:    done,
	})
	c.builder.AddEdge(toolsID, m.ID)

	if m.Interrupt || anyInterrupt(m.Tools) {
		c.builder.SetInterruptBefore(toolsID)
	}
	return nil
}

func (c *teamCompiler) compileHierarchical() error {
	ordered, err := orderMembers(c.cfg.Members)
	if err != nil {
		return err
	}
	root := ordered[0]

	var summariserModel model.Model
	for _, m := range ordered {
		switch m.Type {
		case TypeRoot, TypeLeader:
			mdl, err := c.resolveModel(m)
			if err != nil {
				return err
			}
			if m.Type == TypeRoot {
				summariserModel = mdl
			}
			children := childrenOf(ordered, m.ID)
			if len(children) == 0 {
				return fmt.Errorf("%w: leader %q has no members", ErrInvalidTeam, m.ID)
			}
			c.builder.AddNode(m.ID, leaderNodeFunc(m, mdl, children), graph.WithName(c.labels[m.ID]))

			pathMap := map[string]string{FinishRoute: SummariserNodeID}
			for _, child := range children {
				pathMap[memberName(child)] = child.ID
			}
			c.builder.AddConditionalEdges(m.ID, leaderRouteCondition(m.ID, pathMap), pathMap)
		case TypeWorker:
			if err := c.addWorkerLoop(m, m.Source); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: member %q has unknown type %q", ErrInvalidTeam, m.ID, m.Type)
		}
	}

	c.builder.AddNode(SummariserNodeID, summariserNodeFunc(summariserModel), graph.WithName("Summariser"))
	c.builder.SetFinishPoint(SummariserNodeID)
	c.builder.SetEntryPoint(root.ID)
	return nil
}

func (c *teamCompiler) compileSequential() error {
	ordered, err := orderMembers(c.cfg.Members)
	if err != nil {
		return err
	}
	for i, m := range ordered {
		next := graph.End
		if i+1 < len(ordered) {
			next = ordered[i+1].ID
		}
		if err := c.addWorkerLoop(m, next); err != nil {
			return err
		}
	}
	c.builder.SetEntryPoint(ordered[0].ID)
	return nil
}

func (c *teamCompiler) compileSingle() error {
	if len(c.cfg.Members) != 1 {
		return fmt.Errorf("%w: %s teams take exactly one member, got %d",
			ErrInvalidTeam, c.cfg.Mode, len(c.cfg.Members))
	}
	m := c.cfg.Members[0]
	if err := c.addWorkerLoop(m, graph.End); err != nil {
		return err
	}
	c.builder.SetEntryPoint(m.ID)
	return nil
}

// MemberLabel returns the display name of a member node, falling back
// to the ID.
func (t *Team) MemberLabel(nodeID string) string {
	if label, ok := t.labels[nodeID]; ok {
		return label
	}
	return nodeID
}

// Graph exposes the compiled graph for inspection and tests.
func (t *Team) Graph() *graph.Graph { return t.graph }

// Execute starts a fresh team run with the given user request.
func (t *Team) Execute(ctx context.Context, input string, inv *graph.Invocation) (<-chan *event.Event, error) {
	user := model.NewUserMessage(input)
	user.ID = uuid.New().String()
	initial := graph.State{
		graph.StateKeyUserInput:      input,
		graph.StateKeyMessages:       []model.Message{user},
		workflow.StateKeyHistory:     []model.Message{user},
		workflow.StateKeyAllMessages: []model.Message{user},
		StateKeyMainTask:             input,
	}
	return t.executor.Execute(ctx, initial, inv)
}

// Resume continues an interrupted team run with a human reply.
func (t *Team) Resume(ctx context.Context, inv *graph.Invocation, reply any) (<-chan *event.Event, error) {
	return t.executor.Resume(ctx, inv, graph.NewResumeCommand().WithResume(reply))
}

func anyInterrupt(refs []workflow.ToolRef) bool {
	for _, ref := range refs {
		if ref.Interrupt {
			return true
		}
	}
	return false
}

func memberName(m Member) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
