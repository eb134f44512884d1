//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor/local"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
)

const toolFetchPoolSize = 8

// Routing keys llm nodes emit on their conditional edges.
const (
	routeCallTools = "call_tools"
	routeCallHuman = "call_human"
	routeDefault   = "default"
)

// Build compiles a workflow document into an executable Workflow.
// Compilation is deterministic: the same document and options always
// produce the same graph. Structural errors are fatal.
func Build(ctx context.Context, def *Definition, opts ...Option) (*Workflow, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	c := &compiler{
		def:     def,
		opts:    options,
		builder: graph.NewStateGraph(Schema()),
		labels:  make(map[string]string, len(def.Nodes)),
		skipped: make(map[string]bool),
		end:     make(map[string]bool),
	}
	return c.compile(ctx)
}

type compiler struct {
	def     *Definition
	opts    *Options
	builder *graph.StateGraph
	labels  map[string]string
	skipped map[string]bool
	end     map[string]bool
	tools   map[string]tool.Tool
}

func (c *compiler) compile(ctx context.Context) (*Workflow, error) {
	for _, node := range c.def.Nodes {
		c.labels[node.ID] = node.Title()
		switch node.Type {
		case TypeEnd:
			c.end[node.ID] = true
		case TypeStart, TypeLLM, TypeTool, TypeToolRetrieval, TypeClassifier,
			TypeIfElse, TypeCode, TypeHuman, TypeSubgraph, TypeAnswer,
			TypeRetrieval, TypeParameterExtractor, TypePlugin, TypeAgent, TypeCrew:
		default:
			log.Warnf("workflow %s: skipping node %q of unknown type %q", c.def.ID, node.ID, node.Type)
			c.skipped[node.ID] = true
		}
	}

	if err := c.fetchTools(ctx); err != nil {
		return nil, err
	}
	for _, node := range c.def.Nodes {
		if c.skipped[node.ID] || c.end[node.ID] {
			continue
		}
		if err := c.registerNode(node); err != nil {
			return nil, err
		}
	}
	for _, node := range c.def.Nodes {
		if c.skipped[node.ID] || c.end[node.ID] {
			continue
		}
		if err := c.wireEdges(node); err != nil {
			return nil, err
		}
	}
	c.applyInterrupts()

	start, _ := c.def.StartNode()
	c.builder.SetEntryPoint(start.ID)

	compiled, err := c.builder.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
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
	return &Workflow{
		def:      c.def,
		graph:    compiled,
		executor: executor,
		labels:   c.labels,
	}, nil
}

// fetchTools resolves every tool reference in the document up front,
// concurrently. A single unresolvable tool fails compilation.
func (c *compiler) fetchTools(ctx context.Context) error {
	refs := c.collectToolRefs()
	c.tools = make(map[string]tool.Tool, len(refs))
	if len(refs) == 0 {
		return nil
	}
	if c.opts.toolProvider == nil {
		return ErrToolProviderRequired
	}

	pool, err := ants.NewPool(toolFetchPoolSize)
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

// collectToolRefs gathers the tool references of every node kind that
// binds tools, deduplicated by name.
func (c *compiler) collectToolRefs() []ToolRef {
	seen := make(map[string]bool)
	var refs []ToolRef
	add := func(items ...ToolRef) {
		for _, ref := range items {
			if ref.Name == "" || seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	for _, node := range c.def.Nodes {
		if c.skipped[node.ID] {
			continue
		}
		switch node.Type {
		case TypeTool, TypeToolRetrieval:
			var cfg ToolConfig
			if err := node.DecodeData(&cfg); err == nil {
				add(cfg.Tools...)
			}
		case TypePlugin:
			var cfg PluginConfig
			if err := node.DecodeData(&cfg); err == nil {
				add(cfg.Plugin)
			}
		case TypeRetrieval:
			var cfg RetrievalConfig
			if err := node.DecodeData(&cfg); err == nil {
				add(cfg.Tool)
			}
		case TypeAgent:
			var cfg AgentConfig
			if err := node.DecodeData(&cfg); err == nil {
				add(cfg.Tools...)
			}
		}
	}
	return refs
}

func (c *compiler) resolveModel(nodeID, name string) (model.Model, error) {
	if c.opts.modelProvider == nil {
		return nil, fmt.Errorf("%w: node %q", ErrModelProviderRequired, nodeID)
	}
	m, err := c.opts.modelProvider(name)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q for node %q: %w", name, nodeID, err)
	}
	return m, nil
}

// nodeTools returns the fetched tools for a list of references, keyed
// by function name the way the model addresses them.
func (c *compiler) nodeTools(refs []ToolRef) map[string]tool.Tool {
	tools := make(map[string]tool.Tool, len(refs))
	for _, ref := range refs {
		if t, ok := c.tools[ref.Name]; ok {
			tools[ref.Name] = t
		}
	}
	return tools
}

func (c *compiler) registerNode(node NodeSpec) error {
	addNode := func(fn graph.NodeFunc) {
		c.builder.AddNode(node.ID, fn, graph.WithName(node.Title()))
	}
	switch node.Type {
	case TypeStart:
		addNode(startNodeFunc(node.ID))
	case TypeLLM:
		var cfg LLMConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		m, err := c.resolveModel(node.ID, cfg.Model)
		if err != nil {
			return err
		}
		addNode(llmNodeFunc(node.ID, cfg, m, c.nodeTools(c.boundToolRefs(node.ID))))
	case TypeTool, TypeToolRetrieval:
		var cfg ToolConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		tools := c.nodeTools(cfg.Tools)
		if flagged := flaggedToolNames(cfg.Tools); len(flagged) > 0 {
			addNode(reviewedToolsNodeFunc(node.ID, tools, flagged))
		} else {
			addNode(toolsNodeFunc(node.ID, tools))
		}
	case TypeClassifier:
		var cfg ClassifierConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		m, err := c.resolveModel(node.ID, cfg.Model)
		if err != nil {
			return err
		}
		addNode(classifierNodeFunc(node.ID, cfg, m))
	case TypeIfElse:
		var cfg IfElseConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		addNode(ifElseNodeFunc(node.ID, cfg))
	case TypeCode:
		var cfg CodeConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		executor := c.opts.codeExecutor
		if executor == nil {
			executor = local.New()
		}
		addNode(codeNodeFunc(node.ID, cfg, executor))
	case TypeHuman:
		var cfg HumanConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		addNode(humanNodeFunc(node.ID, cfg, c.humanRoutes(node.ID)))
	case TypeSubgraph:
		var cfg SubgraphConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		addNode(subgraphNodeFunc(node.ID, cfg, c.subworkflowBuilder()))
	case TypeAnswer:
		var cfg AnswerConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		addNode(answerNodeFunc(node.ID, cfg))
	case TypeRetrieval:
		var cfg RetrievalConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		t, ok := c.tools[cfg.Tool.Name]
		if !ok {
			return fmt.Errorf("%w: retrieval node %q", ErrToolProviderRequired, node.ID)
		}
		addNode(retrievalNodeFunc(node.ID, cfg, t))
	case TypeParameterExtractor:
		var cfg ParameterExtractorConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		m, err := c.resolveModel(node.ID, cfg.Model)
		if err != nil {
			return err
		}
		addNode(extractorNodeFunc(node.ID, cfg, m))
	case TypePlugin:
		var cfg PluginConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		t, ok := c.tools[cfg.Plugin.Name]
		if !ok {
			return fmt.Errorf("%w: plugin node %q", ErrToolProviderRequired, node.ID)
		}
		addNode(pluginNodeFunc(node.ID, cfg, t))
	case TypeAgent:
		var cfg AgentConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		m, err := c.resolveModel(node.ID, cfg.Model)
		if err != nil {
			return err
		}
		addNode(agentNodeFunc(node.ID, cfg, m, c.nodeTools(cfg.Tools)))
	case TypeCrew:
		var cfg CrewConfig
		if err := node.DecodeData(&cfg); err != nil {
			return err
		}
		m, err := c.resolveModel(node.ID, cfg.Model)
		if err != nil {
			return err
		}
		addNode(crewNodeFunc(node.ID, cfg, m))
	}
	return nil
}

// boundToolRefs collects the tools an llm node can call: the refs of
// tool nodes reachable forward from it, looking through human review
// nodes.
func (c *compiler) boundToolRefs(llmID string) []ToolRef {
	seen := map[string]bool{llmID: true}
	var refs []ToolRef
	queue := c.targetsOf(llmID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		node, ok := c.def.Node(id)
		if !ok {
			continue
		}
		switch node.Type {
		case TypeTool, TypeToolRetrieval:
			var cfg ToolConfig
			if err := node.DecodeData(&cfg); err == nil {
				refs = append(refs, cfg.Tools...)
			}
		case TypeHuman:
			queue = append(queue, c.targetsOf(id)...)
		}
	}
	return refs
}

func (c *compiler) targetsOf(nodeID string) []string {
	var targets []string
	for _, edge := range c.def.EdgesFrom(nodeID) {
		targets = append(targets, edge.Target)
	}
	return targets
}

// humanRoutes derives a human node's routing targets from its edge
// handles. The unlabeled (or "approved") edge is the approved path.
func (c *compiler) humanRoutes(nodeID string) humanRoutes {
	var routes humanRoutes
	for _, edge := range c.def.EdgesFrom(nodeID) {
		target := c.resolveTarget(edge.Target)
		switch edge.SourceHandle {
		case "", DecisionApproved:
			if routes.approved == "" {
				routes.approved = target
			}
		case DecisionRejected:
			routes.rejected = target
		case DecisionReview, "reentry":
			routes.reentry = target
		}
	}
	return routes
}

// resolveTarget maps edge targets onto graph node IDs: end nodes become
// the virtual end, skipped nodes short-circuit to it.
func (c *compiler) resolveTarget(target string) string {
	if c.end[target] || c.skipped[target] {
		return graph.End
	}
	return target
}

func (c *compiler) wireEdges(node NodeSpec) error {
	edges := c.def.EdgesFrom(node.ID)
	switch node.Type {
	case TypeLLM:
		return c.wireLLMEdges(node.ID, edges)
	case TypeClassifier:
		return c.wireBranchEdges(node.ID, "category_id", OthersCategoryID, edges)
	case TypeIfElse:
		return c.wireBranchEdges(node.ID, "result", "", edges)
	case TypeHuman:
		routes := c.humanRoutes(node.ID)
		if routes.approved == "" {
			routes.approved = graph.End
		}
		c.builder.AddEdge(node.ID, routes.approved)
		return nil
	default:
		if len(edges) == 0 {
			c.builder.SetFinishPoint(node.ID)
			return nil
		}
		c.builder.AddEdge(node.ID, c.resolveTarget(edges[0].Target))
		return nil
	}
}

// wireLLMEdges classifies an llm node's outgoing edges: a tool node
// target catches tool-call turns, a human target intercepts them for
// review, everything else is the plain-answer path.
func (c *compiler) wireLLMEdges(nodeID string, edges []EdgeSpec) error {
	var toolTarget, humanTarget, defaultTarget string
	for _, edge := range edges {
		target, ok := c.def.Node(edge.Target)
		if !ok {
			continue
		}
		switch {
		case (target.Type == TypeTool || target.Type == TypeToolRetrieval) && toolTarget == "":
			toolTarget = edge.Target
		case target.Type == TypeHuman && humanTarget == "" && isToolReview(target):
			humanTarget = edge.Target
		case defaultTarget == "":
			defaultTarget = c.resolveTarget(edge.Target)
		}
	}
	if defaultTarget == "" {
		defaultTarget = graph.End
	}
	if toolTarget == "" && humanTarget == "" {
		c.builder.AddEdge(nodeID, defaultTarget)
		return nil
	}

	pathMap := map[string]string{routeDefault: defaultTarget}
	if toolTarget != "" {
		pathMap[routeCallTools] = toolTarget
	}
	if humanTarget != "" {
		pathMap[routeCallHuman] = humanTarget
	}
	condition := func(ctx context.Context, state graph.State) (string, error) {
		messages, _ := state[graph.StateKeyMessages].([]model.Message)
		_, pending := pendingToolCalls(messages)
		if len(pending) == 0 {
			return routeDefault, nil
		}
		if humanTarget != "" {
			return routeCallHuman, nil
		}
		return routeCallTools, nil
	}
	c.builder.AddConditionalEdges(nodeID, condition, pathMap)
	return nil
}

// wireBranchEdges wires a classifier or ifelse node: source handles
// name the routing keys the node writes under outputKey.
func (c *compiler) wireBranchEdges(nodeID, outputKey, fallbackKey string, edges []EdgeSpec) error {
	pathMap := make(map[string]string, len(edges))
	for _, edge := range edges {
		handle := edge.SourceHandle
		if handle == "" {
			handle = routeDefault
		}
		pathMap[handle] = c.resolveTarget(edge.Target)
	}
	if len(pathMap) == 0 {
		c.builder.SetFinishPoint(nodeID)
		return nil
	}
	condition := func(ctx context.Context, state graph.State) (string, error) {
		result, err := branchResult(nodeID, outputKey, state)
		if err != nil {
			return "", err
		}
		if _, ok := pathMap[result]; ok {
			return result, nil
		}
		if fallbackKey != "" {
			if _, ok := pathMap[fallbackKey]; ok {
				return fallbackKey, nil
			}
		}
		if _, ok := pathMap[routeDefault]; ok {
			return routeDefault, nil
		}
		return graph.End, nil
	}
	c.builder.AddConditionalEdges(nodeID, condition, pathMap)
	return nil
}

func (c *compiler) applyInterrupts() {
	if c.def.Metadata == nil || c.def.Metadata.HumanInTheLoop == nil {
		return
	}
	hitl := c.def.Metadata.HumanInTheLoop
	if len(hitl.InterruptBefore) > 0 {
		c.builder.SetInterruptBefore(hitl.InterruptBefore...)
	}
	if len(hitl.InterruptAfter) > 0 {
		c.builder.SetInterruptAfter(hitl.InterruptAfter...)
	}
}

// subworkflowBuilder compiles nested definitions with the parent's
// providers but never its checkpointer: subgraphs run on fresh threads.
func (c *compiler) subworkflowBuilder() func(ctx context.Context, workflowID string) (*Workflow, error) {
	opts := *c.opts
	opts.saver = nil
	return func(ctx context.Context, workflowID string) (*Workflow, error) {
		if c.opts.loader == nil {
			return nil, fmt.Errorf("%w: no definition loader for subworkflow %q", ErrInvalidDefinition, workflowID)
		}
		def, err := c.opts.loader(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		return Build(ctx, def,
			WithModelProvider(opts.modelProvider),
			WithToolProvider(opts.toolProvider),
			WithCodeExecutor(opts.codeExecutor),
			WithDefinitionLoader(opts.loader),
		)
	}
}

// flaggedToolNames returns the tools whose calls must pass a human
// review pause before they execute.
func flaggedToolNames(refs []ToolRef) map[string]bool {
	flagged := make(map[string]bool)
	for _, ref := range refs {
		if ref.Interrupt {
			flagged[ref.Name] = true
		}
	}
	return flagged
}

func isToolReview(node NodeSpec) bool {
	var cfg HumanConfig
	if err := node.DecodeData(&cfg); err != nil {
		return false
	}
	return cfg.InteractionType == InteractionToolReview
}
