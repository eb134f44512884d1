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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/tool"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

type scripted struct {
	content   string
	toolCalls []model.ToolCall
}

type fakeMemberModel struct {
	turns []scripted
	calls int
}

func (f *fakeMemberModel) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	turn := f.turns[len(f.turns)-1]
	if f.calls < len(f.turns) {
		turn = f.turns[f.calls]
	}
	f.calls++

	msg := model.NewAssistantMessage(turn.content)
	msg.ToolCalls = turn.toolCalls
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{Done: true, Choices: []model.Choice{{Message: msg}}}
	close(ch)
	return ch, nil
}

func (f *fakeMemberModel) Info() model.Info { return model.Info{Name: "fake-member"} }

func provider(m model.Model) workflow.ModelProvider {
	return func(name string) (model.Model, error) { return m, nil }
}

func call(id, name, args string) model.ToolCall {
	return model.ToolCall{
		ID:   id,
		Type: "function",
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: []byte(args),
		},
	}
}

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	require.NotEmpty(t, events)
	return events
}

func lastOf(t *testing.T, events []*event.Event) *event.Event {
	t.Helper()
	last := events[len(events)-1]
	require.NotNil(t, last.Response)
	return last
}

func TestSequentialTeam(t *testing.T) {
	cfg := &Config{
		ID:   "team-seq",
		Name: "pipeline",
		Mode: ModeSequential,
		Members: []Member{
			{ID: "draft", Name: "Drafter", Type: TypeRoot, Model: "m"},
			{ID: "polish", Name: "Polisher", Type: TypeWorker, Source: "draft", Model: "m"},
		},
	}
	fm := &fakeMemberModel{turns: []scripted{
		{content: "rough draft"},
		{content: "polished result"},
	}}
	tm, err := Build(context.Background(), cfg, WithModelProvider(provider(fm)))
	require.NoError(t, err)

	events, err := tm.Execute(context.Background(), "write a note", &graph.Invocation{})
	require.NoError(t, err)
	final := lastOf(t, collect(t, events))
	assert.Equal(t, graph.ObjectTypeGraphComplete, final.Response.Object)
	assert.Equal(t, "polished result", final.Response.Choices[0].Message.Content)
	assert.Equal(t, 2, fm.calls)
}

func TestHierarchicalTeam(t *testing.T) {
	cfg := &Config{
		ID:   "team-h",
		Name: "research team",
		Mode: ModeHierarchical,
		Members: []Member{
			{ID: "lead", Name: "Lead", Type: TypeRoot, Model: "m"},
			{ID: "researcher", Name: "Researcher", Type: TypeWorker, Source: "lead", Model: "m"},
		},
	}
	fm := &fakeMemberModel{turns: []scripted{
		{toolCalls: []model.ToolCall{call("r1", RouteToolName, `{"next":"Researcher","task":"dig into the topic"}`)}},
		{content: "findings: all clear"},
		{toolCalls: []model.ToolCall{call("r2", RouteToolName, `{"next":"FINISH","task":""}`)}},
		{content: "final summary"},
	}}
	tm, err := Build(context.Background(), cfg, WithModelProvider(provider(fm)))
	require.NoError(t, err)

	events, err := tm.Execute(context.Background(), "investigate", &graph.Invocation{})
	require.NoError(t, err)
	final := lastOf(t, collect(t, events))
	assert.Equal(t, graph.ObjectTypeGraphComplete, final.Response.Object)
	assert.Equal(t, "final summary", final.Response.Choices[0].Message.Content)
	assert.Equal(t, 4, fm.calls)
}

func TestHierarchicalUnknownMemberIsFatal(t *testing.T) {
	cfg := &Config{
		ID:   "team-bad",
		Name: "bad routing",
		Mode: ModeHierarchical,
		Members: []Member{
			{ID: "lead", Name: "Lead", Type: TypeRoot, Model: "m"},
			{ID: "worker", Name: "Worker", Type: TypeWorker, Source: "lead", Model: "m"},
		},
	}
	fm := &fakeMemberModel{turns: []scripted{
		{toolCalls: []model.ToolCall{call("r1", RouteToolName, `{"next":"Ghost","task":"x"}`)}},
	}}
	tm, err := Build(context.Background(), cfg, WithModelProvider(provider(fm)))
	require.NoError(t, err)

	events, err := tm.Execute(context.Background(), "go", &graph.Invocation{})
	require.NoError(t, err)
	all := collect(t, events)

	var sawRoutingError bool
	for _, evt := range all {
		if evt.Response != nil && evt.Response.Error != nil {
			sawRoutingError = true
			assert.Contains(t, evt.Response.Error.Message, "unknown team member")
		}
	}
	assert.True(t, sawRoutingError)
}

func TestChatbotRequiresSingleMember(t *testing.T) {
	cfg := &Config{
		ID:   "bot",
		Name: "bot",
		Mode: ModeChatbot,
		Members: []Member{
			{ID: "a", Type: TypeRoot, Model: "m"},
			{ID: "b", Type: TypeWorker, Source: "a", Model: "m"},
		},
	}
	_, err := Build(context.Background(), cfg, WithModelProvider(provider(&fakeMemberModel{turns: []scripted{{}}})))
	assert.ErrorIs(t, err, ErrInvalidTeam)
}

func TestChatbotRun(t *testing.T) {
	cfg := &Config{
		ID:      "bot",
		Name:    "bot",
		Mode:    ModeChatbot,
		Members: []Member{{ID: "assistant", Type: TypeRoot, Model: "m"}},
	}
	fm := &fakeMemberModel{turns: []scripted{{content: "hi there"}}}
	tm, err := Build(context.Background(), cfg, WithModelProvider(provider(fm)))
	require.NoError(t, err)

	events, err := tm.Execute(context.Background(), "hello", &graph.Invocation{})
	require.NoError(t, err)
	final := lastOf(t, collect(t, events))
	assert.Equal(t, "hi there", final.Response.Choices[0].Message.Content)
}

func TestRagbotBindsOnlyUploadBackedTools(t *testing.T) {
	c := &teamCompiler{cfg: &Config{Mode: ModeRagbot}}
	m := Member{
		ID:      "rag",
		Uploads: []string{"handbook"},
		Tools: []workflow.ToolRef{
			{ID: "handbook", Name: "search_handbook"},
			{ID: "web", Name: "web_search"},
		},
	}
	refs := c.memberToolRefs(m)
	require.Len(t, refs, 1)
	assert.Equal(t, "search_handbook", refs[0].Name)
}

type echoMemberTool struct{ name string }

func (e *echoMemberTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: e.name, Description: "echo"}
}

func (e *echoMemberTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	return "echo:" + string(jsonArgs), nil
}

type memberToolProvider struct{ tools map[string]tool.Tool }

func (p *memberToolProvider) FetchTool(ctx context.Context, ref workflow.ToolRef) (tool.Tool, error) {
	t, ok := p.tools[ref.Name]
	if !ok {
		return nil, fmt.Errorf("no tool %q", ref.Name)
	}
	return t, nil
}

func TestWorkerToolLoop(t *testing.T) {
	cfg := &Config{
		ID:   "bot",
		Name: "bot",
		Mode: ModeChatbot,
		Members: []Member{{
			ID:    "assistant",
			Type:  TypeRoot,
			Model: "m",
			Tools: []workflow.ToolRef{{ID: "t1", Name: "lookup"}},
		}},
	}
	fm := &fakeMemberModel{turns: []scripted{
		{toolCalls: []model.ToolCall{call("c1", "lookup", `{"q":"x"}`)}},
		{content: "answer from tool"},
	}}
	tp := &memberToolProvider{tools: map[string]tool.Tool{"lookup": &echoMemberTool{name: "lookup"}}}

	tm, err := Build(context.Background(), cfg,
		WithModelProvider(provider(fm)),
		WithToolProvider(tp),
	)
	require.NoError(t, err)

	events, err := tm.Execute(context.Background(), "look it up", &graph.Invocation{})
	require.NoError(t, err)
	final := lastOf(t, collect(t, events))
	assert.Equal(t, "answer from tool", final.Response.Choices[0].Message.Content)
	assert.Equal(t, 2, fm.calls)
}

func TestAskHumanInterruptsAndResumes(t *testing.T) {
	cfg := &Config{
		ID:      "bot",
		Name:    "bot",
		Mode:    ModeChatbot,
		Members: []Member{{ID: "assistant", Type: TypeRoot, Model: "m"}},
	}
	fm := &fakeMemberModel{turns: []scripted{
		{toolCalls: []model.ToolCall{call("h1", AskHumanToolName, `{"question":"which region?"}`)}},
		{content: "deployed to eu-west"},
	}}
	saver := inmemory.NewSaver()
	tm, err := Build(context.Background(), cfg,
		WithModelProvider(provider(fm)),
		WithCheckpointSaver(saver),
	)
	require.NoError(t, err)

	inv := &graph.Invocation{LineageID: "team-run"}
	events, err := tm.Execute(context.Background(), "deploy", inv)
	require.NoError(t, err)
	all := collect(t, events)

	var interrupted *event.Event
	for _, evt := range all {
		if evt.Response != nil && evt.Response.Object == graph.ObjectTypeInterrupt {
			interrupted = evt
		}
	}
	require.NotNil(t, interrupted)
	md, ok := graph.InterruptMetadataFromEvent(interrupted)
	require.True(t, ok)
	payload, ok := md.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "which region?", payload["question"])

	resumed, err := tm.Resume(context.Background(), inv, "eu-west")
	require.NoError(t, err)
	final := lastOf(t, collect(t, resumed))
	assert.Equal(t, graph.ObjectTypeGraphComplete, final.Response.Object)
	assert.Equal(t, "deployed to eu-west", final.Response.Choices[0].Message.Content)
}

func TestFlaggedToolMarksInterruptBefore(t *testing.T) {
	cfg := &Config{
		ID:   "bot",
		Name: "bot",
		Mode: ModeChatbot,
		Members: []Member{{
			ID:    "assistant",
			Type:  TypeRoot,
			Model: "m",
			Tools: []workflow.ToolRef{{ID: "t1", Name: "deploy", Interrupt: true}},
		}},
	}
	tp := &memberToolProvider{tools: map[string]tool.Tool{"deploy": &echoMemberTool{name: "deploy"}}}
	tm, err := Build(context.Background(), cfg,
		WithModelProvider(provider(&fakeMemberModel{turns: []scripted{{}}})),
		WithToolProvider(tp),
	)
	require.NoError(t, err)
	assert.True(t, tm.Graph().InterruptBefore("assistant.tools"))
}
