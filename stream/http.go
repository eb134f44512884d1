//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package stream

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Registry resolves workflow IDs to compiled workflows.
type Registry interface {
	Workflow(id string) (*workflow.Workflow, bool)
}

// ExecuteRequest starts a workflow run.
type ExecuteRequest struct {
	Input     string `json:"input"`
	LineageID string `json:"lineage_id,omitempty"`
}

// ResumeRequest continues an interrupted run. The decision fields
// follow the unified typed protocol: interaction_type is advisory, the
// pending node decides how to apply the decision.
type ResumeRequest struct {
	LineageID       string         `json:"lineage_id"`
	InteractionType string         `json:"interaction_type,omitempty"`
	Decision        string         `json:"decision"`
	ToolMessage     string         `json:"tool_message,omitempty"`
	Content         string         `json:"content,omitempty"`
	Arguments       map[string]any `json:"arguments,omitempty"`
}

// Server exposes workflow execution and resume over HTTP with SSE
// responses.
type Server struct {
	registry Registry
	router   *mux.Router
}

// NewServer builds the HTTP surface for a workflow registry.
func NewServer(registry Registry) *Server {
	s := &Server{registry: registry, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/workflows/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/workflows/{id}/resume", s.handleResume).Methods(http.MethodPost)
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.registry.Workflow(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inv := &graph.Invocation{LineageID: req.LineageID}
	events, err := wf.Execute(r.Context(), req.Input, inv)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := WriteSSE(w, Translate(events, wf.NodeLabel)); err != nil {
		log.Errorf("stream execute: %v", err)
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.registry.Workflow(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LineageID == "" {
		http.Error(w, "lineage_id is required", http.StatusBadRequest)
		return
	}

	inv := &graph.Invocation{LineageID: req.LineageID}
	decision := workflow.Decision{
		InteractionType: req.InteractionType,
		Decision:        req.Decision,
		ToolMessage:     req.ToolMessage,
		Content:         req.Content,
		Arguments:       req.Arguments,
	}
	events, err := wf.Resume(r.Context(), inv, decision)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := WriteSSE(w, Translate(events, wf.NodeLabel)); err != nil {
		log.Errorf("stream resume: %v", err)
	}
}
