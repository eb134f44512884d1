//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory checkpoint saver, suitable for
// tests and single-process runs.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

// Saver keeps checkpoints in process memory, keyed by lineage,
// namespace and checkpoint ID.
type Saver struct {
	mu            sync.RWMutex
	lineages      map[string]map[string]map[string]*graph.CheckpointTuple
	writes        map[string]map[string]map[string][]graph.PendingWrite
	maxPerLineage int
}

// NewSaver creates an empty in-memory saver.
func NewSaver() *Saver {
	return &Saver{
		lineages:      make(map[string]map[string]map[string]*graph.CheckpointTuple),
		writes:        make(map[string]map[string]map[string][]graph.PendingWrite),
		maxPerLineage: graph.DefaultMaxCheckpointsPerLineage,
	}
}

// WithMaxCheckpointsPerLineage bounds retention per lineage/namespace.
func (s *Saver) WithMaxCheckpointsPerLineage(max int) *Saver {
	s.maxPerLineage = max
	return s
}

// Get returns the checkpoint addressed by config, or nil.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil || tuple == nil {
		return nil, err
	}
	return tuple.Checkpoint, nil
}

// GetTuple returns the checkpoint tuple addressed by config. An empty
// checkpoint ID selects the newest checkpoint; an empty namespace
// searches across namespaces.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)
	checkpointID := graph.GetCheckpointID(config)

	namespaces, ok := s.lineages[lineageID]
	if !ok {
		return nil, nil
	}

	var found *graph.CheckpointTuple
	var foundNS string
	if checkpointID == "" {
		found, foundNS = latestTuple(namespaces, namespace)
	} else {
		found, foundNS = tupleByID(namespaces, namespace, checkpointID)
	}
	if found == nil {
		return nil, nil
	}
	return s.resultTuple(found, lineageID, foundNS), nil
}

func latestTuple(namespaces map[string]map[string]*graph.CheckpointTuple,
	namespace string) (*graph.CheckpointTuple, string) {

	var latest *graph.CheckpointTuple
	var latestNS string
	var latestTime time.Time
	for ns, checkpoints := range namespaces {
		if namespace != "" && ns != namespace {
			continue
		}
		for _, tuple := range checkpoints {
			if tuple.Checkpoint != nil && tuple.Checkpoint.Timestamp.After(latestTime) {
				latestTime = tuple.Checkpoint.Timestamp
				latest = tuple
				latestNS = ns
			}
		}
	}
	return latest, latestNS
}

func tupleByID(namespaces map[string]map[string]*graph.CheckpointTuple,
	namespace, checkpointID string) (*graph.CheckpointTuple, string) {

	for ns, checkpoints := range namespaces {
		if namespace != "" && ns != namespace {
			continue
		}
		if tuple, ok := checkpoints[checkpointID]; ok {
			return tuple, ns
		}
	}
	return nil, ""
}

func (s *Saver) resultTuple(tuple *graph.CheckpointTuple, lineageID, namespace string) *graph.CheckpointTuple {
	result := &graph.CheckpointTuple{
		Config:       tuple.Config,
		Checkpoint:   tuple.Checkpoint.Copy(),
		Metadata:     tuple.Metadata,
		ParentConfig: tuple.ParentConfig,
	}
	if writes, ok := s.writes[lineageID][namespace][tuple.Checkpoint.ID]; ok {
		result.PendingWrites = append([]graph.PendingWrite(nil), writes...)
	}
	return result
}

// List returns checkpoints for a lineage, newest first.
func (s *Saver) List(ctx context.Context, config map[string]any,
	filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)

	var results []*graph.CheckpointTuple
	for ns, checkpoints := range s.lineages[lineageID] {
		if namespace != "" && ns != namespace {
			continue
		}
		for _, tuple := range checkpoints {
			if !passesFilter(tuple, checkpoints, filter) {
				continue
			}
			results = append(results, s.resultTuple(tuple, lineageID, ns))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Checkpoint.Timestamp.After(results[j].Checkpoint.Timestamp)
	})
	if filter != nil && filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func passesFilter(tuple *graph.CheckpointTuple,
	checkpoints map[string]*graph.CheckpointTuple, filter *graph.CheckpointFilter) bool {

	if filter == nil {
		return true
	}
	if beforeID := graph.GetCheckpointID(filter.Before); beforeID != "" {
		before, ok := checkpoints[beforeID]
		if !ok || !tuple.Checkpoint.Timestamp.Before(before.Checkpoint.Timestamp) {
			return false
		}
	}
	if filter.Metadata != nil {
		if tuple.Metadata == nil || tuple.Metadata.Extra == nil {
			return false
		}
		for k, v := range filter.Metadata {
			if tuple.Metadata.Extra[k] != v {
				return false
			}
		}
	}
	return true
}

// Put stores a checkpoint and returns the config addressing it.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(req.Config, req.Checkpoint, req.Metadata, nil)
}

// PutWrites stores pending writes for an existing checkpoint.
func (s *Saver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lineageID := graph.GetLineageID(req.Config)
	checkpointID := graph.GetCheckpointID(req.Config)
	if lineageID == "" || checkpointID == "" {
		return graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(req.Config)
	s.storeWrites(lineageID, namespace, checkpointID, req.Writes)
	return nil
}

// PutFull stores a checkpoint together with its pending writes.
func (s *Saver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(req.Config, req.Checkpoint, req.Metadata, req.PendingWrites)
}

func (s *Saver) store(config map[string]any, ckpt *graph.Checkpoint,
	meta *graph.CheckpointMetadata, writes []graph.PendingWrite) (map[string]any, error) {

	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if ckpt == nil {
		return nil, graph.ErrCheckpointNotFound
	}
	namespace := graph.GetNamespace(config)

	if s.lineages[lineageID] == nil {
		s.lineages[lineageID] = make(map[string]map[string]*graph.CheckpointTuple)
	}
	if s.lineages[lineageID][namespace] == nil {
		s.lineages[lineageID][namespace] = make(map[string]*graph.CheckpointTuple)
	}

	updatedConfig := graph.CreateCheckpointConfig(lineageID, ckpt.ID, namespace)
	tuple := &graph.CheckpointTuple{
		Config:     updatedConfig,
		Checkpoint: ckpt.Copy(),
		Metadata:   meta,
	}
	if parentID := ckpt.ParentCheckpointID; parentID != "" {
		tuple.ParentConfig = graph.CreateCheckpointConfig(lineageID, parentID, namespace)
	}
	s.lineages[lineageID][namespace][ckpt.ID] = tuple

	if len(writes) > 0 {
		s.storeWrites(lineageID, namespace, ckpt.ID, writes)
	}
	s.evictOld(lineageID, namespace)
	return updatedConfig, nil
}

func (s *Saver) storeWrites(lineageID, namespace, checkpointID string, writes []graph.PendingWrite) {
	if s.writes[lineageID] == nil {
		s.writes[lineageID] = make(map[string]map[string][]graph.PendingWrite)
	}
	if s.writes[lineageID][namespace] == nil {
		s.writes[lineageID][namespace] = make(map[string][]graph.PendingWrite)
	}
	s.writes[lineageID][namespace][checkpointID] = append([]graph.PendingWrite(nil), writes...)
}

func (s *Saver) evictOld(lineageID, namespace string) {
	checkpoints := s.lineages[lineageID][namespace]
	if len(checkpoints) <= s.maxPerLineage {
		return
	}
	ids := make([]string, 0, len(checkpoints))
	for id := range checkpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return checkpoints[ids[i]].Checkpoint.Timestamp.Before(checkpoints[ids[j]].Checkpoint.Timestamp)
	})
	for _, id := range ids[:len(ids)-s.maxPerLineage] {
		delete(checkpoints, id)
		delete(s.writes[lineageID][namespace], id)
	}
}

// DeleteLineage drops all checkpoints and writes for a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lineages, lineageID)
	delete(s.writes, lineageID)
	return nil
}

// Close clears all stored data.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineages = make(map[string]map[string]map[string]*graph.CheckpointTuple)
	s.writes = make(map[string]map[string]map[string][]graph.PendingWrite)
	return nil
}
