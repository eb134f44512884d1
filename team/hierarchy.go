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
	"fmt"
	"strings"
)

// Member types.
const (
	TypeRoot   = "root"
	TypeLeader = "leader"
	TypeWorker = "worker"
)

// Team flavors.
const (
	ModeHierarchical = "hierarchical"
	ModeSequential   = "sequential"
	ModeChatbot      = "chatbot"
	ModeRagbot       = "ragbot"
)

// orderMembers validates the member forest and returns members in
// topological order: every member drains only after its source parent.
// Members caught in a source cycle never drain and fail validation.
func orderMembers(members []Member) ([]Member, error) {
	byID := make(map[string]Member, len(members))
	rootCount := 0
	for _, m := range members {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: member with empty id", ErrInvalidTeam)
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate member id %q", ErrInvalidTeam, m.ID)
		}
		byID[m.ID] = m
		if m.Type == TypeRoot {
			rootCount++
			if m.Source != "" {
				return nil, fmt.Errorf("%w: root member %q has a source", ErrInvalidTeam, m.ID)
			}
		}
	}
	if rootCount != 1 {
		return nil, fmt.Errorf("%w: expected exactly one root member, got %d", ErrInvalidTeam, rootCount)
	}
	for _, m := range members {
		if m.Type == TypeRoot {
			continue
		}
		if m.Source == "" {
			return nil, fmt.Errorf("%w: member %q has no source", ErrInvalidTeam, m.ID)
		}
		if _, ok := byID[m.Source]; !ok {
			return nil, fmt.Errorf("%w: member %q names unknown source %q", ErrInvalidTeam, m.ID, m.Source)
		}
	}

	drained := make(map[string]bool, len(members))
	ordered := make([]Member, 0, len(members))
	for len(ordered) < len(members) {
		progressed := false
		for _, m := range members {
			if drained[m.ID] {
				continue
			}
			if m.Type == TypeRoot || drained[m.Source] {
				drained[m.ID] = true
				ordered = append(ordered, m)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, m := range members {
				if !drained[m.ID] {
					stuck = append(stuck, m.ID)
				}
			}
			return nil, fmt.Errorf("%w: member cycle involving %s", ErrInvalidTeam, strings.Join(stuck, ", "))
		}
	}
	return ordered, nil
}

// childrenOf returns the direct children of a member in the given
// topological order.
func childrenOf(ordered []Member, parentID string) []Member {
	var children []Member
	for _, m := range ordered {
		if m.Source == parentID {
			children = append(children, m)
		}
	}
	return children
}
