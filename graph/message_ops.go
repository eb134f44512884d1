//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "trpc.group/trpc-go/trpc-workflow-go/model"

// MessageOp is a transformation applied to the full message history by
// MessageReducer. Ops compose when returned as a []MessageOp update.
type MessageOp interface {
	Apply(dst []model.Message) []model.Message
}

// AppendMessages appends messages to the history unconditionally.
type AppendMessages struct{ Items []model.Message }

// Apply implements MessageOp.
func (op AppendMessages) Apply(dst []model.Message) []model.Message {
	return append(dst, op.Items...)
}

// ReplaceLastUser rewrites the content of the most recent user message.
// If no user message exists, one is appended.
type ReplaceLastUser struct{ Content string }

// Apply implements MessageOp.
func (op ReplaceLastUser) Apply(dst []model.Message) []model.Message {
	for i := len(dst) - 1; i >= 0; i-- {
		if dst[i].Role == model.RoleUser {
			out := make([]model.Message, len(dst))
			copy(out, dst)
			out[i].Content = op.Content
			return out
		}
	}
	return append(dst, model.NewUserMessage(op.Content))
}

// RemoveAllMessages clears the history.
type RemoveAllMessages struct{}

// Apply implements MessageOp.
func (RemoveAllMessages) Apply(_ []model.Message) []model.Message { return nil }
