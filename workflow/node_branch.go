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
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// OthersCategoryID is the fallback category every classifier node
// carries implicitly. Unparseable or unmatched model output routes
// here instead of failing the run.
const OthersCategoryID = "others_category"

// Category is one classification target of a classifier node.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClassifierConfig configures a classifier node.
type ClassifierConfig struct {
	Model      string     `json:"model"`
	Query      string     `json:"query"`
	Categories []Category `json:"categories"`
}

const classifierInstruction = "You are a text classifier. Assign the user input to exactly one " +
	"of the given categories. Respond with a single JSON object of the form " +
	`{"keywords": ["..."], "category_name": "..."} and nothing else.`

// classifierNodeFunc builds the node function for a classifier node.
// The winning category ID is written to node_outputs and drives the
// node's conditional edges.
func classifierNodeFunc(nodeID string, cfg ClassifierConfig, m model.Model) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		query := Resolve(cfg.Query, state)
		if query == "" {
			query, _ = state[graph.StateKeyUserInput].(string)
		}

		var sb strings.Builder
		sb.WriteString(classifierInstruction)
		sb.WriteString("\nCategories:\n")
		for _, c := range cfg.Categories {
			sb.WriteString("- " + c.Name + "\n")
		}

		request := &model.Request{Messages: []model.Message{
			model.NewSystemMessage(sb.String()),
			model.NewUserMessage(query),
		}}
		content, _, err := callModel(ctx, state, nodeID, m, request)
		if err != nil {
			return nil, err
		}

		categoryID, categoryName, keywords := matchCategory(content, cfg.Categories)
		return outputUpdate(nodeID, map[string]any{
			"category_id":   categoryID,
			"category_name": categoryName,
			"keywords":      keywords,
		}), nil
	}
}

// matchCategory parses the model output and maps the predicted name to
// a declared category, case-insensitively. Anything unparseable or
// unmatched falls back to the others category.
func matchCategory(content string, categories []Category) (string, string, []string) {
	parsed, err := parseJSONObject(content)
	if err != nil {
		return OthersCategoryID, "", nil
	}
	var keywords []string
	if raw, ok := parsed["keywords"].([]any); ok {
		for _, kw := range raw {
			if s, ok := kw.(string); ok {
				keywords = append(keywords, s)
			}
		}
	}
	name, _ := parsed["category_name"].(string)
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(name), c.Name) {
			return c.ID, c.Name, keywords
		}
	}
	return OthersCategoryID, name, keywords
}

// Condition operators accepted by ifelse nodes.
const (
	OpContains    = "contains"
	OpNotContains = "notContains"
	OpStartWith   = "startWith"
	OpEndWith     = "endWith"
	OpEqual       = "equal"
	OpNotEqual    = "notEqual"
	OpEmpty       = "empty"
	OpNotEmpty    = "notEmpty"
)

// Condition compares one state variable against a literal.
type Condition struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
}

// Case is one branch of an ifelse node. Conditions combine under the
// logical operator; an else case has none and only fires when no other
// case matched.
type Case struct {
	ID              string      `json:"id"`
	LogicalOperator string      `json:"logical_operator,omitempty"`
	Conditions      []Condition `json:"conditions,omitempty"`
	IsElse          bool        `json:"is_else,omitempty"`
}

// IfElseConfig configures an ifelse node.
type IfElseConfig struct {
	Cases []Case `json:"cases"`
}

// ifElseNodeFunc evaluates cases in declaration order and records the
// first matching case ID. The else case fires only when every other
// case failed.
func ifElseNodeFunc(nodeID string, cfg IfElseConfig) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		var elseID string
		result := ""
		for _, c := range cfg.Cases {
			if c.IsElse {
				if elseID == "" {
					elseID = c.ID
				}
				continue
			}
			if evaluateCase(c, state) {
				result = c.ID
				break
			}
		}
		if result == "" {
			result = elseID
		}
		return outputUpdate(nodeID, map[string]any{"result": result}), nil
	}
}

func evaluateCase(c Case, state graph.State) bool {
	if len(c.Conditions) == 0 {
		return false
	}
	isOr := strings.EqualFold(c.LogicalOperator, "or")
	for _, cond := range c.Conditions {
		matched := evaluateCondition(cond, state)
		if isOr && matched {
			return true
		}
		if !isOr && !matched {
			return false
		}
	}
	return !isOr
}

func evaluateCondition(cond Condition, state graph.State) bool {
	path := strings.TrimSuffix(strings.TrimPrefix(cond.Variable, "${"), "}")
	value, found := Lookup(path, state)
	actual := ""
	if found {
		actual = stringify(value)
	}
	switch cond.Operator {
	case OpContains:
		return strings.Contains(actual, cond.Value)
	case OpNotContains:
		return !strings.Contains(actual, cond.Value)
	case OpStartWith:
		return strings.HasPrefix(actual, cond.Value)
	case OpEndWith:
		return strings.HasSuffix(actual, cond.Value)
	case OpEqual:
		return actual == cond.Value
	case OpNotEqual:
		return actual != cond.Value
	case OpEmpty:
		return actual == ""
	case OpNotEmpty:
		return actual != ""
	default:
		return false
	}
}

// branchResult reads the routing key a branch node recorded for its
// conditional edges.
func branchResult(nodeID, key string, state graph.State) (string, error) {
	value, ok := Lookup(nodeID+"."+key, state)
	if !ok {
		return "", fmt.Errorf("node %q produced no %s", nodeID, key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("node %q produced non-string %s", nodeID, key)
	}
	return s, nil
}
