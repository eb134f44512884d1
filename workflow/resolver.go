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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/graph"
)

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolve replaces ${path.to.value} references in the template with
// values from node_outputs. The first path segment is a node ID, the
// rest walks into that node's result. Unresolvable references resolve
// to the empty string.
func Resolve(template string, state graph.State) string {
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		value, ok := Lookup(path, state)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// Lookup resolves a dotted path against node_outputs and reports
// whether every segment was found.
func Lookup(path string, state graph.State) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = nodeOutputs(state)
	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ResolveForCode resolves variables for embedding inside generated
// code: values are normalized from full-width to half-width characters
// and quote/backslash escaped so the substitution cannot break out of
// a string literal.
func ResolveForCode(template string, state graph.State) string {
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		value, ok := Lookup(path, state)
		if !ok {
			return ""
		}
		return escapeForCode(normalizeWidth(stringify(value)))
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// normalizeWidth maps full-width ASCII variants (U+FF01..U+FF5E) and
// the ideographic space to their half-width equivalents.
func normalizeWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 0x3000:
			b.WriteRune(' ')
		case r >= 0xFF01 && r <= 0xFF5E:
			b.WriteRune(r - 0xFEE0)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeForCode(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return replacer.Replace(s)
}
