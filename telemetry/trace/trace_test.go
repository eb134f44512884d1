//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerDefaultsToNoop(t *testing.T) {
	require.NotNil(t, Tracer)
	_, span := Tracer.Start(context.Background(), "test-span")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestTracesEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", tracesEndpoint())

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	assert.Equal(t, "collector:4317", tracesEndpoint())

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "traces:4317")
	assert.Equal(t, "traces:4317", tracesEndpoint())
}

func TestOptions(t *testing.T) {
	opts := &options{}
	WithEndpoint("example.com:4317")(opts)
	WithHeaders(map[string]string{"authorization": "token"})(opts)
	assert.Equal(t, "example.com:4317", opts.tracesEndpoint)
	assert.Equal(t, "token", opts.headers["authorization"])
}
