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
	"fmt"
	"net/http"
)

// WriteSSE streams chat frames to the client as server-sent events,
// one `data: <json>` line per frame, flushed immediately.
func WriteSSE(w http.ResponseWriter, frames <-chan ChatResponse) error {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	for frame := range frames {
		raw, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
