// Package sse provides Server-Sent Events utilities for streaming
// responses.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// writeData writes one named event, handling multi-line payloads. The
// SSE format requires each line of data to carry its own "data: "
// prefix; a blank line terminates the event.
func (w *Writer) writeData(event, payload string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for _, line := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// writeJSON marshals a payload and sends it as one event.
func (w *Writer) writeJSON(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return w.writeData(event, string(data))
}

// WriteChunk sends one streaming content fragment.
func (w *Writer) WriteChunk(content string) error {
	return w.writeJSON("chunk", map[string]string{"content": content})
}

// WriteDone terminates a successful stream. The empty content field is
// part of the wire contract; clients key on the event name.
func (w *Writer) WriteDone() error {
	return w.writeJSON("done", map[string]string{"content": ""})
}

// WriteError terminates a failed stream with a human-readable message.
func (w *Writer) WriteError(message string) error {
	return w.writeJSON("error", map[string]string{"error": message})
}
