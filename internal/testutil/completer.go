// Package testutil provides shared test helpers: a scripted model client
// and an SSE stream parser.
package testutil

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// scriptStep is one scripted model response (or failure).
type scriptStep struct {
	resp *openai.ChatCompletion
	err  error
}

// MockCompleter provides deterministic completion responses for testing.
// Steps are consumed in order; Repeat keeps replaying the last step so a
// test can simulate a model that requests tool calls forever.
//
// Thread-safe, though the worker calls it from a single goroutine.
type MockCompleter struct {
	mu     sync.Mutex
	script []scriptStep
	repeat bool

	// Calls records every request the engine issued, in order.
	Calls []openai.ChatCompletionNewParams
}

// NewMockCompleter creates an empty scripted completer.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// EnqueueText scripts a plain text response with no tool calls.
func (m *MockCompleter) EnqueueText(content string) {
	m.enqueue(scriptStep{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: content},
		}},
	}})
}

// EnqueueToolCalls scripts a response requesting the given tool calls.
func (m *MockCompleter) EnqueueToolCalls(calls ...openai.ChatCompletionMessageToolCall) {
	m.enqueue(scriptStep{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{ToolCalls: calls},
		}},
	}})
}

// EnqueueError scripts a failed model call.
func (m *MockCompleter) EnqueueError(err error) {
	m.enqueue(scriptStep{err: err})
}

// Repeat makes the completer replay its last scripted step indefinitely
// once the script is exhausted.
func (m *MockCompleter) Repeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = true
}

func (m *MockCompleter) enqueue(s scriptStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, s)
}

// CallCount returns the number of completion requests received.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Complete implements engine.Completer.
func (m *MockCompleter) Complete(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, params)

	if len(m.script) == 0 {
		return &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Content: ""},
			}},
		}, nil
	}

	step := m.script[0]
	if len(m.script) > 1 || !m.repeat {
		m.script = m.script[1:]
	}
	return step.resp, step.err
}

// ToolCall builds a tool call value for scripting.
func ToolCall(id, name, arguments string) openai.ChatCompletionMessageToolCall {
	return openai.ChatCompletionMessageToolCall{
		ID: id,
		Function: openai.ChatCompletionMessageToolCallFunction{
			Name:      name,
			Arguments: arguments,
		},
	}
}
