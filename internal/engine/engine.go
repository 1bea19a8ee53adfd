// Package engine drives the multi-round completion loop for one job:
// model call, tool execution, tool results, model call again, until the
// model answers without tool calls or the round cap is hit.
//
// The engine emits its output as typed events on the worker's shared
// output channel. For every job it is handed it emits zero or more chunk
// events followed by exactly one terminal event (done or error); the
// router and the streaming boundary both rely on that contract.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/tools"
)

// MaxToolRounds caps the number of tool rounds per job. Hitting the cap
// is not an error: the loop stops and whatever final content is present
// gets emitted, with a warning in the log.
const MaxToolRounds = 1024

// streamChunkRunes is the granularity of chunk events when the final
// content is replayed to subscribers. Consumers must tolerate any
// chunking, so the batch size only trades event count against latency.
const streamChunkRunes = 48

// Completer issues one non-streaming chat completion request. The worker
// backs it with the real API client; tests script it.
type Completer interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Engine executes jobs. Read-only after construction and safe to share,
// though in practice only the single worker goroutine calls Run.
type Engine struct {
	client    Completer
	registry  *tools.Registry
	logger    log.Logger
	tracer    trace.Tracer
	maxRounds int
}

// New creates an engine.
func New(client Completer, registry *tools.Registry, logger log.Logger) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Engine{
		client:    client,
		registry:  registry,
		logger:    logger,
		tracer:    otel.Tracer("github.com/chatqd/chatqd/internal/engine"),
		maxRounds: MaxToolRounds,
	}, nil
}

// Run processes one job and emits its events on out. It always emits
// exactly one terminal event, never blocks on anything but the model
// call and the out channel, and never panics across the boundary.
func (e *Engine) Run(ctx context.Context, j *job.Job, out chan<- job.Event) {
	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("job.id", j.ID.String())))
	defer span.End()

	// PREPARING: fail fast on malformed payloads before any model call.
	if err := j.Validate(); err != nil {
		e.logger.Error("job rejected during preparation", "job_id", j.ID, "error", err)
		out <- job.Event{JobID: j.ID, Type: job.EventError, Data: fmt.Sprintf("Invalid job: %v", err)}
		return
	}

	prompt := e.registry.SystemPrompt(j.Resources)
	messages := toMessageParams(prepareMessages(j.CloneMessages(), prompt))
	toolDefs := e.registry.Build(j.Resources)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(j.Model),
		Temperature: openai.Float(j.Temperature),
	}
	// Omit the tools field entirely when no resource contributes tools.
	// Some OpenAI-compatible backends reject an empty tool list.
	if len(toolDefs) > 0 {
		params.Tools = toolDefs
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("auto"),
		}
	}

	if prompt != "" {
		e.logger.Info("injected resource system prompt", "job_id", j.ID, "chars", len(prompt))
	}
	e.logger.Info("processing job", "job_id", j.ID, "model", j.Model, "tools", len(toolDefs))

	var msg openai.ChatCompletionMessage
	rounds := 0
	for {
		params.Messages = messages

		resp, err := e.completeRound(ctx, params, rounds)
		if err != nil {
			msg := describeModelError(err)
			e.logger.Error("job failed", "job_id", j.ID, "round", rounds, "error", msg)
			span.RecordError(err)
			out <- job.Event{JobID: j.ID, Type: job.EventError, Data: msg}
			return
		}
		if len(resp.Choices) == 0 {
			out <- job.Event{JobID: j.ID, Type: job.EventError, Data: "API error: model returned no choices"}
			return
		}
		msg = resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			break
		}
		if rounds >= e.maxRounds {
			e.logger.Warn("tool round cap reached, returning best-effort answer",
				"job_id", j.ID, "rounds", rounds)
			break
		}
		rounds++

		e.logger.Info("tool calls requested", "job_id", j.ID, "round", rounds, "calls", len(msg.ToolCalls))
		messages = append(messages, assistantParam(msg))
		for _, tc := range msg.ToolCalls {
			result := e.registry.Execute(tools.Call{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}, j.Resources)
			messages = append(messages, openai.ToolMessage(result, tc.ID))
		}
	}

	span.SetAttributes(attribute.Int("job.tool_rounds", rounds))
	e.logger.Info("job completed", "job_id", j.ID, "rounds", rounds, "chars", len(msg.Content))

	for _, chunk := range splitChunks(msg.Content, streamChunkRunes) {
		out <- job.Event{JobID: j.ID, Type: job.EventChunk, Data: chunk}
	}
	out <- job.Event{JobID: j.ID, Type: job.EventDone}
}

// completeRound wraps one model call in a span.
func (e *Engine) completeRound(ctx context.Context, params openai.ChatCompletionNewParams, round int) (*openai.ChatCompletion, error) {
	ctx, span := e.tracer.Start(ctx, "engine.model_call",
		trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()
	return e.client.Complete(ctx, params)
}

// prepareMessages merges the resource system prompt into the message
// list: concatenated onto an existing leading system message with a
// blank-line separator, or inserted as a new leading system message.
// The input slice is owned by the caller of Run's clone, never the
// submitting caller.
func prepareMessages(msgs []job.Message, prompt string) []job.Message {
	if prompt == "" {
		return msgs
	}
	if len(msgs) > 0 && msgs[0].Role == job.RoleSystem {
		msgs[0].Content = strings.TrimSpace(msgs[0].Content + "\n\n" + prompt)
		return msgs
	}
	out := make([]job.Message, 0, len(msgs)+1)
	out = append(out, job.Message{Role: job.RoleSystem, Content: prompt})
	return append(out, msgs...)
}

// toMessageParams converts domain messages to API message params.
func toMessageParams(msgs []job.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case job.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case job.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// assistantParam converts a model response message into the assistant
// message appended before tool results. Models like Kimi require their
// reasoning_content echoed back on subsequent rounds, so the extra field
// is carried through when present.
func assistantParam(msg openai.ChatCompletionMessage) openai.ChatCompletionMessageParamUnion {
	u := msg.ToParam()
	if f, ok := msg.JSON.ExtraFields["reasoning_content"]; ok && u.OfAssistant != nil {
		var reasoning string
		if err := json.Unmarshal([]byte(f.Raw()), &reasoning); err == nil && reasoning != "" {
			u.OfAssistant.SetExtraFields(map[string]any{"reasoning_content": reasoning})
		}
	}
	return u
}

// splitChunks slices s into batches of at most n runes, preserving order.
func splitChunks(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+n-1)/n)
	for i := 0; i < len(runes); i += n {
		end := min(i+n, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}
