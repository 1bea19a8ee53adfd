// Package tools maps deployed resources to callable tool definitions and
// dispatches model-issued tool calls to their executors.
//
// The registry is read-only after construction and freely shared: Build,
// SystemPrompt and Execute take the job's resources as arguments instead
// of holding per-job state.
//
// Execute never returns a Go error to the completion loop. Every failure
// mode (malformed arguments, unknown function, missing resource, path
// escape) is encoded as a JSON error payload that is fed back into the
// conversation so the model can adapt.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

// Call is a model-issued request to invoke a named function. Arguments is
// the raw JSON string exactly as the model produced it.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// executor runs one tool call against the job's resources and returns a
// JSON payload (result or error).
type executor func(args json.RawMessage, resources map[string]job.Resource) string

// Registry builds per-job tool lists and dispatches tool calls.
type Registry struct {
	logger log.Logger

	// kindTools holds the tool definitions contributed by each known
	// resource kind; executors is the dispatch table keyed by function
	// name. Both are fixed at construction.
	kindTools map[job.Kind][]openai.ChatCompletionToolParam
	executors map[string]executor
}

// NewRegistry creates the tool registry. It fails only if a tool's
// parameter schema cannot be derived.
func NewRegistry(logger log.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := &Registry{
		logger:    logger,
		kindTools: make(map[job.Kind][]openai.ChatCompletionToolParam),
		executors: make(map[string]executor),
	}

	fileTools, err := buildFileTools()
	if err != nil {
		return nil, fmt.Errorf("build file tools: %w", err)
	}
	r.kindTools[job.KindFolder] = fileTools
	r.executors[ToolListFiles] = r.executeListFiles

	return r, nil
}

// Build returns the tool list for a job's resources. Resources are
// visited in sorted resource_id order, deduplicated by kind: the first
// occurrence of a kind contributes that kind's tool definitions, later
// ones add nothing. Unknown kinds are silently skipped so newer clients
// can declare resources this server does not understand yet.
func (r *Registry) Build(resources map[string]job.Resource) []openai.ChatCompletionToolParam {
	var tools []openai.ChatCompletionToolParam
	seen := make(map[job.Kind]bool)

	for _, id := range sortedIDs(resources) {
		kind := resources[id].Kind
		if seen[kind] {
			continue
		}
		seen[kind] = true

		defs, ok := r.kindTools[kind]
		if !ok {
			r.logger.Debug("skipping unknown resource kind", "resource_id", id, "kind", kind)
			continue
		}
		tools = append(tools, defs...)
	}

	return tools
}

// SystemPrompt renders one capability line per resource that contributes
// prompt text, blank-line separated. Returns "" when no resource
// contributes anything.
func (r *Registry) SystemPrompt(resources map[string]job.Resource) string {
	var lines []string

	for _, id := range sortedIDs(resources) {
		res := resources[id]
		if res.Kind != job.KindFolder || res.Path == "" {
			continue
		}
		name := res.Name
		if name == "" {
			name = id
		}
		lines = append(lines, fmt.Sprintf(
			"You have access to folder '%s' (resource_id: %s) at path: %s", name, id, res.Path))
	}

	return strings.Join(lines, "\n\n")
}

// Execute dispatches a tool call by function name and returns a JSON
// payload. Unknown function names and malformed arguments become error
// payloads, never Go errors.
func (r *Registry) Execute(call Call, resources map[string]job.Resource) string {
	exec, ok := r.executors[call.Name]
	if !ok {
		return errorPayload(fmt.Sprintf("Unknown function: %s", call.Name))
	}

	args := json.RawMessage(call.Arguments)
	if call.Arguments == "" {
		args = json.RawMessage("{}")
	}

	r.logger.Info("executing tool", "function", call.Name, "call_id", call.ID)
	return exec(args, resources)
}

// errorPayload encodes a tool failure as the {"error": ...} JSON shape
// the model sees as a tool result.
func errorPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		// Marshaling a map[string]string cannot fail; keep a fallback anyway.
		return `{"error":"internal tool error"}`
	}
	return string(b)
}

// sortedIDs returns resource IDs in deterministic order. The wire format
// carries resources as a JSON object, so sorted keys stand in for
// insertion order.
func sortedIDs(resources map[string]job.Resource) []string {
	ids := make([]string, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
