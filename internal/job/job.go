// Package job defines the data model shared by the dispatch pipeline:
// the job descriptor submitted by callers, the resources granted to it,
// and the typed events the worker emits while processing it.
package job

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Chat message roles accepted in a submitted job. The engine additionally
// produces assistant and tool messages internally during tool rounds.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoMessages indicates a job was submitted without any messages.
	ErrNoMessages = errors.New("job has no messages")

	// ErrMissingModel indicates a job was submitted without a model name.
	ErrMissingModel = errors.New("job has no model")

	// ErrInvalidRole indicates a message carries a role the pipeline does
	// not accept from callers.
	ErrInvalidRole = errors.New("invalid message role")
)

// Message is a single chat message in a job's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Kind identifies a resource type. Unknown kinds are carried through
// unchanged and ignored by the tool registry, so older servers tolerate
// resources introduced by newer clients.
type Kind string

// Known resource kinds.
const (
	// KindFolder grants read-only directory listing under a root path.
	KindFolder Kind = "folder"
)

// Resource is a caller-declared capability granted to a job. The map key
// under which it is submitted is its resource_id; Path is only meaningful
// for KindFolder.
type Resource struct {
	Name string `json:"name"`
	Kind Kind   `json:"type"`
	Path string `json:"path,omitempty"`
}

// Job is one chat-completion request accepted for processing. A Job is
// immutable once submitted: the worker owns it exclusively during
// execution and the engine clones Messages before mutating anything.
type Job struct {
	ID          uuid.UUID
	Messages    []Message
	Model       string
	Temperature float64
	Resources   map[string]Resource
}

// Validate checks the job payload before it consumes a model call.
// It fails fast on the malformed shapes a caller can produce; resource
// configuration is deliberately not checked here; resources are
// validated at tool-execution time.
func (j *Job) Validate() error {
	if j.Model == "" {
		return ErrMissingModel
	}
	if len(j.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range j.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRole, i, m.Role)
		}
	}
	return nil
}

// CloneMessages returns a copy of the job's message slice that the engine
// may append to and mutate without touching caller-owned data.
func (j *Job) CloneMessages() []Message {
	out := make([]Message, len(j.Messages))
	copy(out, j.Messages)
	return out
}

// EventType discriminates the event union produced by the worker.
type EventType string

// Event types. Chunk events carry partial output text; Done and Error are
// terminal and end a job's event stream.
const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one item of worker output for a job. Data holds the chunk text
// for EventChunk, the human-readable message for EventError, and is empty
// for EventDone.
type Event struct {
	JobID uuid.UUID
	Type  EventType
	Data  string
}

// Terminal reports whether the event ends the job's stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
