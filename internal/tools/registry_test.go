package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(log.NewNop())
	require.NoError(t, err)
	return r
}

func TestNewRegistry_RequiresLogger(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)
}

func TestRegistry_Build(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("no resources yields no tools", func(t *testing.T) {
		assert.Empty(t, r.Build(nil))
		assert.Empty(t, r.Build(map[string]job.Resource{}))
	})

	t.Run("folder resource contributes list_files", func(t *testing.T) {
		tools := r.Build(map[string]job.Resource{
			"res-1": {Kind: job.KindFolder, Path: "/sandbox"},
		})
		require.Len(t, tools, 1)
		assert.Equal(t, ToolListFiles, tools[0].Function.Name)
	})

	t.Run("duplicate kinds deduplicated", func(t *testing.T) {
		tools := r.Build(map[string]job.Resource{
			"a": {Kind: job.KindFolder, Path: "/one"},
			"b": {Kind: job.KindFolder, Path: "/two"},
		})
		assert.Len(t, tools, 1)
	})

	t.Run("unknown kinds skipped", func(t *testing.T) {
		tools := r.Build(map[string]job.Resource{
			"a": {Kind: "quantum_db", Path: "/x"},
			"b": {Kind: job.KindFolder, Path: "/y"},
		})
		require.Len(t, tools, 1)
		assert.Equal(t, ToolListFiles, tools[0].Function.Name)
	})
}

func TestRegistry_SystemPrompt(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("empty without resources", func(t *testing.T) {
		assert.Empty(t, r.SystemPrompt(nil))
	})

	t.Run("empty for unknown kinds", func(t *testing.T) {
		prompt := r.SystemPrompt(map[string]job.Resource{
			"a": {Kind: "quantum_db", Path: "/x"},
		})
		assert.Empty(t, prompt)
	})

	t.Run("one line per folder", func(t *testing.T) {
		prompt := r.SystemPrompt(map[string]job.Resource{
			"res-1": {Name: "projects", Kind: job.KindFolder, Path: "/data/projects"},
		})
		assert.Equal(t,
			"You have access to folder 'projects' (resource_id: res-1) at path: /data/projects",
			prompt)
	})

	t.Run("name falls back to resource id", func(t *testing.T) {
		prompt := r.SystemPrompt(map[string]job.Resource{
			"res-9": {Kind: job.KindFolder, Path: "/p"},
		})
		assert.Contains(t, prompt, "folder 'res-9'")
	})

	t.Run("blank-line separated and ordered by id", func(t *testing.T) {
		prompt := r.SystemPrompt(map[string]job.Resource{
			"b": {Kind: job.KindFolder, Path: "/two"},
			"a": {Kind: job.KindFolder, Path: "/one"},
		})
		lines := []string{
			"You have access to folder 'a' (resource_id: a) at path: /one",
			"You have access to folder 'b' (resource_id: b) at path: /two",
		}
		assert.Equal(t, lines[0]+"\n\n"+lines[1], prompt)
	})
}

func TestRegistry_Execute_UnknownFunction(t *testing.T) {
	r := newTestRegistry(t)

	payload := r.Execute(Call{ID: "c1", Name: "launch_rocket", Arguments: "{}"}, nil)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Contains(t, decoded["error"], "launch_rocket")
}

func TestRegistry_Execute_EmptyArguments(t *testing.T) {
	r := newTestRegistry(t)

	// An empty argument string is treated as {}, so the executor reports
	// the missing parameter rather than a parse failure.
	payload := r.Execute(Call{Name: ToolListFiles, Arguments: ""}, nil)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Contains(t, decoded["error"], "resource_id")
}
