package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/security"
)

// ToolListFiles is the function name of the directory listing tool.
const ToolListFiles = "list_files"

// Entry type constants for list_files results.
const (
	entryTypeFile      = "file"
	entryTypeDirectory = "directory"
)

// ListFilesArgs defines the arguments of the list_files tool.
type ListFilesArgs struct {
	ResourceID string `json:"resource_id"`
	Subpath    string `json:"subpath,omitempty"`
}

// listEntry is one entry of a directory listing. Size is null for
// directories, matching the wire format callers already parse.
type listEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size"`
}

// listResult is the success payload of list_files.
type listResult struct {
	Path     string      `json:"path"`
	FullPath string      `json:"full_path"`
	Entries  []listEntry `json:"entries"`
}

// buildFileTools returns the tool definitions contributed by folder
// resources. The parameter schema is derived from ListFilesArgs.
func buildFileTools() ([]openai.ChatCompletionToolParam, error) {
	schema, err := jsonschema.For[ListFilesArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", ToolListFiles, err)
	}
	if p, ok := schema.Properties["resource_id"]; ok {
		p.Description = "The resource ID of the folder to list."
	}
	if p, ok := schema.Properties["subpath"]; ok {
		p.Description = "Optional subdirectory path relative to the root folder. If not provided, lists the root folder contents."
	}

	params, err := functionParameters(schema)
	if err != nil {
		return nil, err
	}

	return []openai.ChatCompletionToolParam{
		{
			Function: openai.FunctionDefinitionParam{
				Name:        ToolListFiles,
				Description: openai.String("List files and directories in a folder. Use the resource_id parameter to specify which folder to access."),
				Parameters:  params,
			},
		},
	}, nil
}

// functionParameters converts a derived JSON schema into the loose map
// form the completions API expects.
func functionParameters(s *jsonschema.Schema) (openai.FunctionParameters, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var params openai.FunctionParameters
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return params, nil
}

// executeListFiles lists a directory under a folder resource's root.
// All access is confined to the resource's configured path; traversal
// outside it yields an access-denied payload, never a listing.
func (r *Registry) executeListFiles(raw json.RawMessage, resources map[string]job.Resource) string {
	var args ListFilesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		r.logger.Error("failed to parse tool arguments", "function", ToolListFiles, "error", err)
		return errorPayload("Invalid arguments")
	}

	if args.ResourceID == "" {
		return errorPayload("Missing required parameter: resource_id")
	}

	res, ok := resources[args.ResourceID]
	if !ok || res.Kind != job.KindFolder || res.Path == "" {
		return errorPayload("No folder path configured")
	}

	sandbox, err := security.NewSandbox(res.Path)
	if err != nil {
		r.logger.Error("invalid folder resource root", "resource_id", args.ResourceID, "error", err)
		return errorPayload("No folder path configured")
	}

	target, err := sandbox.Resolve(args.Subpath)
	if err != nil {
		r.logger.Warn("path containment rejected tool call",
			"resource_id", args.ResourceID, "subpath", args.Subpath, "error", err)
		return errorPayload("Access denied: path outside of allowed folder")
	}

	display := args.Subpath
	if display == "" {
		display = "."
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return errorPayload(fmt.Sprintf("Path does not exist: %s", display))
		}
		return errorPayload(fmt.Sprintf("Failed to access path: %v", err))
	}
	if !info.IsDir() {
		return errorPayload(fmt.Sprintf("Path is not a directory: %s", display))
	}

	dirEntries, err := os.ReadDir(target)
	if err != nil {
		return errorPayload(fmt.Sprintf("Failed to list directory: %v", err))
	}

	entries := make([]listEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := listEntry{Name: de.Name(), Type: entryTypeFile}
		if de.IsDir() {
			e.Type = entryTypeDirectory
		} else if fi, err := de.Info(); err == nil {
			size := fi.Size()
			e.Size = &size
		}
		entries = append(entries, e)
	}

	// Directories first, then files, case-insensitive by name within each group.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == entryTypeDirectory
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	result := listResult{Path: display, FullPath: target, Entries: entries}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorPayload(fmt.Sprintf("Failed to encode listing: %v", err))
	}

	r.logger.Info("list_files completed", "resource_id", args.ResourceID, "entries", len(entries))
	return string(b)
}
