package acp

import "encoding/json"

// toolEditFields is the subset of a tool's raw_input the executor inspects
// to synthesize a diff content block. Any other fields stay opaque in
// raw_input and are never introspected for control flow (spec §9).
type toolEditFields struct {
	FilePath string  `json:"file_path"`
	Path     string  `json:"path"`
	OldText  *string `json:"old_string"`
	NewText  *string `json:"new_string"`
	Content  *string `json:"content"`
}

// synthesizeDiff builds a diff ContentBlock from a tool_result's raw input
// when it describes an edit (old_string/new_string) or a creation
// (content), per spec §4.8's tool_result row. Returns false if the input
// doesn't describe either shape.
func synthesizeDiff(rawInput json.RawMessage) (ContentBlock, bool) {
	if len(rawInput) == 0 {
		return ContentBlock{}, false
	}
	var f toolEditFields
	if err := json.Unmarshal(rawInput, &f); err != nil {
		return ContentBlock{}, false
	}

	path := f.FilePath
	if path == "" {
		path = f.Path
	}
	if path == "" {
		return ContentBlock{}, false
	}

	switch {
	case f.OldText != nil && f.NewText != nil:
		return ContentBlock{Type: "diff", Path: path, OldText: f.OldText, NewText: *f.NewText}, true
	case f.Content != nil:
		return ContentBlock{Type: "diff", Path: path, NewText: *f.Content}, true
	default:
		return ContentBlock{}, false
	}
}

// toolAffectedPaths extracts the paths a tool operation touches, for the
// permission broker's path-containment check (spec §4.3.3).
func toolAffectedPaths(rawInput json.RawMessage) []string {
	if len(rawInput) == 0 {
		return nil
	}
	var f toolEditFields
	if err := json.Unmarshal(rawInput, &f); err != nil {
		return nil
	}
	var paths []string
	if f.FilePath != "" {
		paths = append(paths, f.FilePath)
	}
	if f.Path != "" && f.Path != f.FilePath {
		paths = append(paths, f.Path)
	}
	return paths
}

// toolCommand extracts the command string for execute-kind tools, for the
// danger-list check (spec §4.3.3). The backend's input shape for execute
// tools uses a "command" field.
func toolCommand(rawInput json.RawMessage) string {
	if len(rawInput) == 0 {
		return ""
	}
	var f struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(rawInput, &f); err != nil {
		return ""
	}
	return f.Command
}

// toolTitle derives a human-readable title from a tool's name and input
// (spec §4.8, "compute initial title from input").
func toolTitle(name string, rawInput json.RawMessage) string {
	paths := toolAffectedPaths(rawInput)
	if len(paths) > 0 {
		return name + " " + paths[0]
	}
	if cmd := toolCommand(rawInput); cmd != "" {
		return cmd
	}
	return name
}
