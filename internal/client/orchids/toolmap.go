package orchids

import (
	"strings"

	"github.com/tidwall/gjson"
)

// clientTool is one tool the downstream client advertised, reduced to
// what name mapping needs.
type clientTool struct {
	Name       string
	Properties []string
}

// toolAliases maps normalized upstream tool names to candidate client
// names, tried in order.
var toolAliases = map[string][]string{
	"ripgrep":            {"grep", "Grep", "search"},
	"grep":               {"ripgrep", "Grep", "search"},
	"write":              {"create_file", "Write", "write_file"},
	"create_file":        {"write", "Write", "write_file"},
	"run_command":        {"bash", "Bash", "execute_command", "shell"},
	"bash":               {"run_command", "execute_command", "shell"},
	"str-replace-editor": {"edit", "Edit", "edit_file"},
	"edit":               {"str-replace-editor", "Edit", "edit_file"},
	"read":               {"read_file", "Read", "view"},
	"delete":             {"delete_file", "remove"},
	"list":               {"list_dir", "ls", "LS"},
	"glob":               {"Glob", "find_files"},
	"todo_write":         {"TodoWrite", "todowrite", "update_todos"},
	"web_search":         {"WebSearch", "search_web"},
}

// toolMapper resolves upstream tool names to the names the client
// advertised, so tool_use blocks round-trip through the client's own
// tool handlers.
type toolMapper struct {
	tools   []clientTool
	byLower map[string]string
}

func newToolMapper(tools []clientTool) *toolMapper {
	m := &toolMapper{tools: tools, byLower: make(map[string]string, len(tools))}
	for _, tool := range tools {
		m.byLower[strings.ToLower(tool.Name)] = tool.Name
	}
	return m
}

// normalizeToolName lowercases and keeps only the last dotted segment,
// so "fs.operations.read" and "Read" both become "read".
func normalizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// Map resolves an upstream tool name through, in order: exact match,
// case-insensitive match, last-segment match, the alias table, and
// property-set overlap. Unresolvable names pass through unchanged.
func (m *toolMapper) Map(upstream string) string {
	if upstream == "" {
		return upstream
	}
	for _, tool := range m.tools {
		if tool.Name == upstream {
			return tool.Name
		}
	}

	normalized := normalizeToolName(upstream)
	if name, ok := m.byLower[normalized]; ok {
		return name
	}
	for _, tool := range m.tools {
		if normalizeToolName(tool.Name) == normalized {
			return tool.Name
		}
	}

	for _, alias := range toolAliases[normalized] {
		if name, ok := m.byLower[strings.ToLower(alias)]; ok {
			return name
		}
	}

	if name := m.matchByProperties(normalized); name != "" {
		return name
	}
	return upstream
}

// upstreamToolProperties lists the argument names each upstream tool is
// known to send, used as a last-resort fingerprint against the client's
// input_schema properties.
var upstreamToolProperties = map[string][]string{
	"read":        {"file_path"},
	"write":       {"file_path", "content"},
	"edit":        {"file_path", "old_string", "new_string"},
	"delete":      {"file_path"},
	"list":        {"path"},
	"glob":        {"pattern", "path"},
	"ripgrep":     {"pattern", "path"},
	"run_command": {"command"},
	"todo_write":  {"todos"},
}

// matchByProperties picks the client tool whose schema property set
// best overlaps the upstream tool's known arguments. Requires at least
// two overlapping properties to avoid accidental matches.
func (m *toolMapper) matchByProperties(normalized string) string {
	want := upstreamToolProperties[normalized]
	if len(want) == 0 {
		return ""
	}
	wantSet := make(map[string]bool, len(want))
	for _, p := range want {
		wantSet[p] = true
	}

	best := ""
	bestScore := 1
	for _, tool := range m.tools {
		score := 0
		for _, p := range tool.Properties {
			if wantSet[p] {
				score++
			}
		}
		if score > bestScore {
			best = tool.Name
			bestScore = score
		}
	}
	return best
}

// toolArgString reads a string argument from an fs_operation args
// object, accepting a couple of historical key spellings.
func toolArgString(args gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := args.Get(key); v.Exists() {
			return v.String()
		}
	}
	return ""
}
