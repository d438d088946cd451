package domain

import "slices"

// Tool names a model-side capability offered for a turn.
type Tool string

const (
	ToolWebSearch  Tool = "web_search"
	ToolFileSearch Tool = "file_search"
)

// HasTool reports whether tools contains t.
func HasTool(tools []Tool, t Tool) bool {
	return slices.Contains(tools, t)
}
