// Package diagram renders dialog templates as flowcharts. A template compiles
// to a linear step sequence with optional fallback detours; renderers emit
// Mermaid or ASCII, with an optional status overlay from a stored dialog.
package diagram

// NodeKind classifies a diagram node by its step kind.
type NodeKind string

const (
	NodeKindMessage   NodeKind = "message"
	NodeKindPrompt    NodeKind = "prompt"
	NodeKindUserInput NodeKind = "user_input"
	NodeKindInvoke    NodeKind = "invoke"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Disabled bool
	Status   *StatusOverlay
}

// StatusOverlay carries runtime state for a node taken from a dialog's
// step results.
type StatusOverlay struct {
	Status     string
	Attempts   int
	DurationMs int64
	Error      string
}

// Edge connects two nodes. Detour edges mark fallback paths and render
// dashed.
type Edge struct {
	From   string
	To     string
	Label  string
	Detour bool
}
