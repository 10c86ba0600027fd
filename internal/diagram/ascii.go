package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders a Model as a vertical text flowchart with box-drawing
// characters. The main flow stacks top to bottom; fallback detours are listed
// after it.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	flow := mainFlowOrder(model)
	for i, node := range flow {
		writeBox(&b, node)
		if i < len(flow)-1 {
			b.WriteString("   │\n")
			b.WriteString("   ▼\n")
		}
	}

	detached := detachedNodes(model, flow)
	if len(detached) > 0 {
		b.WriteString("\n--- detached steps ---\n")
		for _, node := range detached {
			b.WriteString(fmt.Sprintf("  %s%s\n", firstLine(node.Label), asciiSuffix(node)))
		}
	}

	var detours []Edge
	for _, e := range model.Edges {
		if e.Detour && e.Label != "" {
			detours = append(detours, e)
		}
	}
	if len(detours) > 0 {
		b.WriteString("\n--- fallbacks ---\n")
		for _, e := range detours {
			b.WriteString(fmt.Sprintf("  %s ─→ %s (%s)\n", e.From, e.To, e.Label))
		}
	}

	return b.String()
}

// mainFlowOrder follows the solid edges from the start node.
func mainFlowOrder(model *Model) []*Node {
	next := make(map[string]string, len(model.Edges))
	for _, e := range model.Edges {
		if !e.Detour {
			next[e.From] = e.To
		}
	}

	index := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		index[n.ID] = n
	}

	var flow []*Node
	for id := startID; id != ""; id = next[id] {
		node := index[id]
		if node == nil {
			break
		}
		flow = append(flow, node)
		if id == endID {
			break
		}
	}
	return flow
}

// detachedNodes returns nodes outside the main flow, disabled fallback steps
// mostly.
func detachedNodes(model *Model, flow []*Node) []*Node {
	inFlow := make(map[string]bool, len(flow))
	for _, n := range flow {
		inFlow[n.ID] = true
	}
	var out []*Node
	for _, n := range model.Nodes {
		if !inFlow[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// writeBox draws a single node box with its label and status line.
func writeBox(b *strings.Builder, node *Node) {
	lines := []string{firstLine(node.Label) + asciiSuffix(node)}
	if node.Status != nil && node.Status.DurationMs > 0 {
		lines = append(lines, fmt.Sprintf("%dms", node.Status.DurationMs))
	}

	width := 0
	for _, line := range lines {
		if len(line) > width {
			width = len(line)
		}
	}

	b.WriteString("┌" + strings.Repeat("─", width+2) + "┐\n")
	for _, line := range lines {
		b.WriteString("│ " + line + strings.Repeat(" ", width-len(line)) + " │\n")
	}
	b.WriteString("└" + strings.Repeat("─", width+2) + "┘\n")
}

// asciiSuffix returns the status tag appended to a node label.
func asciiSuffix(node *Node) string {
	if node.Status != nil {
		switch node.Status.Status {
		case "complete":
			return " [OK]"
		case "error":
			return " [FAIL]"
		case "running":
			return " [RUN]"
		}
	}
	if node.Disabled {
		return " [OFF]"
	}
	return ""
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
