package snapshot

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// AXNode is the subset of a CDP Accessibility.AXNode the renderer needs.
type AXNode struct {
	ID            string
	ParentID      string
	ChildIDs      []string
	Role          string
	Name          string
	Value         string
	Description   string
	Ignored       bool
	BackendNodeID int
	// Props holds AX properties such as level, checked, disabled, expanded.
	Props map[string]string
}

// Tree indexes a flat list of AX nodes.
type Tree struct {
	nodes  map[string]*AXNode
	rootID string
}

// NewTree indexes nodes. The root is the first node never referenced as a
// child of another node.
func NewTree(nodes []AXNode) *Tree {
	t := &Tree{nodes: make(map[string]*AXNode, len(nodes))}
	referenced := make(map[string]bool, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		t.nodes[n.ID] = n
		for _, c := range n.ChildIDs {
			referenced[c] = true
		}
	}
	for i := range nodes {
		if !referenced[nodes[i].ID] {
			t.rootID = nodes[i].ID
			break
		}
	}
	return t
}

// Root returns the root node id, or "" for an empty tree.
func (t *Tree) Root() string { return t.rootID }

// Len returns the number of indexed nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// NodeForBackend returns the id of the node backed by the given DOM node.
func (t *Tree) NodeForBackend(backendNodeID int) (string, bool) {
	for id, n := range t.nodes {
		if n.BackendNodeID == backendNodeID && !n.Ignored {
			return id, true
		}
	}
	return "", false
}

// RenderedLine is one line of a rendered ARIA snapshot and the node behind it.
type RenderedLine struct {
	Text  string
	Depth int
	Role  string
	Name  string
	Node  *AXNode
}

// RenderLines renders the subtree at fromID (the root when empty) as ARIA
// snapshot lines. Ignored and purely presentational nodes are skipped and
// their children promoted.
func (t *Tree) RenderLines(fromID string) []RenderedLine {
	if fromID == "" {
		fromID = t.rootID
	}
	visited := make(map[string]bool)
	return t.render(fromID, 0, "", visited)
}

// Render is RenderLines joined into text.
func (t *Tree) Render(fromID string) string {
	lines := t.RenderLines(fromID)
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

func (t *Tree) render(id string, depth int, parentName string, visited map[string]bool) []RenderedLine {
	n := t.nodes[id]
	if n == nil || visited[id] {
		return nil
	}
	visited[id] = true

	role := ariaRole(n.Role)
	if n.Ignored || skipRole(role) {
		var out []RenderedLine
		for _, c := range n.ChildIDs {
			out = append(out, t.render(c, depth, parentName, visited)...)
		}
		return out
	}

	name := strings.TrimSpace(n.Name)
	if role == "text" {
		if name == "" || name == parentName {
			return nil
		}
		name = strings.Join(strings.Fields(name), " ")
		return []RenderedLine{{
			Text:  indent(depth) + "- text: " + name,
			Depth: depth, Role: role, Name: name, Node: n,
		}}
	}

	var children []RenderedLine
	for _, c := range n.ChildIDs {
		children = append(children, t.render(c, depth+1, name, visited)...)
	}

	var b strings.Builder
	b.WriteString(indent(depth))
	b.WriteString("- ")
	b.WriteString(role)
	if name != "" {
		b.WriteByte(' ')
		b.WriteString(quoteName(name))
	}
	b.WriteString(formatProps(n.Props))
	switch {
	case len(children) > 0:
		b.WriteByte(':')
	case n.Value != "" && n.Value != name:
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(n.Value, "\n", " "))
	}

	out := make([]RenderedLine, 0, 1+len(children))
	out = append(out, RenderedLine{Text: b.String(), Depth: depth, Role: role, Name: name, Node: n})
	return append(out, children...)
}

// FindByRole returns the nodes rendered under fromID whose role and name
// match exactly, in snapshot order. Lines deeper than maxDepth are skipped,
// the same cutoff Build applies, so match indexes line up with nth.
func (t *Tree) FindByRole(fromID, role, name string, maxDepth *int) []*AXNode {
	var out []*AXNode
	for _, l := range t.RenderLines(fromID) {
		if maxDepth != nil && l.Depth > *maxDepth {
			continue
		}
		if l.Role == role && l.Name == name {
			out = append(out, l.Node)
		}
	}
	return out
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

// ariaRole maps Chrome's internal AX roles onto ARIA snapshot roles.
func ariaRole(role string) string {
	switch role {
	case "RootWebArea", "WebArea":
		return "document"
	case "StaticText", "LabelText":
		return "text"
	case "image":
		return "img"
	case "":
		return "generic"
	}
	return strings.ToLower(role)
}

func skipRole(role string) bool {
	switch role {
	case "inlinetextbox", "linebreak", "listmarker", "none", "presentation":
		return true
	}
	return false
}

var propOrder = []string{"level", "checked", "disabled", "expanded", "pressed", "selected"}

func formatProps(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	var b strings.Builder
	for _, key := range propOrder {
		v, ok := props[key]
		if !ok || v == "" || v == "false" {
			continue
		}
		if key == "level" || v != "true" {
			fmt.Fprintf(&b, " [%s=%s]", key, v)
		} else {
			fmt.Fprintf(&b, " [%s]", key)
		}
	}
	return b.String()
}

// FlatNode is one entry of an aria-format snapshot.
type FlatNode struct {
	Ref              string `json:"ref"`
	Role             string `json:"role"`
	Name             string `json:"name,omitempty"`
	Value            string `json:"value,omitempty"`
	Description      string `json:"description,omitempty"`
	BackendDOMNodeID int    `json:"backendDOMNodeId,omitempty"`
	Depth            int    `json:"depth"`
}

const (
	DefaultAriaLimit = 500
	MaxAriaLimit     = 2000
)

// ClampAriaLimit applies the aria-format node limit defaults.
func ClampAriaLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultAriaLimit
	case limit > MaxAriaLimit:
		return MaxAriaLimit
	default:
		return limit
	}
}

// Flatten walks the raw tree depth-first from the root and returns at most
// limit nodes, numbered ax1, ax2, ...
func (t *Tree) Flatten(limit int) []FlatNode {
	limit = ClampAriaLimit(limit)
	if t.rootID == "" {
		return nil
	}

	type frame struct {
		id    string
		depth int
	}
	var out []FlatNode
	visited := make(map[string]bool)
	stack := []frame{{t.rootID, 0}}
	for len(stack) > 0 && len(out) < limit {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[f.id]
		if n == nil || visited[f.id] {
			continue
		}
		visited[f.id] = true

		role := n.Role
		if role == "" {
			role = "unknown"
		}
		out = append(out, FlatNode{
			Ref:              fmt.Sprintf("ax%d", len(out)+1),
			Role:             role,
			Name:             n.Name,
			Value:            n.Value,
			Description:      n.Description,
			BackendDOMNodeID: n.BackendNodeID,
			Depth:            f.depth,
		})
		for i := len(n.ChildIDs) - 1; i >= 0; i-- {
			if _, ok := t.nodes[n.ChildIDs[i]]; ok {
				stack = append(stack, frame{n.ChildIDs[i], f.depth + 1})
			}
		}
	}
	return out
}

// AIResult is an AI-format snapshot.
type AIResult struct {
	Result
	Truncated bool `json:"truncated,omitempty"`
}

const truncationMarker = "\n\n[...TRUNCATED - page too large]"

// BuildAI gives every interactive or named content line a ref bound to its
// backend DOM node and truncates the text at maxChars when maxChars > 0.
func BuildAI(lines []RenderedLine, maxChars int) AIResult {
	tokens := make([]Line, len(lines))
	for i, l := range lines {
		tokens[i] = TokenizeLine(l.Text)
	}
	annotated, refs := AssignRefs(tokens, false)
	for i, a := range annotated {
		if a.Ref == "" {
			continue
		}
		r := refs[a.Ref]
		r.Nth = nil
		if lines[i].Node != nil {
			r.BackendNodeID = lines[i].Node.BackendNodeID
		}
		refs[a.Ref] = r
	}

	text := Render(annotated, refs, false)
	if text == "" {
		text = "(empty)"
	}
	res := AIResult{Result: Result{Snapshot: text, Refs: refs}}
	if maxChars > 0 && len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.ValidString(text[:cut]) {
			cut--
		}
		res.Snapshot = text[:cut] + truncationMarker
		res.Truncated = true
	}
	res.Stats = statsFor(res.Snapshot, refs)
	return res
}
