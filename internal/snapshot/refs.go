package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode records how a page's cached refs must be resolved.
type Mode string

const (
	// ModeRole refs resolve by role, exact name and nth.
	ModeRole Mode = "role"
	// ModeAria refs resolve by backend DOM node id.
	ModeAria Mode = "aria"
)

// RoleRef identifies an element by role and accessible name.
type RoleRef struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	// Nth disambiguates refs sharing role and name. Nil when the pair is unique.
	Nth *int `json:"nth,omitempty"`
	// BackendNodeID is set for aria-mode refs.
	BackendNodeID int `json:"backendNodeId,omitempty"`
}

// NthOrZero returns Nth, treating nil as 0.
func (r RoleRef) NthOrZero() int {
	if r.Nth == nil {
		return 0
	}
	return *r.Nth
}

// Refs maps ref ids ("e1") to elements.
type Refs map[string]RoleRef

// IDs returns the ref ids in numeric order.
func (r Refs) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return refNumber(ids[i]) < refNumber(ids[j]) })
	return ids
}

// Clone returns a deep copy.
func (r Refs) Clone() Refs {
	if r == nil {
		return nil
	}
	out := make(Refs, len(r))
	for id, ref := range r {
		if ref.Nth != nil {
			n := *ref.Nth
			ref.Nth = &n
		}
		out[id] = ref
	}
	return out
}

func refNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "e"))
	if err != nil {
		return -1
	}
	return n
}

// Annotated is a tokenized line plus the ref assigned to it, if any.
type Annotated struct {
	Line
	Ref string
}

type roleKey struct{ role, name string }

// AssignRefs gives refs e1, e2, ... in order of appearance to every
// interactive line and every named content line. Each ref records its
// zero-based occurrence index among refs with the same role and name.
// With interactiveOnly, non-interactive entry lines are dropped.
func AssignRefs(lines []Line, interactiveOnly bool) ([]Annotated, Refs) {
	refs := make(Refs)
	seen := make(map[roleKey]int)
	out := make([]Annotated, 0, len(lines))
	next := 0

	for _, l := range lines {
		kind := KindOther
		if l.IsEntry() {
			kind = Classify(l.Role)
		}
		if interactiveOnly && kind != KindInteractive {
			continue
		}

		a := Annotated{Line: l}
		if kind == KindInteractive || (kind == KindContent && l.Name != "") {
			next++
			a.Ref = fmt.Sprintf("e%d", next)
			key := roleKey{l.Role, l.Name}
			nth := seen[key]
			seen[key]++
			refs[a.Ref] = RoleRef{Role: l.Role, Name: l.Name, Nth: &nth}
		}
		out = append(out, a)
	}
	return out, refs
}

// CleanupNth strips Nth from refs whose role and name occur exactly once.
func CleanupNth(refs Refs) {
	counts := make(map[roleKey]int, len(refs))
	for _, r := range refs {
		counts[roleKey{r.Role, r.Name}]++
	}
	for id, r := range refs {
		if counts[roleKey{r.Role, r.Name}] == 1 && r.Nth != nil {
			r.Nth = nil
			refs[id] = r
		}
	}
}

// Compact removes unnamed structural lines that have no descendant with a ref.
func Compact(lines []Annotated) []Annotated {
	out := make([]Annotated, 0, len(lines))
	for i, l := range lines {
		if l.Ref == "" && l.IsEntry() && l.Name == "" && Classify(l.Role) == KindStructural && !hasRefBelow(lines, i) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func hasRefBelow(lines []Annotated, i int) bool {
	depth := lines[i].Depth
	for j := i + 1; j < len(lines); j++ {
		if lines[j].Depth <= depth {
			return false
		}
		if lines[j].Ref != "" {
			return true
		}
	}
	return false
}

// Render reconstructs snapshot text with [ref=eN] and [nth=k] annotations.
// With flat set every line is rendered at the top level.
func Render(lines []Annotated, refs Refs, flat bool) string {
	var b strings.Builder
	for _, l := range lines {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if l.Ref == "" {
			b.WriteString(l.Raw)
			continue
		}

		head := l.Raw[:len(l.Raw)-len(l.Suffix)]
		suffix := l.Suffix
		if flat {
			head = strings.TrimLeft(head, " ")
			suffix = strings.TrimSuffix(strings.TrimRight(suffix, " "), ":")
		}
		b.WriteString(head)
		b.WriteString(" [ref=")
		b.WriteString(l.Ref)
		b.WriteByte(']')
		if r := refs[l.Ref]; r.Nth != nil && *r.Nth > 0 {
			fmt.Fprintf(&b, " [nth=%d]", *r.Nth)
		}
		b.WriteString(suffix)
	}
	return b.String()
}

// Options control Build.
type Options struct {
	// Interactive keeps only interactive elements, as a flat list.
	Interactive bool
	// Compact drops unnamed structural lines with no ref below them.
	Compact bool
	// MaxDepth drops lines nested deeper than this; nil means no limit.
	MaxDepth *int
}

// Stats summarizes a snapshot.
type Stats struct {
	Lines       int `json:"lines"`
	Chars       int `json:"chars"`
	Refs        int `json:"refs"`
	Interactive int `json:"interactive"`
}

// Result is a role snapshot with its refs.
type Result struct {
	Snapshot string `json:"snapshot"`
	Refs     Refs   `json:"refs"`
	Stats    Stats  `json:"stats"`
}

// Build runs the ref-assignment pipeline over ARIA snapshot text:
// tokenize, depth cutoff, ref assignment, nth cleanup, then compaction.
func Build(text string, opts Options) Result {
	lines := cutDepth(Tokenize(text), opts.MaxDepth)
	annotated, refs := AssignRefs(lines, opts.Interactive)
	CleanupNth(refs)
	if opts.Compact && !opts.Interactive {
		annotated = Compact(annotated)
	}

	out := Render(annotated, refs, opts.Interactive)
	if out == "" {
		if opts.Interactive {
			out = "(no interactive elements)"
		} else {
			out = "(empty)"
		}
	}
	return Result{Snapshot: out, Refs: refs, Stats: statsFor(out, refs)}
}

func statsFor(text string, refs Refs) Stats {
	st := Stats{
		Lines: strings.Count(text, "\n") + 1,
		Chars: len(text),
		Refs:  len(refs),
	}
	for _, r := range refs {
		if IsInteractive(r.Role) {
			st.Interactive++
		}
	}
	return st
}
