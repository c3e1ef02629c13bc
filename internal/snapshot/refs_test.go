package snapshot

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

const pageSnapshot = `- navigation "Main":
  - list:
    - listitem:
      - link "Home"
    - listitem:
      - link "Docs"
- main:
  - heading "Welcome" [level=1]
  - group:
    - text: hello
  - button "Save"
  - button "Save"`

func TestDuplicateRoleNameGetsNth(t *testing.T) {
	res := Build("- button \"Login\"\n- button \"Login\"", Options{})

	want := Refs{
		"e1": {Role: "button", Name: "Login", Nth: intPtr(0)},
		"e2": {Role: "button", Name: "Login", Nth: intPtr(1)},
	}
	if diff := cmp.Diff(want, res.Refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "- button \"Login\" [ref=e1]\n- button \"Login\" [ref=e2] [nth=1]", res.Snapshot)
}

func TestSingletonHasNoNth(t *testing.T) {
	res := Build("- button \"Login\"\n- link \"Login\"", Options{})

	require.Len(t, res.Refs, 2)
	assert.Nil(t, res.Refs["e1"].Nth)
	assert.Nil(t, res.Refs["e2"].Nth)
}

func TestBuildTree(t *testing.T) {
	res := Build(pageSnapshot, Options{})

	want := `- navigation "Main" [ref=e1]:
  - list:
    - listitem:
      - link "Home" [ref=e2]
    - listitem:
      - link "Docs" [ref=e3]
- main:
  - heading "Welcome" [ref=e4] [level=1]
  - group:
    - text: hello
  - button "Save" [ref=e5]
  - button "Save" [ref=e6] [nth=1]`
	assert.Equal(t, want, res.Snapshot)

	wantRefs := Refs{
		"e1": {Role: "navigation", Name: "Main"},
		"e2": {Role: "link", Name: "Home"},
		"e3": {Role: "link", Name: "Docs"},
		"e4": {Role: "heading", Name: "Welcome"},
		"e5": {Role: "button", Name: "Save", Nth: intPtr(0)},
		"e6": {Role: "button", Name: "Save", Nth: intPtr(1)},
	}
	if diff := cmp.Diff(wantRefs, res.Refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{Lines: 12, Chars: len(want), Refs: 6, Interactive: 4}, res.Stats)
}

func TestRefsAreContiguousFromOne(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "- row:\n  - cell \"c%d\"\n  - button \"Edit\"\n  - cell\n", i%7)
	}
	res := Build(b.String(), Options{})

	ids := res.Refs.IDs()
	require.Len(t, ids, 80)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("e%d", i+1), id)
	}

	// Each (role, name) pair with k occurrences carries nth 0..k-1 in order.
	seen := map[string]int{}
	for _, id := range ids {
		r := res.Refs[id]
		key := r.Role + "|" + r.Name
		if r.Role == "button" || strings.HasPrefix(r.Name, "c") {
			require.NotNil(t, r.Nth, id)
			assert.Equal(t, seen[key], *r.Nth, id)
		}
		seen[key]++
	}
}

func TestCompact(t *testing.T) {
	res := Build(pageSnapshot, Options{Compact: true})

	assert.NotContains(t, res.Snapshot, "- group:")
	assert.Contains(t, res.Snapshot, "  - list:", "structural lines with refs below are kept")
	assert.Contains(t, res.Snapshot, "    - text: hello")
	assert.Len(t, res.Refs, 6)
}

func TestMaxDepthCutsBeforeAssignment(t *testing.T) {
	res := Build(pageSnapshot, Options{MaxDepth: intPtr(1)})

	wantRefs := Refs{
		"e1": {Role: "navigation", Name: "Main"},
		"e2": {Role: "heading", Name: "Welcome"},
		"e3": {Role: "button", Name: "Save", Nth: intPtr(0)},
		"e4": {Role: "button", Name: "Save", Nth: intPtr(1)},
	}
	if diff := cmp.Diff(wantRefs, res.Refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, res.Snapshot, "link")
}

func TestInteractiveIsFlat(t *testing.T) {
	res := Build(pageSnapshot, Options{Interactive: true, Compact: true})

	want := `- link "Home" [ref=e1]
- link "Docs" [ref=e2]
- button "Save" [ref=e3]
- button "Save" [ref=e4] [nth=1]`
	assert.Equal(t, want, res.Snapshot)
	assert.Equal(t, 4, res.Stats.Interactive)
}

func TestEmptySnapshots(t *testing.T) {
	assert.Equal(t, "(empty)", Build("", Options{}).Snapshot)
	assert.Equal(t, "(no interactive elements)", Build("- heading \"Hi\"", Options{Interactive: true}).Snapshot)
}

func TestCleanupNthIsIndependent(t *testing.T) {
	refs := Refs{
		"e1": {Role: "tab", Name: "A", Nth: intPtr(0)},
		"e2": {Role: "tab", Name: "B", Nth: intPtr(0)},
		"e3": {Role: "tab", Name: "B", Nth: intPtr(1)},
	}
	CleanupNth(refs)

	assert.Nil(t, refs["e1"].Nth)
	assert.Equal(t, 0, *refs["e2"].Nth)
	assert.Equal(t, 1, *refs["e3"].Nth)
}

func TestRefsClone(t *testing.T) {
	refs := Refs{"e1": {Role: "tab", Name: "A", Nth: intPtr(2)}}
	c := refs.Clone()
	*c["e1"].Nth = 9

	assert.Equal(t, 2, *refs["e1"].Nth)
}
