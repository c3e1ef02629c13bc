// Package snapshot turns accessibility trees into compact text snapshots and
// assigns short element refs (e1, e2, ...) that later actions can target.
//
// Everything in this package is pure: the browser package feeds it CDP
// accessibility nodes and stores the refs it returns.
package snapshot

// RoleKind groups ARIA roles by how the ref assigner treats them.
type RoleKind int

const (
	// KindOther covers roles the assigner neither refs nor compacts away
	// (text, paragraph, img, ...).
	KindOther RoleKind = iota
	// KindStructural roles are containers; unnamed ones are dropped by compaction
	// when nothing below them carries a ref.
	KindStructural
	// KindContent roles get a ref only when they have a name.
	KindContent
	// KindInteractive roles always get a ref.
	KindInteractive
)

func (k RoleKind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindContent:
		return "content"
	case KindInteractive:
		return "interactive"
	default:
		return "other"
	}
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"textbox":          true,
	"checkbox":         true,
	"radio":            true,
	"combobox":         true,
	"listbox":          true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"searchbox":        true,
	"slider":           true,
	"spinbutton":       true,
	"switch":           true,
	"tab":              true,
	"treeitem":         true,
}

var contentRoles = map[string]bool{
	"heading":      true,
	"cell":         true,
	"gridcell":     true,
	"columnheader": true,
	"rowheader":    true,
	"listitem":     true,
	"article":      true,
	"region":       true,
	"main":         true,
	"navigation":   true,
}

var structuralRoles = map[string]bool{
	"generic":      true,
	"group":        true,
	"list":         true,
	"table":        true,
	"row":          true,
	"rowgroup":     true,
	"grid":         true,
	"treegrid":     true,
	"menu":         true,
	"menubar":      true,
	"toolbar":      true,
	"tablist":      true,
	"tree":         true,
	"directory":    true,
	"document":     true,
	"application":  true,
	"presentation": true,
	"none":         true,
}

// Classify returns the kind of an ARIA role. Matching is case-sensitive;
// roles are lower case in both CDP and ARIA snapshots.
func Classify(role string) RoleKind {
	switch {
	case interactiveRoles[role]:
		return KindInteractive
	case contentRoles[role]:
		return KindContent
	case structuralRoles[role]:
		return KindStructural
	default:
		return KindOther
	}
}

// IsInteractive reports whether role is an interactive role.
func IsInteractive(role string) bool {
	return interactiveRoles[role]
}
