package snapshot

import (
	"strconv"
	"strings"
)

// Line is one tokenized line of an ARIA snapshot such as
//
//	  - button "Sign in" [disabled]:
//
// Lines that are not role entries (property lines like "- /url: ...",
// closing lines, free text) have an empty Role and are passed through.
type Line struct {
	Raw     string
	Depth   int
	Role    string
	Name    string
	HasName bool
	// Suffix is everything after the role and name, attributes included.
	Suffix string
}

// IsEntry reports whether the line names a role.
func (l Line) IsEntry() bool {
	return l.Role != ""
}

// Tokenize splits an ARIA snapshot into lines. Indentation is two spaces
// per depth level.
func Tokenize(text string) []Line {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []Line
	for _, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out = append(out, TokenizeLine(raw))
	}
	return out
}

// TokenizeLine parses a single snapshot line.
func TokenizeLine(raw string) Line {
	indent := len(raw) - len(strings.TrimLeft(raw, " "))
	line := Line{Raw: raw, Depth: indent / 2}

	rest := strings.TrimLeft(raw, " ")
	if !strings.HasPrefix(rest, "- ") {
		return line
	}
	rest = rest[2:]
	if strings.HasPrefix(rest, "/") {
		return line
	}

	end := 0
	for end < len(rest) && isRoleByte(rest[end]) {
		end++
	}
	if end == 0 {
		return line
	}
	line.Role = rest[:end]
	rest = rest[end:]

	if strings.HasPrefix(rest, ` "`) {
		if name, n, ok := readQuoted(rest[1:]); ok {
			line.Name = name
			line.HasName = true
			rest = rest[1+n:]
		}
	}
	line.Suffix = rest
	return line
}

func isRoleByte(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// readQuoted reads a double-quoted string at the start of s and returns the
// unescaped value and the number of bytes consumed.
func readQuoted(s string) (string, int, bool) {
	if len(s) == 0 || s[0] != '"' {
		return "", 0, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			quoted := s[:i+1]
			if v, err := strconv.Unquote(quoted); err == nil {
				return v, i + 1, true
			}
			return s[1:i], i + 1, true
		}
	}
	return "", 0, false
}

// quoteName renders a name the way readQuoted expects it.
func quoteName(name string) string {
	return strconv.Quote(name)
}

// cutDepth drops lines nested deeper than maxDepth. Descendants of a kept
// line are not re-parented.
func cutDepth(lines []Line, maxDepth *int) []Line {
	if maxDepth == nil {
		return lines
	}
	out := lines[:0:0]
	for _, l := range lines {
		if l.Depth <= *maxDepth {
			out = append(out, l)
		}
	}
	return out
}
