package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/cdp"
	"cdpilot/internal/snapshot"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ParseRef accepts "e1", "@e1" or "ref=e1" and returns "e1".
func ParseRef(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, "ref=")
	if len(s) < 2 || s[0] != 'e' {
		return "", false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return s, true
}

func unknownRef(raw string) error {
	return &cdp.TargetNotFoundError{
		Msg: fmt.Sprintf("Unknown ref %q, run a new snapshot and use a ref from it", raw),
	}
}

// lookupRef finds raw among the refs stored for a page.
func lookupRef(entry browser.RefEntry, found bool, raw string) (snapshot.RoleRef, error) {
	id, ok := ParseRef(raw)
	if !ok || !found {
		return snapshot.RoleRef{}, unknownRef(raw)
	}
	ref, ok := entry.Refs[id]
	if !ok {
		return snapshot.RoleRef{}, unknownRef(raw)
	}
	return ref, nil
}

// pollInterval is how often role lookups re-read the accessibility tree.
const pollInterval = 100 * time.Millisecond

// resolve turns a ref into a live element. Aria refs go straight to their
// backend node; role refs are looked up in a freshly read tree until one
// match is found or the timeout passes.
func resolve(ctx context.Context, page *rod.Page, st *browser.PageState, raw string, timeout time.Duration) (*rod.Element, error) {
	entry, found := st.Refs()
	ref, err := lookupRef(entry, found, raw)
	if err != nil {
		return nil, err
	}

	if entry.Mode == snapshot.ModeAria {
		if ref.BackendNodeID == 0 {
			return nil, unknownRef(raw)
		}
		return page.Context(ctx).ElementFromNode(&proto.DOMNode{
			BackendNodeID: proto.DOMBackendNodeID(ref.BackendNodeID),
		})
	}

	// The poll deadline only bounds the lookup; the element keeps ctx.
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var lastErr error
	for {
		el, err := resolveRole(pollCtx, page, entry, ref)
		if err == nil {
			return el.Context(ctx), nil
		}
		if isStrict(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-pollCtx.Done():
			return nil, &cdp.TimeoutError{
				Op:      fmt.Sprintf("waiting for %s", describeRef(ref)),
				Timeout: timeout,
				Err:     lastErr,
			}
		case <-time.After(pollInterval):
		}
	}
}

type strictError struct {
	ref     snapshot.RoleRef
	matches int
}

func (e *strictError) Error() string {
	return fmt.Sprintf("strict mode violation: %s resolved to %d elements", describeRef(e.ref), e.matches)
}

func isStrict(err error) bool {
	_, ok := err.(*strictError)
	return ok
}

func describeRef(ref snapshot.RoleRef) string {
	s := "role=" + ref.Role
	if ref.Name != "" {
		s += fmt.Sprintf("[name=%q]", ref.Name)
	}
	if ref.Nth != nil {
		s += fmt.Sprintf(" >> nth=%d", *ref.Nth)
	}
	return s
}

// pickMatch applies nth to the nodes matching a role ref.
func pickMatch(matches []*snapshot.AXNode, ref snapshot.RoleRef) (*snapshot.AXNode, error) {
	if ref.Nth == nil && len(matches) > 1 {
		return nil, &strictError{ref: ref, matches: len(matches)}
	}
	idx := ref.NthOrZero()
	if idx >= len(matches) {
		return nil, fmt.Errorf("no element matches %s", describeRef(ref))
	}
	return matches[idx], nil
}

func resolveRole(ctx context.Context, page *rod.Page, entry browser.RefEntry, ref snapshot.RoleRef) (*rod.Element, error) {
	scope, err := browser.AXScope(ctx, page, entry.FrameSelector, entry.Selector)
	if err != nil {
		return nil, err
	}
	node, err := pickMatch(scope.Tree.FindByRole(scope.From, ref.Role, ref.Name, entry.MaxDepth), ref)
	if err != nil {
		return nil, err
	}
	if node.BackendNodeID == 0 {
		return nil, fmt.Errorf("%s has no DOM node", describeRef(ref))
	}
	return scope.Page.ElementFromNode(&proto.DOMNode{BackendNodeID: proto.DOMBackendNodeID(node.BackendNodeID)})
}
