package browser

import (
	"context"
	"fmt"
	"time"

	"cdpilot/internal/logging"
	"cdpilot/internal/snapshot"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// Snapshot formats.
const (
	FormatRole = "role"
	FormatAI   = "ai"
	FormatAria = "aria"
)

const aiSnapshotTimeout = 5 * time.Second

// SnapshotRequest selects the page, format and shaping of a snapshot.
type SnapshotRequest struct {
	TargetID      string `json:"targetId,omitempty"`
	Format        string `json:"format,omitempty"`
	Interactive   bool   `json:"interactive,omitempty"`
	Compact       bool   `json:"compact,omitempty"`
	MaxDepth      *int   `json:"maxDepth,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	MaxChars      int    `json:"maxChars,omitempty"`
	Selector      string `json:"selector,omitempty"`
	FrameSelector string `json:"frameSelector,omitempty"`
}

// SnapshotResult is returned for every format; fields not produced by the
// chosen format stay empty.
type SnapshotResult struct {
	OK        bool                `json:"ok"`
	Format    string              `json:"format"`
	TargetID  string              `json:"targetId"`
	URL       string              `json:"url,omitempty"`
	Snapshot  string              `json:"snapshot,omitempty"`
	Nodes     []snapshot.FlatNode `json:"nodes,omitempty"`
	Refs      snapshot.Refs       `json:"refs,omitempty"`
	Stats     *snapshot.Stats     `json:"stats,omitempty"`
	Truncated bool                `json:"truncated,omitempty"`
}

// Snapshot captures the accessibility tree of a page and stores any refs it
// assigns both on the page state and in the ref cache.
func (m *Manager) Snapshot(ctx context.Context, cdpURL string, req SnapshotRequest) (*SnapshotResult, error) {
	timer := logging.StartTimer(logging.CategorySnapshot, "snapshot "+req.Format)
	defer timer.StopWithThreshold(2 * time.Second)

	endpoint := m.Endpoint(cdpURL)
	page, st, err := m.Page(ctx, endpoint, req.TargetID)
	if err != nil {
		return nil, err
	}
	out := &SnapshotResult{OK: true, Format: req.Format, TargetID: string(page.TargetID)}
	if info, err := page.Info(); err == nil {
		out.URL = info.URL
	}

	switch req.Format {
	case FormatAria:
		tree, err := FetchAXTree(ctx, page, "")
		if err != nil {
			return nil, err
		}
		out.Nodes = tree.Flatten(req.Limit)

	case FormatAI:
		aiCtx, cancel := context.WithTimeout(ctx, aiSnapshotTimeout)
		defer cancel()
		tree, err := FetchAXTree(aiCtx, page, "")
		if err != nil {
			return nil, err
		}
		res := snapshot.BuildAI(tree.RenderLines(""), req.MaxChars)
		out.Snapshot = res.Snapshot
		out.Refs = res.Refs
		out.Stats = &res.Stats
		out.Truncated = res.Truncated
		m.storeRefs(endpoint, st, RefEntry{Refs: res.Refs, Mode: snapshot.ModeAria})

	case FormatRole, "":
		out.Format = FormatRole
		scope, err := AXScope(ctx, page, req.FrameSelector, req.Selector)
		if err != nil {
			return nil, err
		}
		res := snapshot.Build(scope.Tree.Render(scope.From), snapshot.Options{
			Interactive: req.Interactive,
			Compact:     req.Compact,
			MaxDepth:    req.MaxDepth,
		})
		out.Snapshot = res.Snapshot
		out.Refs = res.Refs
		out.Stats = &res.Stats
		m.storeRefs(endpoint, st, RefEntry{
			Refs:          res.Refs,
			Mode:          snapshot.ModeRole,
			FrameSelector: req.FrameSelector,
			Selector:      req.Selector,
			MaxDepth:      req.MaxDepth,
		})

	default:
		return nil, fmt.Errorf("unknown snapshot format %q", req.Format)
	}

	logging.SnapshotDebug("%s snapshot of %s: %d refs", out.Format, out.TargetID, len(out.Refs))
	return out, nil
}

func (m *Manager) storeRefs(endpoint string, st *PageState, e RefEntry) {
	st.SetRefs(e)
	m.refs.Put(RefCacheKey(endpoint, st.TargetID), e)
}

// Scope is an accessibility tree together with the page or frame it was
// read from and the node rendering starts at. An empty From means the root.
type Scope struct {
	Page *rod.Page
	Tree *snapshot.Tree
	From string
}

// AXScope loads the accessibility tree for a page, or for the frame matched
// by frameSelector, narrowed to the first element matching selector.
func AXScope(ctx context.Context, page *rod.Page, frameSelector, selector string) (*Scope, error) {
	scope := page.Context(ctx)
	if frameSelector != "" {
		el, err := scope.Element(frameSelector)
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", frameSelector, err)
		}
		frame, err := el.Frame()
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", frameSelector, err)
		}
		scope = frame.Context(ctx)
	}

	tree, err := FetchAXTree(ctx, scope, scope.FrameID)
	if err != nil {
		return nil, err
	}
	out := &Scope{Page: scope, Tree: tree}
	if selector == "" {
		return out, nil
	}

	el, err := scope.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	node, err := proto.DOMDescribeNode{ObjectID: el.Object.ObjectID}.Call(scope)
	if err != nil {
		return nil, fmt.Errorf("describe %q: %w", selector, err)
	}
	from, ok := tree.NodeForBackend(int(node.Node.BackendNodeID))
	if !ok {
		return nil, fmt.Errorf("selector %q has no accessibility node", selector)
	}
	out.From = from
	return out, nil
}

// FetchAXTree pulls the full accessibility tree of a frame. An empty frame
// id means the page's main frame.
func FetchAXTree(ctx context.Context, page *rod.Page, frameID proto.PageFrameID) (*snapshot.Tree, error) {
	res, err := proto.AccessibilityGetFullAXTree{FrameID: frameID}.Call(page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("accessibility tree: %w", err)
	}
	nodes := make([]snapshot.AXNode, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if n == nil {
			continue
		}
		nodes = append(nodes, convertAXNode(n))
	}
	return snapshot.NewTree(nodes), nil
}

func convertAXNode(n *proto.AccessibilityAXNode) snapshot.AXNode {
	out := snapshot.AXNode{
		ID:            string(n.NodeID),
		ParentID:      string(n.ParentID),
		Role:          axValue(n.Role),
		Name:          axValue(n.Name),
		Value:         axValue(n.Value),
		Description:   axValue(n.Description),
		Ignored:       n.Ignored,
		BackendNodeID: int(n.BackendDOMNodeID),
	}
	for _, id := range n.ChildIDs {
		out.ChildIDs = append(out.ChildIDs, string(id))
	}
	for _, p := range n.Properties {
		if p == nil || p.Value == nil {
			continue
		}
		if out.Props == nil {
			out.Props = make(map[string]string)
		}
		out.Props[string(p.Name)] = axValue(p.Value)
	}
	return out
}

func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	return jsonText(v.Value)
}

// jsonText renders a CDP value as plain text: strings unquoted, everything
// else as JSON.
func jsonText(v gson.JSON) string {
	if v.Nil() {
		return ""
	}
	return v.String()
}
