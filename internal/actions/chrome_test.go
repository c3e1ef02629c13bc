package actions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cdpilot/internal/browser"
	"cdpilot/internal/config"

	"github.com/gorilla/websocket"
)

// axNode is the wire shape of one Accessibility.getFullAXTree node.
type axNode struct {
	id, parent, role, name string
	children               []string
	backend                int
}

func (n axNode) wire() map[string]any {
	out := map[string]any{
		"nodeId":           n.id,
		"ignored":          false,
		"role":             map[string]any{"type": "role", "value": n.role},
		"childIds":         n.children,
		"backendDOMNodeId": n.backend,
	}
	if n.parent != "" {
		out["parentId"] = n.parent
	}
	if n.name != "" {
		out["name"] = map[string]any{"type": "computedString", "value": n.name}
	}
	return out
}

// loginPage has an Email field and two identical "Sign in" buttons.
var loginPage = []axNode{
	{id: "1", role: "RootWebArea", name: "Login", children: []string{"2", "3", "4"}, backend: 1},
	{id: "2", parent: "1", role: "textbox", name: "Email", backend: 60},
	{id: "3", parent: "1", role: "button", name: "Sign in", backend: 50},
	{id: "4", parent: "1", role: "button", name: "Sign in", backend: 70},
}

// chrome is a scripted browser endpoint: enough of CDP for rod to attach to
// one page, read its accessibility tree and drive elements by backend node.
type chrome struct {
	srv *httptest.Server

	mu       sync.Mutex
	tree     []axNode
	nextObj  int
	mouse    []string
	inserted []string
	// object ids that enabled checks and focus calls ran against
	enabledChecks []string
	focused       []string
}

func fakeChrome(t *testing.T, tree []axNode) *chrome {
	t.Helper()
	c := &chrome{tree: tree}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Browser":              "Chrome/126",
			"Protocol-Version":     "1.3",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				ID        int64           `json:"id"`
				SessionID string          `json:"sessionId"`
				Method    string          `json:"method"`
				Params    json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			reply := map[string]any{"id": msg.ID, "result": c.answer(msg.Method, msg.Params)}
			if msg.SessionID != "" {
				reply["sessionId"] = msg.SessionID
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	})
	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *chrome) URL() string { return c.srv.URL }

func (c *chrome) manager(t *testing.T) *browser.Manager {
	t.Helper()
	cfg := config.DefaultConfig().Browser
	cfg.CDPURL = c.URL()
	m := browser.NewManager(cfg)
	t.Cleanup(func() { m.Close() })
	return m
}

func objectFor(backend int) string { return "node-" + strconv.Itoa(backend) }

func backendOf(objectID string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(objectID, "node-"))
	return n
}

func (c *chrome) answer(method string, raw json.RawMessage) any {
	var p map[string]any
	_ = json.Unmarshal(raw, &p)
	str := func(k string) string { s, _ := p[k].(string); return s }

	c.mu.Lock()
	defer c.mu.Unlock()
	switch method {
	case "Target.getTargets":
		return map[string]any{"targetInfos": []any{c.pageInfo()}}
	case "Target.getTargetInfo":
		return map[string]any{"targetInfo": c.pageInfo()}
	case "Target.attachToTarget":
		return map[string]any{"sessionId": "S1"}
	case "Accessibility.getFullAXTree":
		nodes := make([]any, len(c.tree))
		for i, n := range c.tree {
			nodes[i] = n.wire()
		}
		return map[string]any{"nodes": nodes}
	case "DOM.resolveNode":
		backend, _ := p["backendNodeId"].(float64)
		return map[string]any{"object": map[string]any{
			"type": "object", "subtype": "node", "objectId": objectFor(int(backend)),
		}}
	case "DOM.describeNode":
		return map[string]any{"node": map[string]any{
			"nodeId": 0, "backendNodeId": backendOf(str("objectId")),
			"nodeType": 1, "nodeName": "DIV", "localName": "div", "nodeValue": "",
		}}
	case "DOM.getContentQuads":
		return map[string]any{"quads": [][]float64{{10, 10, 110, 10, 110, 40, 10, 40}}}
	case "DOM.getNodeForLocation":
		return map[string]any{"backendNodeId": 1, "frameId": "T1"}
	case "Runtime.evaluate":
		return map[string]any{"result": map[string]any{"type": "object", "objectId": "window"}}
	case "Runtime.callFunctionOn":
		return c.callFunction(str("functionDeclaration"), str("objectId"), p["returnByValue"] == true)
	case "Input.dispatchMouseEvent":
		c.mouse = append(c.mouse, str("type"))
	case "Input.insertText":
		c.inserted = append(c.inserted, str("text"))
	}
	return map[string]any{}
}

func (c *chrome) pageInfo() map[string]any {
	return map[string]any{
		"targetId": "T1", "type": "page", "title": "Login",
		"url": "https://app.test/login", "attached": true, "canAccessOpener": false,
	}
}

func (c *chrome) callFunction(decl, objectID string, byValue bool) any {
	value := func(v any) any { return map[string]any{"result": map[string]any{"type": "object", "value": v}} }
	switch {
	case strings.TrimSpace(decl) == "() => window":
		return map[string]any{"result": map[string]any{"type": "object", "objectId": "window"}}
	case !byValue:
		c.nextObj++
		return map[string]any{"result": map[string]any{"type": "object", "objectId": fmt.Sprintf("obj-%d", c.nextObj)}}
	case strings.Contains(decl, "pointerEvents === 'none'"):
		return value(false)
	case strings.Contains(decl, "window.scrollX"):
		return value(map[string]any{"x": 0, "y": 0})
	case strings.Contains(decl, "!this.disabled"):
		c.enabledChecks = append(c.enabledChecks, objectID)
	case strings.Contains(decl, "this.focus()"):
		c.focused = append(c.focused, objectID)
	}
	return value(true)
}

func (c *chrome) record() (mouse, inserted, enabled, focused []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := func(s []string) []string { return append([]string(nil), s...) }
	return clone(c.mouse), clone(c.inserted), clone(c.enabledChecks), clone(c.focused)
}
