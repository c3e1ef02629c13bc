package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"

	"github.com/go-rod/rod/lib/proto"
)

// Tab describes one page target.
type Tab struct {
	TargetID string `json:"targetId"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

// Tabs lists the pages of the connected browser.
func (m *Manager) Tabs(ctx context.Context, cdpURL string) ([]Tab, error) {
	conn, err := m.Connect(ctx, cdpURL)
	if err != nil {
		return nil, err
	}
	pages, err := conn.Browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	tabs := make([]Tab, 0, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			logging.SessionDebug("tab info %s: %v", p.TargetID, err)
			continue
		}
		tabs = append(tabs, tabFromInfo(info))
	}
	return tabs, nil
}

func tabFromInfo(info *proto.TargetTargetInfo) Tab {
	return Tab{
		TargetID: string(info.TargetID),
		Title:    info.Title,
		URL:      info.URL,
		Type:     string(info.Type),
	}
}

// OpenTab creates a page at url and starts observing it.
func (m *Manager) OpenTab(ctx context.Context, cdpURL, url string) (*Tab, error) {
	conn, err := m.Connect(ctx, cdpURL)
	if err != nil {
		return nil, err
	}
	if url == "" {
		url = "about:blank"
	}
	p, err := conn.Browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	conn.observe(p)
	info, err := p.Info()
	if err != nil {
		return &Tab{TargetID: string(p.TargetID), URL: url, Type: "page"}, nil
	}
	tab := tabFromInfo(info)
	logging.Session("opened tab %s at %s", tab.TargetID, url)
	return &tab, nil
}

func (m *Manager) FocusTab(ctx context.Context, cdpURL, targetID string) error {
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return err
	}
	_, err = page.Context(ctx).Activate()
	return err
}

func (m *Manager) CloseTab(ctx context.Context, cdpURL, targetID string) error {
	conn, err := m.Connect(ctx, cdpURL)
	if err != nil {
		return err
	}
	page, err := conn.ResolvePage(ctx, targetID)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Close(); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	conn.pages.remove(string(page.TargetID))
	return nil
}

// History operations.
const (
	HistoryBack    = "back"
	HistoryForward = "forward"
	HistoryReload  = "reload"
)

// History moves a page through its session history or reloads it.
func (m *Manager) History(ctx context.Context, cdpURL, targetID, op string) (*Tab, error) {
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	timeout := m.cfg.NavigateTimeout()
	p := page.Context(ctx).Timeout(timeout)
	switch op {
	case HistoryBack:
		err = p.NavigateBack()
	case HistoryForward:
		err = p.NavigateForward()
	case HistoryReload:
		err = p.Reload()
	default:
		return nil, fmt.Errorf("unknown history operation %q", op)
	}
	if err != nil {
		return nil, &cdp.TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	info, err := page.Info()
	if err != nil {
		return nil, err
	}
	tab := tabFromInfo(info)
	return &tab, nil
}

// Cookie is the settable subset of a browser cookie.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	URL      string `json:"url,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
}

// Cookies returns the cookies visible to the page.
func (m *Manager) Cookies(ctx context.Context, cdpURL, targetID string) ([]Cookie, error) {
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	raw, err := page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  int64(c.Expires),
		})
	}
	return out, nil
}

func (m *Manager) SetCookie(ctx context.Context, cdpURL, targetID string, c Cookie) error {
	if c.Name == "" {
		return fmt.Errorf("cookie name is required")
	}
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return err
	}
	if c.URL == "" && c.Domain == "" {
		if info, err := page.Info(); err == nil {
			c.URL = info.URL
		}
	}
	param := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		URL:      c.URL,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Expires > 0 {
		param.Expires = proto.TimeSinceEpoch(c.Expires)
	}
	return page.Context(ctx).SetCookies([]*proto.NetworkCookieParam{param})
}

func (m *Manager) ClearCookies(ctx context.Context, cdpURL, targetID string) error {
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return err
	}
	return proto.NetworkClearBrowserCookies{}.Call(page.Context(ctx))
}

// Storage operations.
const (
	StorageGet    = "get"
	StorageSet    = "set"
	StorageDelete = "delete"
	StorageClear  = "clear"
)

const storageScript = `(kind, op, key, value) => {
	const s = kind === 'session' ? window.sessionStorage : window.localStorage;
	switch (op) {
	case 'set': s.setItem(key, value); break;
	case 'delete': s.removeItem(key); break;
	case 'clear': s.clear(); break;
	}
	const out = {};
	if (op === 'get' && key) {
		const v = s.getItem(key);
		if (v !== null) out[key] = v;
		return out;
	}
	for (let i = 0; i < s.length; i++) {
		const k = s.key(i);
		out[k] = s.getItem(k);
	}
	return out;
}`

// Storage reads or mutates localStorage ("local") or sessionStorage
// ("session") and returns the resulting entries.
func (m *Manager) Storage(ctx context.Context, cdpURL, targetID, kind, op, key, value string) (map[string]string, error) {
	if kind != "local" && kind != "session" {
		return nil, fmt.Errorf("storage kind must be local or session, got %q", kind)
	}
	switch op {
	case StorageGet, StorageClear:
	case StorageSet, StorageDelete:
		if key == "" {
			return nil, fmt.Errorf("storage %s requires a key", op)
		}
	default:
		return nil, fmt.Errorf("unknown storage operation %q", op)
	}
	page, _, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Eval(storageScript, kind, op, key, value)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", op, err)
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &out); err != nil {
		return nil, fmt.Errorf("decode storage: %w", err)
	}
	return out, nil
}

// Console returns buffered console messages for a page.
func (m *Manager) Console(ctx context.Context, cdpURL, targetID, level string) ([]ConsoleMessage, error) {
	_, st, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	return st.Console(level), nil
}

func (m *Manager) Errors(ctx context.Context, cdpURL, targetID string, drain bool) ([]PageError, error) {
	_, st, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	return st.Errors(drain), nil
}

func (m *Manager) Requests(ctx context.Context, cdpURL, targetID, filter string, drain bool) ([]RequestRecord, error) {
	_, st, err := m.Page(ctx, cdpURL, targetID)
	if err != nil {
		return nil, err
	}
	return st.Requests(filter, drain), nil
}

// Status reports whether an endpoint answers and whether it is attached.
type Status struct {
	Endpoint        string `json:"endpoint"`
	Reachable       bool   `json:"reachable"`
	Connected       bool   `json:"connected"`
	WebSocketURL    string `json:"webSocketUrl,omitempty"`
	Browser         string `json:"browser,omitempty"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	Pages           int    `json:"pages"`
	Error           string `json:"error,omitempty"`
}

// Status probes cdpURL without dialing a rod connection.
func (m *Manager) Status(ctx context.Context, cdpURL string) *Status {
	endpoint := m.Endpoint(cdpURL)
	st := &Status{Endpoint: endpoint}
	if c := m.cached(endpoint); c != nil {
		st.Connected = true
		st.Pages = c.pages.len()
	}

	wsURL, err := cdp.DiscoverWebSocketURL(ctx, endpoint)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.WebSocketURL = wsURL
	err = cdp.WithSocket(ctx, wsURL, func(s *cdp.Socket) error {
		raw, err := s.Send(ctx, "Browser.getVersion", nil)
		if err != nil {
			return err
		}
		var v struct {
			Product         string `json:"product"`
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		st.Browser = v.Product
		st.ProtocolVersion = v.ProtocolVersion
		return nil
	})
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Reachable = true
	return st
}
