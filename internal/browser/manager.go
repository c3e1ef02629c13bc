// Package browser owns the connection to a running Chrome, the per-page
// observation state and the snapshot capture built on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"cdpilot/internal/cdp"
	"cdpilot/internal/config"
	"cdpilot/internal/logging"

	"github.com/go-rod/rod"
	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/singleflight"
)

// Connection is one attached browser. It is replaced, not repaired: once
// the underlying socket drops, Done is closed and the Manager dials anew.
type Connection struct {
	Endpoint string
	Browser  *rod.Browser

	cfg    config.BrowserConfig
	ctx    context.Context
	cancel context.CancelFunc
	ws     io.Closer
	pages  *pageRegistry

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Connection)
}

func newConnection(endpoint string, cfg config.BrowserConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		Endpoint: endpoint,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		pages:    newPageRegistry(),
		done:     make(chan struct{}),
	}
}

// Done is closed once the connection is gone.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close detaches from the browser without closing it.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.ws != nil {
			err = c.ws.Close()
		}
		c.pages.clear()
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// instrument starts observing every existing page and subscribes to target
// creation and destruction for pages opened later.
func (c *Connection) instrument() error {
	pages, err := c.Browser.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		c.observe(p)
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(c.Browser); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}
	wait := c.Browser.Context(c.ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo == nil || e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			go c.observeTarget(e.TargetInfo.TargetID)
		},
		func(e *proto.TargetTargetDestroyed) {
			logging.SessionDebug("target destroyed: %s", e.TargetID)
			c.pages.remove(string(e.TargetID))
		},
	)
	go func() {
		wait()
		if !c.closed() {
			logging.SessionWarn("browser connection to %s dropped", c.Endpoint)
		}
		c.Close()
	}()
	return nil
}

func (c *Connection) observeTarget(id proto.TargetTargetID) {
	p, err := c.Browser.PageFromTarget(id)
	if err != nil {
		logging.SessionDebug("attach to new target %s: %v", id, err)
		return
	}
	c.observe(p)
}

// observe attaches the console, exception and network listeners to a page.
// Calling it again for the same target is a no-op.
func (c *Connection) observe(p *rod.Page) *PageState {
	targetID := string(p.TargetID)
	st, created := c.pages.getOrCreate(targetID, func() *PageState {
		st := newPageState(targetID, c.cfg.ConsoleBufferSize, c.cfg.ErrorBufferSize, c.cfg.RequestBufferSize)
		st.ctx, st.stop = context.WithCancel(c.ctx)
		return st
	})
	if !created {
		return st
	}

	wait := p.Context(st.ctx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			msg := ConsoleMessage{
				Type:      string(e.Type),
				Text:      stringifyConsoleArgs(e.Args),
				Timestamp: time.Now(),
			}
			if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
				top := e.StackTrace.CallFrames[0]
				msg.URL = top.URL
				msg.Line = top.LineNumber
				msg.Column = top.ColumnNumber
			}
			st.AddConsole(msg)
		},
		func(e *proto.RuntimeExceptionThrown) {
			st.AddError(pageErrorFrom(e.ExceptionDetails))
		},
		func(e *proto.NetworkRequestWillBeSent) {
			recordRequest(st, e, time.Now())
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			st.RequestFinished(string(e.RequestID), e.Response.Status)
		},
		func(e *proto.NetworkLoadingFailed) {
			st.RequestFailed(string(e.RequestID), e.ErrorText)
		},
	)
	go wait()
	logging.SessionDebug("observing page %s", targetID)
	return st
}

// recordRequest adds a request record. A redirect reuses the request id,
// so the previous hop is settled with the redirect status first.
func recordRequest(st *PageState, e *proto.NetworkRequestWillBeSent, at time.Time) {
	if e.Request == nil {
		return
	}
	if e.RedirectResponse != nil {
		st.RequestFinished(string(e.RequestID), e.RedirectResponse.Status)
	}
	st.RequestStarted(string(e.RequestID), e.Request.Method, e.Request.URL, string(e.Type), at)
}

func pageErrorFrom(d *proto.RuntimeExceptionDetails) PageError {
	pe := PageError{Timestamp: time.Now()}
	if d == nil {
		return pe
	}
	pe.Message = d.Text
	if d.Exception != nil {
		pe.Name = d.Exception.ClassName
		if d.Exception.Description != "" {
			pe.Stack = d.Exception.Description
			if first, _, _ := strings.Cut(d.Exception.Description, "\n"); first != "" {
				pe.Message = first
			}
		}
	}
	return pe
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// ResolvePage finds the page for targetID. An empty targetID selects the
// first page; an unknown one falls back to the only page when exactly one
// exists.
func (c *Connection) ResolvePage(ctx context.Context, targetID string) (*rod.Page, error) {
	pages, err := c.Browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = string(p.TargetID)
		if targetID != "" && ids[i] != targetID {
			ids[i] = liveTargetID(ctx, p)
		}
	}
	idx, ok := pickPage(ids, targetID)
	if !ok {
		return nil, &cdp.TargetNotFoundError{TargetID: targetID}
	}
	return pages[idx], nil
}

func liveTargetID(ctx context.Context, p *rod.Page) string {
	res, err := proto.TargetGetTargetInfo{}.Call(p.Context(ctx).Timeout(2 * time.Second))
	if err != nil || res.TargetInfo == nil {
		return string(p.TargetID)
	}
	return string(res.TargetInfo.TargetID)
}

func pickPage(ids []string, targetID string) (int, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	if targetID == "" {
		return 0, true
	}
	for i, id := range ids {
		if id == targetID {
			return i, true
		}
	}
	if len(ids) == 1 {
		return 0, true
	}
	return 0, false
}

type dialFunc func(ctx context.Context, endpoint string, timeout time.Duration) (*Connection, error)

// Manager hands out a shared browser connection. Concurrent Connect calls
// for the same endpoint share one dial.
type Manager struct {
	cfg   config.BrowserConfig
	refs  *RefCache
	group singleflight.Group

	mu   sync.RWMutex
	conn *Connection

	dial    dialFunc
	backoff func() time.Duration
}

func NewManager(cfg config.BrowserConfig) *Manager {
	m := &Manager{
		cfg:  cfg,
		refs: NewRefCache(cfg.RefCacheSize),
		backoff: func() time.Duration {
			return time.Duration(250+rand.IntN(500)) * time.Millisecond
		},
	}
	m.dial = m.dialRod
	return m
}

// Config returns the browser configuration the manager was built with.
func (m *Manager) Config() config.BrowserConfig { return m.cfg }

// RefCache returns the cross-connection ref store.
func (m *Manager) RefCache() *RefCache { return m.refs }

// Endpoint normalizes cdpURL, falling back to the configured endpoint.
func (m *Manager) Endpoint(cdpURL string) string {
	u := strings.TrimSpace(cdpURL)
	if u == "" {
		u = m.cfg.CDPURL
	}
	return strings.TrimRight(u, "/")
}

// Connect returns the cached connection for cdpURL or dials a new one.
// A caller whose ctx ends stops waiting, but the shared dial carries on for
// the other waiters.
func (m *Manager) Connect(ctx context.Context, cdpURL string) (*Connection, error) {
	endpoint := m.Endpoint(cdpURL)
	if c := m.cached(endpoint); c != nil {
		return c, nil
	}

	ch := m.group.DoChan(endpoint, func() (interface{}, error) {
		if c := m.cached(endpoint); c != nil {
			return c, nil
		}
		conn, err := m.connectWithRetry(context.WithoutCancel(ctx), endpoint)
		if err != nil {
			return nil, err
		}
		conn.onClose = m.forget

		m.mu.Lock()
		old := m.conn
		m.conn = conn
		m.mu.Unlock()
		if old != nil && old != conn {
			old.Close()
		}
		logging.Session("connected to %s", endpoint)
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	}
}

func (m *Manager) cached(endpoint string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn != nil && m.conn.Endpoint == endpoint && !m.conn.closed() {
		return m.conn
	}
	return nil
}

func (m *Manager) forget(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == c {
		m.conn = nil
	}
}

func (m *Manager) connectWithRetry(ctx context.Context, endpoint string) (*Connection, error) {
	attempts := m.cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		timeout := time.Duration(5000+attempt*2000) * time.Millisecond
		conn, err := m.dial(ctx, endpoint, timeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logging.SessionWarn("connect %s attempt %d/%d: %v", endpoint, attempt+1, attempts, err)
		if attempt < attempts-1 {
			time.Sleep(m.backoff())
		}
	}
	return nil, &cdp.ConnectionError{Endpoint: endpoint, Attempts: attempts, Err: lastErr}
}

// dialRod resolves the browser websocket and attaches rod to it. The socket
// is owned here so that Close detaches instead of shutting Chrome down.
func (m *Manager) dialRod(ctx context.Context, endpoint string, timeout time.Duration) (*Connection, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wsURL, err := cdp.DiscoverWebSocketURL(attemptCtx, endpoint)
	if err != nil {
		return nil, err
	}
	ws := &rodcdp.WebSocket{}
	if err := ws.Connect(attemptCtx, wsURL, nil); err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &cdp.TimeoutError{Op: "connect " + endpoint, Timeout: timeout, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	conn := newConnection(endpoint, m.cfg)
	conn.ws = ws
	conn.Browser = rod.New().Client(rodcdp.New().Start(ws)).Context(conn.ctx)

	// Connect and instrument are bounded by the same attempt deadline.
	expired := time.AfterFunc(time.Until(deadlineOf(attemptCtx)), func() { ws.Close() })
	defer expired.Stop()
	if err := conn.Browser.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach %s: %w", endpoint, err)
	}
	if err := conn.instrument(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(time.Minute)
}

// Page resolves targetID on the endpoint's connection and makes sure the
// page is observed.
func (m *Manager) Page(ctx context.Context, cdpURL, targetID string) (*rod.Page, *PageState, error) {
	conn, err := m.Connect(ctx, cdpURL)
	if err != nil {
		return nil, nil, err
	}
	page, err := conn.ResolvePage(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	return page, conn.observe(page), nil
}

// Close drops the current connection, leaving the browser running.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
