package actions

import (
	"context"
	"fmt"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/logging"

	"github.com/go-rod/rod"
)

// Target addresses the page an action runs against.
type Target struct {
	CDPURL   string `json:"cdpUrl,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// Dispatcher executes actions through a browser manager.
type Dispatcher struct {
	browser *browser.Manager

	defaultTimeoutMs  int
	navigateTimeoutMs int
	allowEvaluate     bool
}

func NewDispatcher(m *browser.Manager) *Dispatcher {
	cfg := m.Config()
	return &Dispatcher{
		browser:           m,
		defaultTimeoutMs:  int(cfg.ActionTimeout().Milliseconds()),
		navigateTimeoutMs: int(cfg.NavigateTimeout().Milliseconds()),
		allowEvaluate:     cfg.AllowEvaluate,
	}
}

// Execute validates req, prepares the page and runs the action. Every
// failure passes through TranslateError.
func (d *Dispatcher) Execute(ctx context.Context, req Request, target Target) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryActions, string(req.Kind))
	defer timer.StopWithThreshold(5 * time.Second)

	page, st, err := d.prepare(ctx, target)
	if err != nil {
		return nil, TranslateError(err)
	}

	res, err := d.run(ctx, page, st, req)
	if err != nil {
		logging.ActionsDebug("%s on %s failed: %v", req.Kind, page.TargetID, err)
		return nil, TranslateError(err)
	}
	res.OK = true
	res.Action = req.Kind
	res.TargetID = string(page.TargetID)
	if res.URL == "" {
		if info, err := page.Info(); err == nil {
			res.URL = info.URL
		}
	}
	logging.ActionsDebug("%s on %s ok", req.Kind, page.TargetID)
	return res, nil
}

// prepare resolves the page and restores refs from the cache when the live
// page state has none, which happens after a reconnect.
func (d *Dispatcher) prepare(ctx context.Context, target Target) (*rod.Page, *browser.PageState, error) {
	page, st, err := d.browser.Page(ctx, target.CDPURL, target.TargetID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := st.Refs(); !ok {
		key := browser.RefCacheKey(d.browser.Endpoint(target.CDPURL), string(page.TargetID))
		if cached, ok := d.browser.RefCache().Get(key); ok {
			st.SetRefs(cached)
			logging.ActionsDebug("restored %d refs for %s from cache", len(cached.Refs), page.TargetID)
		}
	}
	return page, st, nil
}

// defaultWaitTimeoutMs applies to wait conditions when no timeout is given.
const defaultWaitTimeoutMs = 20000

func (d *Dispatcher) timeoutFor(req Request) time.Duration {
	switch req.Kind {
	case KindNavigate:
		return navigateTimeout(req.TimeoutMs, d.navigateTimeoutMs)
	case KindWait:
		ms := NormalizeTimeout(req.TimeoutMs, defaultWaitTimeoutMs)
		return time.Duration(ms+max(req.TimeMs, 0)) * time.Millisecond
	default:
		return actionTimeout(req.TimeoutMs, d.defaultTimeoutMs)
	}
}

func (d *Dispatcher) run(ctx context.Context, page *rod.Page, st *browser.PageState, req Request) (*Result, error) {
	timeout := d.timeoutFor(req)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	switch req.Kind {
	case KindClick:
		return d.click(ctx, page, st, req, timeout)
	case KindType:
		return d.typeText(ctx, page, st, req, timeout)
	case KindFill:
		return d.fill(ctx, page, st, req, timeout)
	case KindHover:
		return d.hover(ctx, page, st, req, timeout)
	case KindDrag:
		return d.drag(ctx, page, st, req, timeout)
	case KindSelect:
		return d.selectOptions(ctx, page, st, req, timeout)
	case KindPress:
		return d.press(ctx, page, req)
	case KindEvaluate:
		return d.evaluate(ctx, page, st, req, timeout)
	case KindWait:
		return d.wait(ctx, page, st, req, timeout)
	case KindScreenshot:
		return d.screenshot(ctx, page, st, req, timeout)
	case KindNavigate:
		return d.navigate(ctx, page, req, timeout)
	case KindUpload:
		return d.upload(ctx, page, st, req, timeout)
	case KindResize:
		return d.resize(ctx, page, req)
	case KindScroll:
		return d.scroll(ctx, page, st, req, timeout)
	}
	return nil, fmt.Errorf("unknown action %q", req.Kind)
}
