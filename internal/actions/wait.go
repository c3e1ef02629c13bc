package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"

	"github.com/go-rod/rod"
	"github.com/gobwas/glob"
)

// networkIdleQuiet is how long a page must have no pending requests to
// count as network idle.
const networkIdleQuiet = 500 * time.Millisecond

// wait applies every condition set on req, in order, under one deadline.
func (d *Dispatcher) wait(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	p := page.Context(ctx)

	if req.TimeMs > 0 {
		if err := sleep(ctx, time.Duration(req.TimeMs)*time.Millisecond); err != nil {
			return nil, err
		}
	}
	if req.Text != "" {
		if err := p.Wait(rod.Eval(`t => !!document.body && document.body.innerText.includes(t)`, req.Text)); err != nil {
			return nil, waitFailed("text "+req.Text, timeout, err)
		}
	}
	if req.TextGone != "" {
		if err := p.Wait(rod.Eval(`t => !document.body || !document.body.innerText.includes(t)`, req.TextGone)); err != nil {
			return nil, waitFailed("text to disappear "+req.TextGone, timeout, err)
		}
	}
	if req.Selector != "" {
		el, err := p.Element(req.Selector)
		if err != nil {
			return nil, waitFailed("selector "+req.Selector, timeout, err)
		}
		if err := el.WaitVisible(); err != nil {
			return nil, waitFailed("selector "+req.Selector+" to be visible", timeout, err)
		}
	}
	if req.URL != "" {
		if err := waitURL(ctx, p, req.URL); err != nil {
			return nil, waitFailed("url "+req.URL, timeout, err)
		}
	}
	if req.LoadState != "" {
		if err := waitLoadState(ctx, p, st, req.LoadState); err != nil {
			return nil, waitFailed("load state "+req.LoadState, timeout, err)
		}
	}
	if req.Fn != "" {
		logging.ActionsWarn("wait predicate on %s: %d bytes, allowed=%t", page.TargetID, len(req.Fn), d.allowEvaluate)
		if !d.allowEvaluate {
			return nil, &cdp.ActionError{Msg: "wait predicates evaluate script and are disabled; set browser.allow_evaluate to enable them"}
		}
		if err := p.Wait(rod.Eval(fmt.Sprintf(evalWrapper, req.Fn))); err != nil {
			return nil, waitFailed("predicate", timeout, err)
		}
	}
	return &Result{}, nil
}

func waitFailed(what string, timeout time.Duration, err error) error {
	return &cdp.TimeoutError{Op: "waiting for " + what, Timeout: timeout, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// urlMatcher matches a page URL against a glob such as "**/login*". A
// pattern that does not compile is compared literally.
func urlMatcher(pattern string) func(string) bool {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return func(u string) bool { return u == pattern }
	}
	return func(u string) bool { return u == pattern || g.Match(u) }
}

func waitURL(ctx context.Context, p *rod.Page, pattern string) error {
	match := urlMatcher(pattern)
	for {
		info, err := p.Info()
		if err == nil && match(info.URL) {
			return nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func waitLoadState(ctx context.Context, p *rod.Page, st *browser.PageState, state string) error {
	switch strings.ToLower(state) {
	case "load":
		return p.WaitLoad()
	case "domcontentloaded":
		return p.Wait(rod.Eval(`() => document.readyState !== 'loading'`))
	case "networkidle":
		if err := p.WaitLoad(); err != nil {
			return err
		}
		quietSince := time.Now()
		for {
			if st.Pending() > 0 {
				quietSince = time.Now()
			} else if time.Since(quietSince) >= networkIdleQuiet {
				return nil
			}
			if err := sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("unknown load state %q", state)
}
