package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"
)

// slowTypeDelay is the pause between keystrokes when typing slowly.
const slowTypeDelay = 75 * time.Millisecond

func mouseButton(name string) proto.InputMouseButton {
	switch name {
	case "right":
		return proto.InputMouseButtonRight
	case "middle":
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

func (d *Dispatcher) click(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	mods := make([]input.Key, 0, len(req.Modifiers))
	for _, m := range req.Modifiers {
		k, err := parseModifier(m)
		if err != nil {
			return nil, err
		}
		mods = append(mods, k)
	}
	el, err := resolve(ctx, page, st, req.Ref, timeout)
	if err != nil {
		return nil, err
	}
	count := 1
	if req.DoubleClick {
		count = 2
	}
	err = withModifiers(page.Keyboard, mods, func() error {
		return el.Click(mouseButton(req.Button), count)
	})
	if err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (d *Dispatcher) typeText(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	el, err := resolve(ctx, page, st, req.Ref, timeout)
	if err != nil {
		return nil, err
	}
	if req.Slowly {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, err
		}
		if err := typeSlowly(ctx, page, req.Text); err != nil {
			return nil, err
		}
	} else if err := fillText(page, el, req.Text); err != nil {
		return nil, err
	}
	if req.Submit {
		if err := page.Keyboard.Type(input.Enter); err != nil {
			return nil, err
		}
	}
	return &Result{}, nil
}

// fillText replaces the element's current value.
func fillText(page *rod.Page, el *rod.Element, text string) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if text == "" {
		return page.Keyboard.Type(input.Backspace)
	}
	return el.Input(text)
}

func typeSlowly(ctx context.Context, page *rod.Page, text string) error {
	for i, r := range text {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(slowTypeDelay):
			}
		}
		var err error
		switch {
		case r == '\n':
			err = page.Keyboard.Type(input.Enter)
		case r >= ' ' && r < 0x7f:
			err = page.Keyboard.Type(input.Key(r))
		default:
			err = page.InsertText(string(r))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fieldChecked reads a fill value meant for a checkbox or radio.
func fieldChecked(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b || strings.EqualFold(strings.TrimSpace(x), "on")
	case float64:
		return x != 0
	}
	return false
}

func fieldText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// fill resolves every field concurrently, then writes them in order so
// focus moves predictably.
func (d *Dispatcher) fill(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	els := make([]*rod.Element, len(req.Fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range req.Fields {
		g.Go(func() error {
			el, err := resolve(gctx, page, st, f.Ref, timeout)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Ref, err)
			}
			els[i] = el.Context(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, f := range req.Fields {
		el := els[i]
		switch strings.ToLower(f.Type) {
		case "checkbox", "radio":
			if err := setChecked(el, fieldChecked(f.Value)); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Ref, err)
			}
		default:
			if err := fillText(page, el, fieldText(f.Value)); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Ref, err)
			}
		}
	}
	return &Result{}, nil
}

func setChecked(el *rod.Element, want bool) error {
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == want {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *Dispatcher) hover(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	el, err := resolve(ctx, page, st, req.Ref, timeout)
	if err != nil {
		return nil, err
	}
	if err := el.Hover(); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func center(el *rod.Element) (proto.Point, error) {
	if err := el.ScrollIntoView(); err != nil {
		return proto.Point{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return proto.Point{}, err
	}
	box := shape.Box()
	if box == nil {
		return proto.Point{}, fmt.Errorf("element has no layout box")
	}
	return proto.Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}, nil
}

func (d *Dispatcher) drag(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	from, err := resolve(ctx, page, st, req.StartRef, timeout)
	if err != nil {
		return nil, err
	}
	to, err := resolve(ctx, page, st, req.EndRef, timeout)
	if err != nil {
		return nil, err
	}
	start, err := center(from)
	if err != nil {
		return nil, err
	}
	end, err := center(to)
	if err != nil {
		return nil, err
	}

	mouse := page.Mouse
	if err := mouse.MoveTo(start); err != nil {
		return nil, err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, err
	}
	if err := mouse.MoveLinear(end, 10); err != nil {
		_ = mouse.Up(proto.InputMouseButtonLeft, 1)
		return nil, err
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// selectOptions matches options by visible text first, then by value.
func (d *Dispatcher) selectOptions(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	el, err := resolve(ctx, page, st, req.Ref, timeout)
	if err != nil {
		return nil, err
	}
	if err := el.Select(req.Values, true, rod.SelectorTypeText); err == nil {
		return &Result{}, nil
	}
	byValue := make([]string, len(req.Values))
	for i, v := range req.Values {
		byValue[i] = fmt.Sprintf("[value=%s]", strconv.Quote(v))
	}
	if err := el.Select(byValue, true, rod.SelectorTypeCSSSector); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (d *Dispatcher) press(ctx context.Context, page *rod.Page, req Request) (*Result, error) {
	c, err := parseChord(req.Key)
	if err != nil {
		return nil, err
	}
	if err := c.press(page.Context(ctx).Keyboard); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// evalWrapper lets fn be either a function or a bare expression. Element
// scoped calls receive the element as both this and the first argument.
const evalWrapper = `function() { const fn = (%s); return typeof fn === 'function' ? fn.call(this, this) : fn; }`

func (d *Dispatcher) evaluate(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	logging.ActionsWarn("evaluate on %s: %d bytes, ref=%q, allowed=%t", page.TargetID, len(req.Fn), req.Ref, d.allowEvaluate)
	if !d.allowEvaluate {
		return nil, &cdp.ActionError{Msg: "evaluate is disabled; set browser.allow_evaluate to enable it"}
	}

	opts := rod.Eval(fmt.Sprintf(evalWrapper, req.Fn)).ByPromise()
	var (
		res *proto.RuntimeRemoteObject
		err error
	)
	if req.Ref != "" {
		el, rerr := resolve(ctx, page, st, req.Ref, timeout)
		if rerr != nil {
			return nil, rerr
		}
		res, err = el.Evaluate(opts)
	} else {
		res, err = page.Context(ctx).Evaluate(opts)
	}
	if err != nil {
		return nil, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode evaluate result: %w", err)
	}
	return &Result{Result: raw}, nil
}

func (d *Dispatcher) screenshot(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	format := proto.PageCaptureScreenshotFormatPng
	if req.Type == "jpeg" {
		format = proto.PageCaptureScreenshotFormatJpeg
	}

	var (
		data []byte
		err  error
	)
	switch {
	case req.Ref != "":
		el, rerr := resolve(ctx, page, st, req.Ref, timeout)
		if rerr != nil {
			return nil, rerr
		}
		data, err = el.Screenshot(format, 0)
	case req.Element != "":
		el, rerr := page.Context(ctx).Element(req.Element)
		if rerr != nil {
			return nil, rerr
		}
		data, err = el.Screenshot(format, 0)
	default:
		data, err = page.Context(ctx).Screenshot(req.FullPage, &proto.PageCaptureScreenshot{Format: format})
	}
	if err != nil {
		return nil, err
	}
	return &Result{Data: data}, nil
}

func (d *Dispatcher) navigate(ctx context.Context, page *rod.Page, req Request, timeout time.Duration) (*Result, error) {
	p := page.Context(ctx)
	if err := p.Navigate(req.URL); err != nil {
		return nil, err
	}
	if err := p.WaitLoad(); err != nil {
		return nil, &cdp.TimeoutError{Op: "navigate " + req.URL, Timeout: timeout, Err: err}
	}
	return &Result{}, nil
}

const dispatchFileEvents = `function() {
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (d *Dispatcher) upload(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	el, err := resolve(ctx, page, st, req.Ref, timeout)
	if err != nil {
		return nil, err
	}
	if err := el.SetFiles(req.Paths); err != nil {
		return nil, err
	}
	// Some frameworks only react to synthetic events on file inputs.
	if _, err := el.Eval(dispatchFileEvents); err != nil {
		logging.ActionsDebug("upload event dispatch: %v", err)
	}
	return &Result{}, nil
}

func (d *Dispatcher) resize(ctx context.Context, page *rod.Page, req Request) (*Result, error) {
	err := page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (d *Dispatcher) scroll(ctx context.Context, page *rod.Page, st *browser.PageState, req Request, timeout time.Duration) (*Result, error) {
	if req.Ref != "" {
		el, err := resolve(ctx, page, st, req.Ref, timeout)
		if err != nil {
			return nil, err
		}
		if err := el.ScrollIntoView(); err != nil {
			return nil, err
		}
		return &Result{}, nil
	}
	if err := page.Context(ctx).Mouse.Scroll(req.X, req.Y, 1); err != nil {
		return nil, err
	}
	return &Result{}, nil
}
