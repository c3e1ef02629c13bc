// Package actions resolves snapshot refs to live elements and runs typed
// actions against them.
package actions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names an action.
type Kind string

const (
	KindClick      Kind = "click"
	KindType       Kind = "type"
	KindFill       Kind = "fill"
	KindHover      Kind = "hover"
	KindDrag       Kind = "drag"
	KindSelect     Kind = "select"
	KindPress      Kind = "press"
	KindEvaluate   Kind = "evaluate"
	KindWait       Kind = "wait"
	KindScreenshot Kind = "screenshot"
	KindNavigate   Kind = "navigate"
	KindUpload     Kind = "upload"
	KindResize     Kind = "resize"
	KindScroll     Kind = "scroll"
)

// Kinds lists every supported action.
var Kinds = []Kind{
	KindClick, KindType, KindFill, KindHover, KindDrag, KindSelect, KindPress,
	KindEvaluate, KindWait, KindScreenshot, KindNavigate, KindUpload, KindResize,
	KindScroll,
}

// FillField is one entry of a batch fill. Value is a bool for checkbox and
// radio fields and text for everything else.
type FillField struct {
	Ref   string `json:"ref"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// Request is a tagged action. Only the fields relevant to Kind are read.
type Request struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref,omitempty"`

	// click
	DoubleClick bool     `json:"doubleClick,omitempty"`
	Button      string   `json:"button,omitempty"`
	Modifiers   []string `json:"modifiers,omitempty"`

	// type
	Text   string `json:"text,omitempty"`
	Slowly bool   `json:"slowly,omitempty"`
	Submit bool   `json:"submit,omitempty"`

	Fields []FillField `json:"fields,omitempty"`

	Key      string   `json:"key,omitempty"`
	Values   []string `json:"values,omitempty"`
	StartRef string   `json:"startRef,omitempty"`
	EndRef   string   `json:"endRef,omitempty"`
	Fn       string   `json:"fn,omitempty"`

	// wait
	TimeMs    int    `json:"timeMs,omitempty"`
	TextGone  string `json:"textGone,omitempty"`
	Selector  string `json:"selector,omitempty"`
	URL       string `json:"url,omitempty"`
	LoadState string `json:"loadState,omitempty"`

	// screenshot
	Element  string `json:"element,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
	Type     string `json:"type,omitempty"`

	Paths  []string `json:"paths,omitempty"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`

	// scroll
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// Result is returned by every successful action.
type Result struct {
	OK       bool            `json:"ok"`
	Action   Kind            `json:"action"`
	TargetID string          `json:"targetId"`
	URL      string          `json:"url,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Path     string          `json:"path,omitempty"`
	Data     []byte          `json:"data,omitempty"`
}

// Validate checks that a request carries the fields its kind needs.
func Validate(req Request) error {
	need := func(ok bool, what string) error {
		if !ok {
			return fmt.Errorf("%s requires %s", req.Kind, what)
		}
		return nil
	}
	switch req.Kind {
	case KindClick, KindHover:
		if err := need(req.Ref != "", "ref"); err != nil {
			return err
		}
		return validButton(req.Button)
	case KindType:
		return need(req.Ref != "", "ref")
	case KindFill:
		if err := need(len(req.Fields) > 0, "fields"); err != nil {
			return err
		}
		for i, f := range req.Fields {
			if f.Ref == "" {
				return fmt.Errorf("fill field %d requires ref", i)
			}
		}
		return nil
	case KindDrag:
		return need(req.StartRef != "" && req.EndRef != "", "startRef and endRef")
	case KindSelect:
		if err := need(req.Ref != "", "ref"); err != nil {
			return err
		}
		return need(len(req.Values) > 0, "values")
	case KindPress:
		return need(strings.TrimSpace(req.Key) != "", "key")
	case KindEvaluate:
		return need(strings.TrimSpace(req.Fn) != "", "fn")
	case KindWait:
		switch strings.ToLower(req.LoadState) {
		case "", "load", "domcontentloaded", "networkidle":
		default:
			return fmt.Errorf("unknown load state %q", req.LoadState)
		}
		return need(req.TimeMs > 0 || req.Text != "" || req.TextGone != "" || req.Selector != "" ||
			req.URL != "" || req.LoadState != "" || req.Fn != "", "at least one condition")
	case KindScreenshot:
		if req.Type != "" && req.Type != "png" && req.Type != "jpeg" {
			return fmt.Errorf("screenshot type must be png or jpeg, got %q", req.Type)
		}
		return nil
	case KindNavigate:
		return need(strings.TrimSpace(req.URL) != "", "url")
	case KindUpload:
		if err := need(req.Ref != "", "ref"); err != nil {
			return err
		}
		return need(len(req.Paths) > 0, "paths")
	case KindResize:
		return need(req.Width > 0 && req.Height > 0, "positive width and height")
	case KindScroll:
		return need(req.Ref != "" || req.X != 0 || req.Y != 0, "ref or x/y deltas")
	case "":
		return fmt.Errorf("action kind is required")
	default:
		return fmt.Errorf("unknown action %q", req.Kind)
	}
}

func validButton(b string) error {
	switch b {
	case "", "left", "right", "middle":
		return nil
	}
	return fmt.Errorf("unknown mouse button %q", b)
}
