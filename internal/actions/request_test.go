package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		err  string
	}{
		{"missing kind", Request{}, "action kind is required"},
		{"unknown kind", Request{Kind: "teleport"}, `unknown action "teleport"`},
		{"click needs ref", Request{Kind: KindClick}, "click requires ref"},
		{"click bad button", Request{Kind: KindClick, Ref: "e1", Button: "side"}, "unknown mouse button"},
		{"select needs values", Request{Kind: KindSelect, Ref: "e1"}, "select requires values"},
		{"drag needs both refs", Request{Kind: KindDrag, StartRef: "e1"}, "startRef and endRef"},
		{"fill needs fields", Request{Kind: KindFill}, "fill requires fields"},
		{"fill field needs ref", Request{Kind: KindFill, Fields: []FillField{{Value: "x"}}}, "fill field 0 requires ref"},
		{"press needs key", Request{Kind: KindPress, Key: " "}, "press requires key"},
		{"wait needs a condition", Request{Kind: KindWait}, "at least one condition"},
		{"wait load state", Request{Kind: KindWait, LoadState: "idle"}, `unknown load state "idle"`},
		{"screenshot type", Request{Kind: KindScreenshot, Type: "gif"}, "png or jpeg"},
		{"resize size", Request{Kind: KindResize, Width: 800}, "positive width and height"},
		{"scroll target", Request{Kind: KindScroll}, "ref or x/y deltas"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, Validate(tc.req), tc.err)
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	ok := []Request{
		{Kind: KindClick, Ref: "e1", Button: "right"},
		{Kind: KindType, Ref: "@e2", Text: ""},
		{Kind: KindPress, Key: "Enter"},
		{Kind: KindWait, TimeMs: 10},
		{Kind: KindWait, LoadState: "networkidle"},
		{Kind: KindScreenshot},
		{Kind: KindNavigate, URL: "https://example.test"},
		{Kind: KindUpload, Ref: "e3", Paths: []string{"/tmp/a.txt"}},
		{Kind: KindScroll, Y: 400},
		{Kind: KindEvaluate, Fn: "() => 1"},
	}
	for _, req := range ok {
		assert.NoError(t, Validate(req), req.Kind)
	}
}
