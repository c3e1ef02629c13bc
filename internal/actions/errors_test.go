package actions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cdpilot/internal/cdp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want string
	}{
		{"strict", errors.New("strict mode violation: role=button resolved to 3 elements"), "matched multiple elements"},
		{"resolved to n", errors.New("locator resolved to 2 elements"), "matched multiple elements"},
		{"waiting for", errors.New("Timeout 8000ms exceeded while waiting for locator"), "not found or not actionable within timeout"},
		{"deadline", fmt.Errorf("click: %w", context.DeadlineExceeded), "not found or not actionable within timeout"},
		{"detached", errors.New("Element is not attached to the DOM"), "no longer attached to the DOM"},
		{"no node", errors.New("{-32000 No node with given id found }"), "no longer attached to the DOM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := TranslateError(tc.in)
			require.Error(t, out)
			assert.Contains(t, out.Error(), tc.want)
			assert.ErrorIs(t, out, tc.in)
		})
	}
}

func TestTranslateErrorKeepsTimeoutType(t *testing.T) {
	in := &cdp.TimeoutError{Op: "waiting for role=link", Timeout: 2 * time.Second}
	out := TranslateError(in)
	var te *cdp.TimeoutError
	require.ErrorAs(t, out, &te)
	assert.Equal(t, 2*time.Second, te.Timeout)
	assert.Contains(t, out.Error(), "page may have changed")
}

func TestTranslateErrorPassThrough(t *testing.T) {
	in := errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Same(t, in, TranslateError(in))
	assert.NoError(t, TranslateError(nil))

	already := &cdp.ActionError{Msg: "evaluate is disabled"}
	assert.Same(t, already, TranslateError(already))
}
