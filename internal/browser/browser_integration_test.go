//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cdpilot/internal/browser"
	"cdpilot/internal/config"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchChrome(t *testing.T) string {
	t.Helper()
	l := launcher.New().Headless(true)
	u, err := l.Launch()
	require.NoError(t, err, "launch chrome")
	t.Cleanup(l.Kill)
	return u
}

func TestManagerSnapshot_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<html><body>
			<h1>Checkout</h1>
			<button>Pay</button><button>Pay</button>
			<script>console.log("ready"); fetch("/ping");</script>
		</body></html>`)
	}))
	defer ts.Close()

	ws := launchChrome(t)
	m := browser.NewManager(config.DefaultConfig().Browser)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tab, err := m.OpenTab(ctx, ws, ts.URL)
	require.NoError(t, err)

	res, err := m.Snapshot(ctx, ws, browser.SnapshotRequest{TargetID: tab.TargetID, Format: browser.FormatRole})
	require.NoError(t, err)
	assert.Contains(t, res.Snapshot, `heading "Checkout"`)
	assert.Contains(t, res.Snapshot, `button "Pay" [ref=e2]`)
	assert.Contains(t, res.Snapshot, `[nth=1]`)

	cached, ok := m.RefCache().Get(browser.RefCacheKey(ws, tab.TargetID))
	require.True(t, ok)
	assert.Len(t, cached.Refs, len(res.Refs))

	require.Eventually(t, func() bool {
		msgs, err := m.Console(ctx, ws, tab.TargetID, "log")
		return err == nil && len(msgs) > 0 && strings.Contains(msgs[0].Text, "ready")
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		reqs, err := m.Requests(ctx, ws, tab.TargetID, "/ping", false)
		return err == nil && len(reqs) == 1 && reqs[0].OK != nil
	}, 5*time.Second, 100*time.Millisecond)

	tabs, err := m.Tabs(ctx, ws)
	require.NoError(t, err)
	assert.NotEmpty(t, tabs)

	require.NoError(t, m.CloseTab(ctx, ws, tab.TargetID))
}
