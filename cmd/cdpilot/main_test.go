package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cdpilot/internal/actions"
	"cdpilot/internal/browser"
	"cdpilot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActRequest(t *testing.T) {
	req, err := parseActRequest(`{"kind":"click","ref":"e3","doubleClick":true}`, nil)
	require.NoError(t, err)
	assert.Equal(t, actions.KindClick, req.Kind)
	assert.Equal(t, "e3", req.Ref)
	assert.True(t, req.DoubleClick)

	req, err = parseActRequest("-", strings.NewReader(`{"kind":"press","key":"Control+a"}`))
	require.NoError(t, err)
	assert.Equal(t, "Control+a", req.Key)

	_, err = parseActRequest(`{"kind":"click","reff":"e3"}`, nil)
	assert.ErrorContains(t, err, "invalid action request")

	_, err = parseActRequest(`{"kind":"click"}`, nil)
	assert.ErrorContains(t, err, "click requires ref")

	_, err = parseActRequest(`not json`, nil)
	assert.Error(t, err)
}

func TestStorageArgs(t *testing.T) {
	tests := []struct {
		args    []string
		op, key string
		wantErr bool
	}{
		{args: []string{"get"}, op: "get"},
		{args: []string{"get", "token"}, op: "get", key: "token"},
		{args: []string{"set", "token", "abc"}, op: "set", key: "token"},
		{args: []string{"set", "token"}, wantErr: true},
		{args: []string{"delete"}, wantErr: true},
		{args: []string{"delete", "token"}, op: "delete", key: "token"},
		{args: []string{"clear"}, op: "clear"},
		{args: []string{"wipe"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			op, key, _, err := storageArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestRelayConfigOverrides(t *testing.T) {
	base := config.DefaultConfig().Relay
	t.Cleanup(func() { relayHost, relayPort = "", 0 })

	assert.Equal(t, base, relayConfig(base))

	relayHost, relayPort = "localhost", 9333
	rc := relayConfig(base)
	assert.Equal(t, "localhost", rc.Host)
	assert.Equal(t, 9333, rc.Port)
	assert.Equal(t, base.ForwardTimeoutMs, rc.ForwardTimeoutMs)
}

func TestWriteScreenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	got, err := writeScreenshot([]byte("png-bytes"), path, "png")
	require.NoError(t, err)
	assert.Equal(t, path, got)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	got, err = writeScreenshot([]byte("jpeg-bytes"), "", "jpeg")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(got) })
	assert.Equal(t, ".jpg", filepath.Ext(got))
}

func TestBuildLogger(t *testing.T) {
	l, err := buildLogger(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	l, err = buildLogger(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = buildLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"relay", "status", "tabs", "snapshot", "act", "console", "cookies", "storage"} {
		assert.True(t, names[want], want)
	}
}

func TestStatusUnreachable(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{
		"status",
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--cdp-url", "http://127.0.0.1:1",
		"--timeout", "3s",
	})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cdpURL = ""
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	var st browser.Status
	require.NoError(t, json.NewDecoder(&out).Decode(&st))
	assert.False(t, st.Reachable)
	assert.Equal(t, "http://127.0.0.1:1", st.Endpoint)
	assert.NotEmpty(t, st.Error)
}
