package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Initialize(zap.New(core), enabled)
	t.Cleanup(Reset)
	return logs
}

func TestGetBeforeInitializeIsNoop(t *testing.T) {
	Reset()
	l := Get(CategoryRelay)
	assert.False(t, l.Enabled())
	// Must not panic.
	l.Info("hello %d", 1)
	l.With("k", "v").Error("boom")
}

func TestCategoryLoggerIsNamed(t *testing.T) {
	logs := observed(t, nil)

	Relay("extension connected from %s", "127.0.0.1:5555")
	SessionWarn("retry %d", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "relay", entries[0].LoggerName)
	assert.Equal(t, "extension connected from 127.0.0.1:5555", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "session", entries[1].LoggerName)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observed(t, map[string]bool{"relay": false})

	RelayWarn("dropped")
	ActionsWarn("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "actions", entries[0].LoggerName)
	assert.False(t, IsCategoryEnabled(CategoryRelay))
	assert.True(t, IsCategoryEnabled(CategorySnapshot), "unlisted categories default to enabled")
}

func TestSetCategoriesTakesEffect(t *testing.T) {
	logs := observed(t, nil)

	Relay("one")
	SetCategories(map[string]bool{"relay": false})
	Relay("two")
	SetCategories(nil)
	Relay("three")

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"one", "three"}, msgs)
}

func TestWithAddsFields(t *testing.T) {
	logs := observed(t, nil)

	Get(CategoryActions).With("target", "T1").Info("click")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "T1", entries[0].ContextMap()["target"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observed(t, nil)

	timer := StartTimer(CategoryActions, "click")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)

	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	StartTimer(CategoryActions, "fast").StopWithThreshold(time.Hour)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}
