package actions

import "time"

const (
	minTimeoutMs = 500
	maxTimeoutMs = 120000

	maxActionTimeoutMs     = 60000
	defaultActionTimeoutMs = 8000

	minNavigateTimeoutMs = 1000
	maxNavigateTimeoutMs = 120000
)

// NormalizeTimeout returns ms clamped to [500, 120000], or fallback when ms
// is not positive.
func NormalizeTimeout(ms, fallback int) int {
	if ms <= 0 {
		ms = fallback
	}
	return clamp(ms, minTimeoutMs, maxTimeoutMs)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// actionTimeout bounds element actions to [500ms, 60s].
func actionTimeout(ms, fallback int) time.Duration {
	if fallback <= 0 {
		fallback = defaultActionTimeoutMs
	}
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(clamp(ms, minTimeoutMs, maxActionTimeoutMs)) * time.Millisecond
}

// navigateTimeout bounds navigation to [1s, 120s].
func navigateTimeout(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(clamp(ms, minNavigateTimeoutMs, maxNavigateTimeoutMs)) * time.Millisecond
}
