package actions

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"cdpilot/internal/cdp"
)

var resolvedToN = regexp.MustCompile(`resolved to \d+ elements`)

// TranslateError rewrites the failures callers can act on into guidance and
// returns every other error unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	var actionErr *cdp.ActionError
	if errors.As(err, &actionErr) {
		return err
	}
	var notFound *cdp.TargetNotFoundError
	if errors.As(err, &notFound) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "strict mode violation") || resolvedToN.MatchString(msg):
		return &cdp.ActionError{
			Msg: "selector matched multiple elements, take a new snapshot for a more specific ref",
			Err: err,
		}
	case isTimeout(err, msg):
		var te *cdp.TimeoutError
		if errors.As(err, &te) {
			return &cdp.TimeoutError{Op: "element not found or not actionable within timeout, page may have changed", Timeout: te.Timeout, Err: err}
		}
		return &cdp.ActionError{
			Msg: "element not found or not actionable within timeout, page may have changed; take a new snapshot",
			Err: err,
		}
	case strings.Contains(msg, "detached") || strings.Contains(msg, "not attached") ||
		strings.Contains(msg, "no node with given id") || strings.Contains(msg, "could not find node"):
		return &cdp.ActionError{
			Msg: "element is no longer attached to the DOM, take a new snapshot",
			Err: err,
		}
	}
	return err
}

func isTimeout(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *cdp.TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "waiting for") ||
		strings.Contains(msg, "deadline exceeded")
}
