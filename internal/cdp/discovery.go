package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cdpilot/internal/logging"
)

// DefaultDiscoveryTimeout bounds a /json/version lookup.
const DefaultDiscoveryTimeout = 5 * time.Second

// VersionInfo is the body of GET /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// FetchVersion performs GET {cdpURL}/json/version.
func FetchVersion(ctx context.Context, cdpURL string) (*VersionInfo, error) {
	ep, err := ParseEndpoint(cdpURL)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDiscoveryTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+"/json/version", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "GET /json/version", Timeout: DefaultDiscoveryTimeout, Err: err}
		}
		return nil, fmt.Errorf("GET %s/json/version: %w", ep.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s/json/version: HTTP %d: %s", ep.BaseURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &ProtocolError{Method: "GET /json/version", Message: err.Error()}
	}
	return &info, nil
}

// DiscoverWebSocketURL resolves the browser-level debugger WebSocket URL for
// cdpURL. A ws(s):// endpoint is returned as is.
func DiscoverWebSocketURL(ctx context.Context, cdpURL string) (string, error) {
	ep, err := ParseEndpoint(cdpURL)
	if err != nil {
		return "", err
	}
	if ep.WSURL != "" {
		return ep.WSURL, nil
	}

	info, err := FetchVersion(ctx, cdpURL)
	if err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", &ProtocolError{Method: "GET /json/version", Message: "response has no webSocketDebuggerUrl"}
	}

	ws, err := NormalizeWSURL(info.WebSocketDebuggerURL, cdpURL)
	if err != nil {
		return "", err
	}
	logging.TransportDebug("discovered %s -> %s", cdpURL, ws)
	return ws, nil
}
