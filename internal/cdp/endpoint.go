package cdp

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is a resolved CDP endpoint.
type Endpoint struct {
	Host    string
	Port    int
	BaseURL string // http(s)://host:port
	WSURL   string // empty until discovered, unless the endpoint was given as ws(s)://
}

// ParseEndpoint accepts http(s)://host:port or ws(s)://host:port/... URLs.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid cdp url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid cdp url %q: missing host", raw)
	}

	var httpScheme string
	switch u.Scheme {
	case "http", "ws":
		httpScheme = "http"
	case "https", "wss":
		httpScheme = "https"
	default:
		return Endpoint{}, fmt.Errorf("invalid cdp url %q: unsupported scheme %q", raw, u.Scheme)
	}

	port := 80
	if httpScheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid cdp url %q: bad port", raw)
		}
	}

	ep := Endpoint{
		Host:    u.Hostname(),
		Port:    port,
		BaseURL: fmt.Sprintf("%s://%s", httpScheme, net.JoinHostPort(u.Hostname(), strconv.Itoa(port))),
	}
	if u.Scheme == "ws" || u.Scheme == "wss" {
		ep.WSURL = u.String()
	}
	return ep, nil
}

// IsLoopbackHost reports whether host names the local machine. The
// unspecified addresses count too, because Chrome reports 0.0.0.0 when it
// listens on all interfaces.
func IsLoopbackHost(host string) bool {
	h := strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]"))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified()
}

// IsLoopbackAddr reports whether a remote address (host:port or bare IP)
// originates from the loopback interface.
func IsLoopbackAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// NormalizeWSURL rewrites a debugger URL reported by the browser so that it
// is reachable the same way cdpURL was. A loopback host is replaced with the
// caller's host when the caller is not loopback, and the scheme becomes wss
// when cdpURL was https.
func NormalizeWSURL(wsURL, cdpURL string) (string, error) {
	ws, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url %q: %w", wsURL, err)
	}
	cdp, err := url.Parse(cdpURL)
	if err != nil {
		return "", fmt.Errorf("invalid cdp url %q: %w", cdpURL, err)
	}

	if IsLoopbackHost(ws.Hostname()) && !IsLoopbackHost(cdp.Hostname()) {
		port := ws.Port()
		if port == "" {
			port = cdp.Port()
		}
		if port == "" {
			ws.Host = cdp.Hostname()
		} else {
			ws.Host = net.JoinHostPort(cdp.Hostname(), port)
		}
	}
	if cdp.Scheme == "https" || cdp.Scheme == "wss" {
		ws.Scheme = "wss"
	}
	return ws.String(), nil
}
