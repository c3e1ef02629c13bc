// Package relay serves a CDP-compatible HTTP and WebSocket surface backed by a
// browser extension instead of a native remote-debugging port.
//
// One extension connects on /extension. Any number of CDP clients connect on
// /cdp while the extension is attached; their commands are either answered
// from the relay's target table or forwarded to the extension, and every
// event the extension pushes is mirrored to all of them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cdpilot/internal/cdp"
	"cdpilot/internal/config"
	"cdpilot/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const (
	protocolVersion = "1.3"
	browserName     = "cdpilot/extension-relay"

	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is one relay instance bound to one port.
type Server struct {
	cfg      config.RelayConfig
	ln       net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	group    *errgroup.Group

	mu          sync.RWMutex
	closed      bool
	ext         *wsConn
	extReserved bool
	clients     map[string]*client
	targets     map[string]*ConnectedTarget
	pending     map[int64]*pendingForward
	nextID      int64

	// conns tracks websocket handlers and the goroutines they spawn.
	conns sync.WaitGroup

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Start binds cfg.Addr() and serves until ctx is cancelled or Close is
// called. A bind failure is returned immediately.
func Start(ctx context.Context, cfg config.RelayConfig) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("relay listen on %s: %w", cfg.Addr(), err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	s := &Server{
		cfg:     cfg,
		ln:      ln,
		clients: make(map[string]*client),
		targets: make(map[string]*ConnectedTarget),
		pending: make(map[int64]*pendingForward),
		nextID:  1,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return allowedOrigin(r.Header.Get("Origin")) },
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		return s.shutdown()
	})
	s.group = g

	go func() {
		s.err = g.Wait()
		close(s.done)
	}()

	logging.Relay("extension relay listening on %s", s.Addr())
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port is the bound port, which differs from the configured one when that
// was 0.
func (s *Server) Port() int {
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, p, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(p)
	return n
}

// Done is closed once the server has fully stopped.
func (s *Server) Done() <-chan struct{} { return s.done }

// Close stops the server, drops the extension and every client, and waits
// for their goroutines to exit.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.err
}

// ExtensionConnected reports whether an extension is attached.
func (s *Server) ExtensionConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ext != nil
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)

	// Hijacked websocket connections are not tracked by http.Server.
	s.mu.Lock()
	s.closed = true
	ext := s.ext
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if ext != nil {
		ext.closeWith(websocket.CloseGoingAway, "relay shutting down")
	}
	for _, c := range clients {
		c.conn.closeWith(websocket.CloseGoingAway, "relay shutting down")
	}
	s.conns.Wait()
	logging.Relay("extension relay on %s stopped", s.Addr())
	return err
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(loopbackOnly)

	r.Get("/", s.handleRoot)
	r.Head("/", s.handleRoot)
	r.Get("/extension/status", s.handleExtensionStatus)

	for _, p := range []string{"/json/version", "/json/version/"} {
		r.Get(p, s.handleVersion)
		r.Put(p, s.handleVersion)
	}
	for _, p := range []string{"/json", "/json/list", "/json/list/"} {
		r.Get(p, s.handleList)
		r.Put(p, s.handleList)
	}
	r.Get("/json/activate/{id}", s.handleActivate)
	r.Put("/json/activate/{id}", s.handleActivate)
	r.Get("/json/close/{id}", s.handleClose)
	r.Put("/json/close/{id}", s.handleClose)

	r.Get("/extension", s.handleExtension)
	r.Get("/cdp", s.handleCDP)
	return r
}

// loopbackOnly rejects every request that does not come from the local
// machine, websocket upgrades included.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cdp.IsLoopbackAddr(r.RemoteAddr) {
			logging.RelayWarn("rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(origin string) bool {
	if origin == "" || strings.HasPrefix(origin, "chrome-extension://") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return cdp.IsLoopbackHost(u.Hostname())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.RelayDebug("write response: %v", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleExtensionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]bool{"connected": s.ExtensionConnected()})
}

// cdpURL is the browser-level websocket URL as seen by the requester.
func (s *Server) cdpURL(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = s.Addr()
	}
	return "ws://" + host + "/cdp"
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"Browser":          browserName,
		"Protocol-Version": protocolVersion,
	}
	if s.ExtensionConnected() {
		payload["webSocketDebuggerUrl"] = s.cdpURL(r)
	}
	writeJSON(w, payload)
}

// ListEntry is one /json/list element.
type ListEntry struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	wsURL := s.cdpURL(r)
	targets := s.targetList()
	list := make([]ListEntry, 0, len(targets))
	for _, t := range targets {
		list = append(list, ListEntry{
			ID:                   t.TargetID,
			Type:                 t.Info.Type,
			Title:                t.Info.Title,
			URL:                  t.Info.URL,
			WebSocketDebuggerURL: wsURL,
		})
	}
	writeJSON(w, list)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.fireAndForget("Target.activateTarget", chi.URLParam(r, "id"))
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.fireAndForget("Target.closeTarget", chi.URLParam(r, "id"))
	_, _ = w.Write([]byte("OK"))
}

// fireAndForget forwards a target command without waiting for the reply.
func (s *Server) fireAndForget(method, targetID string) {
	params, _ := json.Marshal(map[string]string{"targetId": targetID})
	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		if _, err := s.forward(method, "", params); err != nil {
			logging.RelayDebug("%s %s: %v", method, targetID, err)
		}
	}()
}

// wsConn serializes writes on one websocket.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// closeWith sends a close frame with code and closes the connection, which
// ends the peer's read loop.
func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
