package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"

	"github.com/gorilla/websocket"
)

var (
	errExtensionDisconnected = errors.New("Extension disconnected")
	errNoExtension           = errors.New("extension not connected")
)

// extensionCommand is a frame sent to the extension.
type extensionCommand struct {
	ID     int64          `json:"id,omitempty"`
	Method string         `json:"method"`
	Params *forwardParams `json:"params,omitempty"`
}

type forwardParams struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// extensionFrame is any frame received from the extension: a reply when ID
// is set and Method is empty, otherwise an event.
type extensionFrame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type forwardReply struct {
	result json.RawMessage
	err    error
}

type pendingForward struct {
	method string
	ch     chan forwardReply
}

func (s *Server) handleExtension(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	case s.ext != nil || s.extReserved:
		s.mu.Unlock()
		logging.RelayWarn("extension connection from %s rejected: already connected", r.RemoteAddr)
		http.Error(w, "Extension already connected", http.StatusConflict)
		return
	}
	s.extReserved = true
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.extReserved = false
		s.mu.Unlock()
		logging.RelayWarn("extension upgrade failed: %v", err)
		return
	}
	conn := &wsConn{conn: ws}

	s.mu.Lock()
	s.extReserved = false
	if s.closed {
		s.mu.Unlock()
		conn.closeWith(websocket.CloseGoingAway, "relay shutting down")
		return
	}
	s.ext = conn
	s.mu.Unlock()
	logging.Relay("extension connected from %s", r.RemoteAddr)

	stopPing := make(chan struct{})
	s.conns.Add(1)
	go s.pingLoop(conn, stopPing)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logging.RelayDebug("extension read ended: %v", err)
			break
		}
		s.handleExtensionFrame(data)
	}
	close(stopPing)
	_ = ws.Close()
	s.detachExtension(conn)
}

func (s *Server) pingLoop(conn *wsConn, stop <-chan struct{}) {
	defer s.conns.Done()
	t := time.NewTicker(s.cfg.PingInterval())
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := conn.writeJSON(extensionCommand{Method: "ping"}); err != nil {
				logging.RelayDebug("extension ping: %v", err)
			}
		}
	}
}

// detachExtension resets the relay to its no-extension state: pending
// forwards fail, the target table empties and every client is closed with
// 1011 so it reconnects and rebuilds from fresh attach events.
func (s *Server) detachExtension(conn *wsConn) {
	s.mu.Lock()
	if s.ext != conn {
		s.mu.Unlock()
		return
	}
	s.ext = nil
	pending := s.pending
	s.pending = make(map[int64]*pendingForward)
	dropped := len(s.targets)
	s.targets = make(map[string]*ConnectedTarget)
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	logging.Relay("extension disconnected: dropped %d targets, %d pending, %d clients", dropped, len(pending), len(clients))
	for _, p := range pending {
		p.ch <- forwardReply{err: errExtensionDisconnected}
	}
	for _, c := range clients {
		c.conn.closeWith(websocket.CloseInternalServerErr, "extension disconnected")
	}
}

func (s *Server) handleExtensionFrame(data []byte) {
	var f extensionFrame
	if err := json.Unmarshal(data, &f); err != nil {
		logging.RelayDebug("undecodable extension frame: %v", err)
		return
	}
	if f.ID > 0 && f.Method == "" {
		s.settle(f)
		return
	}
	switch f.Method {
	case "ping", "pong":
		return
	case "forwardCDPEvent":
		var ev forwardedEvent
		if err := json.Unmarshal(f.Params, &ev); err != nil || ev.Method == "" {
			logging.RelayDebug("malformed forwardCDPEvent: %s", truncate(string(data), 200))
			return
		}
		s.routeEvent(ev)
	default:
		logging.RelayDebug("ignoring extension frame %q", f.Method)
	}
}

// settle hands a reply to the forward waiting on its id. Late replies for
// forwards that already timed out are dropped.
func (s *Server) settle(f extensionFrame) {
	p := s.take(f.ID)
	if p == nil {
		logging.RelayDebug("reply for unknown forward %d", f.ID)
		return
	}
	if msg := errorText(f.Error); msg != "" {
		p.ch <- forwardReply{err: &cdp.ProtocolError{Method: p.method, Message: msg}}
		return
	}
	p.ch <- forwardReply{result: f.Result}
}

func (s *Server) take(id int64) *pendingForward {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return p
}

// forward sends a command to the extension wrapped in forwardCDPCommand and
// waits for its reply up to the configured forward timeout.
func (s *Server) forward(method, sessionID string, params json.RawMessage) (json.RawMessage, error) {
	p := &pendingForward{method: method, ch: make(chan forwardReply, 1)}

	s.mu.Lock()
	ext := s.ext
	if ext == nil {
		s.mu.Unlock()
		return nil, errNoExtension
	}
	id := s.nextID
	s.nextID++
	s.pending[id] = p
	s.mu.Unlock()

	cmd := extensionCommand{
		ID:     id,
		Method: "forwardCDPCommand",
		Params: &forwardParams{Method: method, SessionID: sessionID, Params: params},
	}
	if err := ext.writeJSON(cmd); err != nil {
		s.take(id)
		return nil, fmt.Errorf("forward %s: %w", method, err)
	}

	timeout := s.cfg.ForwardTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.ch:
		return r.result, r.err
	case <-timer.C:
		if s.take(id) == nil {
			// Settled while the timer fired.
			r := <-p.ch
			return r.result, r.err
		}
		return nil, &cdp.TimeoutError{Op: "extension " + method, Timeout: timeout}
	}
}

// errorText accepts both a bare string and a CDP error object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj cdp.WireError
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
