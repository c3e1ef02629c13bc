package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cdpilot/internal/logging"

	"github.com/gorilla/websocket"
)

// DefaultCommandTimeout is the per-command reply deadline on a Socket.
const DefaultCommandTimeout = 30 * time.Second

// Message is one CDP frame: a command, a reply, or an event.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
}

// WireError is the error object of a CDP reply.
type WireError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type reply struct {
	msg Message
	err error
}

type pendingCommand struct {
	method string
	ch     chan reply
	timer  *time.Timer
}

// Socket is a raw CDP WebSocket connection that correlates replies to
// commands by id. Frames without an id are delivered on Events.
type Socket struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCommand
	closed  bool

	events chan Message
	done   chan struct{}
}

// SocketOption configures Dial.
type SocketOption func(*Socket)

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.timeout = d }
}

// Dial opens a CDP WebSocket.
func Dial(ctx context.Context, wsURL string, opts ...SocketOption) (*Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &Socket{
		conn:    conn,
		timeout: DefaultCommandTimeout,
		pending: make(map[int64]*pendingCommand),
		events:  make(chan Message, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s, nil
}

// WithSocket dials wsURL, runs fn, and closes the socket whatever fn returns.
func WithSocket(ctx context.Context, wsURL string, fn func(*Socket) error) error {
	s, err := Dial(ctx, wsURL)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Events returns out-of-band frames. The channel is closed when the socket
// closes. Events are dropped if the reader falls 256 frames behind.
func (s *Socket) Events() <-chan Message {
	return s.events
}

// Done is closed once the socket has shut down.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Send issues a browser-level command and waits for its reply.
func (s *Socket) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.SendSession(ctx, "", method, params)
}

// SendSession issues a command on a flattened target session.
func (s *Socket) SendSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	msg := Message{Method: method, SessionID: sessionID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		msg.Params = raw
	}

	ch := make(chan reply, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	s.nextID++
	id := s.nextID
	msg.ID = id
	pc := &pendingCommand{method: method, ch: ch}
	pc.timer = time.AfterFunc(s.timeout, func() {
		if s.take(id) != nil {
			ch <- reply{err: &TimeoutError{Op: method, Timeout: s.timeout}}
		}
	})
	s.pending[id] = pc
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		if p := s.take(id); p != nil {
			p.timer.Stop()
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.msg.Error != nil {
			return nil, &ProtocolError{Method: method, Code: r.msg.Error.Code, Message: r.msg.Error.Message}
		}
		return r.msg.Result, nil
	case <-ctx.Done():
		if p := s.take(id); p != nil {
			p.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// take removes and returns a pending command; nil if already settled.
func (s *Socket) take(id int64) *pendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return pc
}

func (s *Socket) readLoop() {
	defer s.shutdown()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			logging.TransportDebug("cdp socket read ended: %v", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.TransportDebug("%v", &ProtocolError{Message: "undecodable frame: " + err.Error()})
			continue
		}

		if msg.ID != 0 {
			if pc := s.take(msg.ID); pc != nil {
				pc.timer.Stop()
				pc.ch <- reply{msg: msg}
			}
			continue
		}
		if msg.Method != "" {
			select {
			case s.events <- msg:
			default:
				logging.TransportDebug("dropping event %s: reader too slow", msg.Method)
			}
		}
	}
}

// shutdown rejects every pending command and releases event readers.
func (s *Socket) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[int64]*pendingCommand)
	s.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- reply{err: ErrSocketClosed}
	}
	close(s.events)
	close(s.done)
}

// Close closes the connection. Pending commands fail with ErrSocketClosed.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}

// Probe reports whether a CDP WebSocket at wsURL accepts a connection within
// timeout. It never returns an error.
func Probe(ctx context.Context, wsURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		logging.TransportDebug("probe %s failed: %v", wsURL, err)
		return false
	}
	_ = conn.Close()
	return true
}
