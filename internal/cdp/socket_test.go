package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowser answers a handful of commands the way Chrome would.
func fakeBrowser(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Method {
			case "Browser.getVersion":
				_ = conn.WriteJSON(map[string]any{"id": msg.ID, "result": map[string]any{"product": "Chrome/126"}})
			case "Target.fail":
				_ = conn.WriteJSON(map[string]any{"id": msg.ID, "error": map[string]any{"code": -32000, "message": "No target with given id found"}})
			case "Test.emit":
				_ = conn.WriteJSON(map[string]any{"method": "Target.targetCreated", "params": map[string]any{"targetInfo": map[string]any{"targetId": "T1"}}})
				_ = conn.WriteJSON(map[string]any{"id": msg.ID, "result": map[string]any{}})
			case "Test.hangup":
				return
			case "Test.never":
			}
		}
	})
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VersionInfo{
			Browser:              "Chrome/126",
			ProtocolVersion:      "1.3",
			WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake"
}

func TestSocketCorrelatesReplies(t *testing.T) {
	srv := fakeBrowser(t)
	ctx := context.Background()

	err := WithSocket(ctx, wsURL(srv), func(s *Socket) error {
		raw, err := s.Send(ctx, "Browser.getVersion", nil)
		require.NoError(t, err)
		var v struct{ Product string }
		require.NoError(t, json.Unmarshal(raw, &v))
		assert.Equal(t, "Chrome/126", v.Product)

		_, err = s.Send(ctx, "Target.fail", map[string]string{"targetId": "nope"})
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Target.fail", perr.Method)
		assert.Equal(t, "No target with given id found", perr.Message)
		return nil
	})
	require.NoError(t, err)
}

func TestSocketDeliversEvents(t *testing.T) {
	srv := fakeBrowser(t)
	ctx := context.Background()

	err := WithSocket(ctx, wsURL(srv), func(s *Socket) error {
		_, err := s.Send(ctx, "Test.emit", nil)
		require.NoError(t, err)
		select {
		case ev := <-s.Events():
			assert.Equal(t, "Target.targetCreated", ev.Method)
			assert.Contains(t, string(ev.Params), `"T1"`)
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSocketPerCommandTimeout(t *testing.T) {
	srv := fakeBrowser(t)
	ctx := context.Background()

	s, err := Dial(ctx, wsURL(srv), WithCommandTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Send(ctx, "Test.never", nil)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Test.never", terr.Op)

	// The socket stays usable after one command times out.
	_, err = s.Send(ctx, "Browser.getVersion", nil)
	assert.NoError(t, err)
}

func TestSocketCloseRejectsPending(t *testing.T) {
	srv := fakeBrowser(t)
	ctx := context.Background()

	s, err := Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer s.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "Test.never", nil)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)

	_, err = s.Send(ctx, "Test.hangup", nil)
	assert.True(t, errors.Is(err, ErrSocketClosed), "got %v", err)

	select {
	case err := <-errs:
		assert.EqualError(t, err, "WebSocket closed")
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was not rejected")
	}

	_, err = s.Send(ctx, "Browser.getVersion", nil)
	assert.ErrorIs(t, err, ErrSocketClosed)
}

func TestSocketContextCancel(t *testing.T) {
	srv := fakeBrowser(t)

	s, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Send(ctx, "Test.never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProbe(t *testing.T) {
	srv := fakeBrowser(t)

	assert.True(t, Probe(context.Background(), wsURL(srv), time.Second))
	assert.False(t, Probe(context.Background(), "ws://127.0.0.1:1/devtools/browser/none", 200*time.Millisecond))
}

func TestDiscoverWebSocketURL(t *testing.T) {
	srv := fakeBrowser(t)
	ctx := context.Background()

	got, err := DiscoverWebSocketURL(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, wsURL(srv), got)

	direct := "ws://127.0.0.1:9222/devtools/browser/direct"
	got, err = DiscoverWebSocketURL(ctx, direct)
	require.NoError(t, err)
	assert.Equal(t, direct, got, "ws endpoints skip discovery")
}

func TestDiscoverWithoutDebuggerURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Browser":"relay","Protocol-Version":"1.3"}`))
	}))
	defer srv.Close()

	_, err := DiscoverWebSocketURL(context.Background(), srv.URL)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}
