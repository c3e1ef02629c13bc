package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one CDP connection on /cdp.
type client struct {
	id   string
	conn *wsConn
}

func (s *Server) handleCDP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed || s.ext == nil {
		s.mu.Unlock()
		logging.RelayDebug("cdp client from %s rejected: extension not connected", r.RemoteAddr)
		http.Error(w, "extension not connected", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.RelayWarn("cdp client upgrade failed: %v", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: &wsConn{conn: ws}}

	s.mu.Lock()
	if s.closed || s.ext == nil {
		s.mu.Unlock()
		c.conn.closeWith(websocket.CloseInternalServerErr, "extension disconnected")
		return
	}
	s.clients[c.id] = c
	s.mu.Unlock()
	logging.Relay("cdp client %s connected", c.id)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logging.RelayDebug("cdp client %s read ended: %v", c.id, err)
			break
		}
		var msg cdp.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Method == "" {
			logging.RelayDebug("cdp client %s sent an undecodable command", c.id)
			continue
		}
		s.handleCommand(c, msg)
	}

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = ws.Close()
	logging.Relay("cdp client %s disconnected", c.id)
}

// handleCommand answers msg locally when the relay owns the method and
// otherwise forwards it. Forwards run concurrently so a slow reply does not
// block the client's other commands.
func (s *Server) handleCommand(c *client, msg cdp.Message) {
	result, after, ok, err := s.local(msg)
	if ok {
		c.reply(msg, result, err)
		for _, ev := range after {
			if err := c.conn.writeJSON(ev); err != nil {
				logging.RelayDebug("event %s to %s: %v", ev.Method, c.id, err)
			}
		}
		return
	}

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		res, err := s.forward(msg.Method, msg.SessionID, msg.Params)
		c.reply(msg, res, err)
	}()
}

// reply answers a command using the client's own id.
func (c *client) reply(cmd cdp.Message, result json.RawMessage, err error) {
	resp := cdp.Message{ID: cmd.ID, SessionID: cmd.SessionID}
	if err != nil {
		resp.Error = &cdp.WireError{Message: wireMessage(err)}
	} else {
		if len(result) == 0 {
			result = json.RawMessage(`{}`)
		}
		resp.Result = result
	}
	if werr := c.conn.writeJSON(resp); werr != nil {
		logging.RelayDebug("reply %s to %s: %v", cmd.Method, c.id, werr)
	}
}

func wireMessage(err error) string {
	var perr *cdp.ProtocolError
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}

type targetParams struct {
	TargetID string `json:"targetId"`
	Discover bool   `json:"discover"`
}

// local answers the methods the relay serves from its own state. ok is false
// for everything that must go to the extension. after holds events written
// to the caller once the reply is out.
func (s *Server) local(msg cdp.Message) (result json.RawMessage, after []cdp.Message, ok bool, err error) {
	var p targetParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &p)
	}

	switch msg.Method {
	case "Browser.getVersion":
		return rawJSON(map[string]string{
			"protocolVersion": protocolVersion,
			"product":         "Chrome/" + browserName,
			"revision":        "0",
			"userAgent":       browserName,
			"jsVersion":       "V8",
		}), nil, true, nil

	case "Browser.setDownloadBehavior":
		return nil, nil, true, nil

	case "Target.setAutoAttach":
		if msg.SessionID == "" {
			for _, t := range s.targetList() {
				after = append(after, attachedEvent(t))
			}
		}
		return nil, after, true, nil

	case "Target.setDiscoverTargets":
		if p.Discover {
			for _, t := range s.targetList() {
				after = append(after, createdEvent(t))
			}
		}
		return nil, after, true, nil

	case "Target.getTargets":
		targets := s.targetList()
		infos := make([]TargetInfo, 0, len(targets))
		for _, t := range targets {
			infos = append(infos, t.Info)
		}
		return rawJSON(map[string][]TargetInfo{"targetInfos": infos}), nil, true, nil

	case "Target.getTargetInfo":
		return rawJSON(map[string]*TargetInfo{"targetInfo": s.targetInfo(p.TargetID, msg.SessionID)}), nil, true, nil

	case "Target.attachToTarget":
		if p.TargetID == "" {
			return nil, nil, true, errors.New("targetId required")
		}
		t, found := s.findTarget(p.TargetID)
		if !found {
			return nil, nil, true, errors.New("target not found")
		}
		return rawJSON(map[string]string{"sessionId": t.SessionID}), []cdp.Message{attachedEvent(t)}, true, nil
	}
	return nil, nil, false, nil
}

// targetInfo looks a target up by id, then by the command's session, then
// falls back to any known target.
func (s *Server) targetInfo(targetID, sessionID string) *TargetInfo {
	if targetID != "" {
		if t, ok := s.findTarget(targetID); ok {
			return &t.Info
		}
	}
	s.mu.RLock()
	if t, ok := s.targets[sessionID]; ok && sessionID != "" {
		info := t.Info
		s.mu.RUnlock()
		return &info
	}
	s.mu.RUnlock()
	if targets := s.targetList(); len(targets) > 0 {
		return &targets[0].Info
	}
	return nil
}
