package relay

import (
	"encoding/json"
	"sort"

	"cdpilot/internal/cdp"
	"cdpilot/internal/logging"
)

// TargetInfo mirrors CDP Target.TargetInfo for the fields the relay tracks.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// ConnectedTarget is a tab the extension has attached, keyed by the
// session the extension reported for it.
type ConnectedTarget struct {
	SessionID string
	TargetID  string
	Info      TargetInfo
}

type attachedParams struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

type detachedParams struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

type infoChangedParams struct {
	TargetInfo map[string]json.RawMessage `json:"targetInfo"`
}

// forwardedEvent is the payload of a forwardCDPEvent frame.
type forwardedEvent struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// targetList returns the target table ordered by target id.
func (s *Server) targetList() []ConnectedTarget {
	s.mu.RLock()
	out := make([]ConnectedTarget, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, *t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

func (s *Server) findTarget(targetID string) (ConnectedTarget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.targets {
		if t.TargetID == targetID {
			return *t, true
		}
	}
	return ConnectedTarget{}, false
}

// routeEvent updates the target table from a forwarded event and mirrors
// the event to every CDP client.
func (s *Server) routeEvent(ev forwardedEvent) {
	switch ev.Method {
	case "Target.attachedToTarget":
		s.targetAttached(ev)
	case "Target.detachedFromTarget":
		var p detachedParams
		if err := json.Unmarshal(ev.Params, &p); err == nil && p.SessionID != "" {
			s.mu.Lock()
			delete(s.targets, p.SessionID)
			s.mu.Unlock()
			logging.RelayDebug("target detached: session=%s", p.SessionID)
		}
		s.broadcast(cdp.Message{Method: ev.Method, Params: ev.Params, SessionID: ev.SessionID})
	case "Target.targetInfoChanged":
		s.patchTargetInfo(ev.Params)
		s.broadcast(cdp.Message{Method: ev.Method, Params: ev.Params, SessionID: ev.SessionID})
	default:
		s.broadcast(cdp.Message{Method: ev.Method, Params: ev.Params, SessionID: ev.SessionID})
	}
}

// targetAttached records a page target. When the session was already bound
// to a different target, a detach for the old target is broadcast before
// the new attach.
func (s *Server) targetAttached(ev forwardedEvent) {
	var p attachedParams
	if err := json.Unmarshal(ev.Params, &p); err != nil || p.SessionID == "" {
		s.broadcast(cdp.Message{Method: ev.Method, Params: ev.Params, SessionID: ev.SessionID})
		return
	}
	info := p.TargetInfo
	if info.Type != "" && info.Type != "page" {
		s.broadcast(cdp.Message{Method: ev.Method, Params: ev.Params, SessionID: ev.SessionID})
		return
	}
	if info.Type == "" {
		info.Type = "page"
	}
	if info.BrowserContextID == "" {
		info.BrowserContextID = "default"
	}
	info.Attached = true

	s.mu.Lock()
	prev := s.targets[p.SessionID]
	s.targets[p.SessionID] = &ConnectedTarget{SessionID: p.SessionID, TargetID: info.TargetID, Info: info}
	s.mu.Unlock()

	if prev != nil && prev.TargetID != info.TargetID {
		logging.RelayDebug("session %s moved from target %s to %s", p.SessionID, prev.TargetID, info.TargetID)
		s.broadcast(cdp.Message{
			Method: "Target.detachedFromTarget",
			Params: rawJSON(detachedParams{SessionID: p.SessionID, TargetID: prev.TargetID}),
		})
	}
	logging.RelayDebug("target attached: session=%s target=%s url=%s", p.SessionID, info.TargetID, info.URL)
	s.broadcast(attachedEvent(ConnectedTarget{SessionID: p.SessionID, TargetID: info.TargetID, Info: info}))
}

func (s *Server) patchTargetInfo(raw json.RawMessage) {
	var p infoChangedParams
	if err := json.Unmarshal(raw, &p); err != nil || p.TargetInfo == nil {
		return
	}
	var targetID string
	if err := json.Unmarshal(p.TargetInfo["targetId"], &targetID); err != nil || targetID == "" {
		return
	}
	var title, url *string
	if v, ok := p.TargetInfo["title"]; ok {
		_ = json.Unmarshal(v, &title)
	}
	if v, ok := p.TargetInfo["url"]; ok {
		_ = json.Unmarshal(v, &url)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.TargetID != targetID {
			continue
		}
		if title != nil {
			t.Info.Title = *title
		}
		if url != nil {
			t.Info.URL = *url
		}
	}
}

func attachedEvent(t ConnectedTarget) cdp.Message {
	return cdp.Message{
		Method: "Target.attachedToTarget",
		Params: rawJSON(attachedParams{SessionID: t.SessionID, TargetInfo: t.Info}),
	}
}

func createdEvent(t ConnectedTarget) cdp.Message {
	return cdp.Message{
		Method: "Target.targetCreated",
		Params: rawJSON(map[string]TargetInfo{"targetInfo": t.Info}),
	}
}

// broadcast writes msg to every CDP client.
func (s *Server) broadcast(msg cdp.Message) {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.conn.writeJSON(msg); err != nil {
			logging.RelayDebug("broadcast %s to %s: %v", msg.Method, c.id, err)
		}
	}
}

func rawJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
