package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"cdpilot/internal/snapshot"
)

// ring is a bounded FIFO that drops its oldest entry once full.
type ring[T any] struct {
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = 1
	}
	return &ring[T]{items: make([]T, 0, min(limit, 64)), limit: limit}
}

// push appends v and returns the evicted entry, if any.
func (r *ring[T]) push(v T) (T, bool) {
	var evicted T
	dropped := false
	if len(r.items) == r.limit {
		evicted = r.items[0]
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
		dropped = true
	}
	r.items = append(r.items, v)
	return evicted, dropped
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring[T]) reset() {
	r.items = r.items[:0]
}

func (r *ring[T]) len() int { return len(r.items) }

// ConsoleMessage is one console API call observed on a page.
type ConsoleMessage struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url,omitempty"`
	Line      int       `json:"line,omitempty"`
	Column    int       `json:"column,omitempty"`
}

// PageError is an uncaught exception thrown in a page.
type PageError struct {
	Message   string    `json:"message"`
	Name      string    `json:"name,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestRecord tracks one network request from dispatch to completion.
type RequestRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resourceType,omitempty"`
	Status       int       `json:"status,omitempty"`
	OK           *bool     `json:"ok,omitempty"`
	Failure      string    `json:"failure,omitempty"`
}

// PageState holds everything observed on one page target. All access goes
// through the embedded mutex because CDP events land on rod's goroutines.
type PageState struct {
	TargetID string

	mu       sync.Mutex
	console  *ring[ConsoleMessage]
	errors   *ring[PageError]
	requests *ring[RequestRecord]

	nextRequestID int64
	inflight      map[string]int64

	refs    RefEntry
	hasRefs bool

	ctx  context.Context
	stop context.CancelFunc
}

func newPageState(targetID string, consoleCap, errorCap, requestCap int) *PageState {
	return &PageState{
		TargetID: targetID,
		console:  newRing[ConsoleMessage](consoleCap),
		errors:   newRing[PageError](errorCap),
		requests: newRing[RequestRecord](requestCap),
		inflight: make(map[string]int64),
	}
}

func (s *PageState) AddConsole(msg ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console.push(msg)
}

func (s *PageState) AddError(e PageError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors.push(e)
}

// RequestStarted records a dispatched request under a fresh internal id and
// remembers the browser's request id so later events land on this record.
func (s *PageState) RequestStarted(requestID, method, url, resourceType string, at time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRequestID++
	id := s.nextRequestID
	evicted, dropped := s.requests.push(RequestRecord{
		ID:           id,
		Timestamp:    at,
		Method:       method,
		URL:          url,
		ResourceType: resourceType,
	})
	if dropped {
		for rid, internal := range s.inflight {
			if internal == evicted.ID {
				delete(s.inflight, rid)
			}
		}
	}
	s.inflight[requestID] = id
	return id
}

// RequestFinished stores the response status on the most recent record for
// requestID. Unknown ids are ignored.
func (s *PageState) RequestFinished(requestID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.latest(requestID)
	if rec == nil {
		return
	}
	ok := status >= 200 && status < 400
	rec.Status = status
	rec.OK = &ok
}

func (s *PageState) RequestFailed(requestID, errorText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.latest(requestID)
	if rec == nil {
		return
	}
	ok := false
	rec.Failure = errorText
	rec.OK = &ok
	delete(s.inflight, requestID)
}

func (s *PageState) latest(requestID string) *RequestRecord {
	id, found := s.inflight[requestID]
	if !found {
		return nil
	}
	for i := len(s.requests.items) - 1; i >= 0; i-- {
		if s.requests.items[i].ID == id {
			return &s.requests.items[i]
		}
	}
	return nil
}

// Console returns buffered console messages, optionally filtered by type.
func (s *PageState) Console(level string) []ConsoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.console.snapshot()
	if level == "" {
		return all
	}
	out := all[:0]
	for _, m := range all {
		if strings.EqualFold(m.Type, level) {
			out = append(out, m)
		}
	}
	return out
}

func (s *PageState) Errors(drain bool) []PageError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.errors.snapshot()
	if drain {
		s.errors.reset()
	}
	return out
}

// Requests returns buffered requests whose URL contains filter.
func (s *PageState) Requests(filter string, drain bool) []RequestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.requests.snapshot()
	if drain {
		s.requests.reset()
		s.inflight = make(map[string]int64)
	}
	if filter == "" {
		return all
	}
	out := all[:0]
	for _, r := range all {
		if strings.Contains(r.URL, filter) {
			out = append(out, r)
		}
	}
	return out
}

// Pending counts buffered requests that have neither a response nor a
// failure yet.
func (s *PageState) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests.items {
		if r.OK == nil {
			n++
		}
	}
	return n
}

// SetRefs replaces the refs from the latest snapshot of this page.
func (s *PageState) SetRefs(e RefEntry) {
	e = e.clone()
	if e.Refs == nil {
		e.Refs = snapshot.Refs{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = e
	s.hasRefs = true
}

// RefEntry is a stored set of snapshot refs together with the scope they
// were produced in. MaxDepth is the cutoff the snapshot was taken with, so
// role lookups count duplicates over the same lines.
type RefEntry struct {
	Refs          snapshot.Refs `json:"refs"`
	Mode          snapshot.Mode `json:"mode"`
	FrameSelector string        `json:"frameSelector,omitempty"`
	Selector      string        `json:"selector,omitempty"`
	MaxDepth      *int          `json:"maxDepth,omitempty"`
}

func (e RefEntry) clone() RefEntry {
	e.Refs = e.Refs.Clone()
	if e.MaxDepth != nil {
		d := *e.MaxDepth
		e.MaxDepth = &d
	}
	return e
}

func (s *PageState) Refs() (RefEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRefs {
		return RefEntry{}, false
	}
	return s.refs.clone(), true
}

// pageRegistry maps target ids to their state. Entries are created the first
// time a page is seen and dropped when the target goes away.
type pageRegistry struct {
	mu     sync.Mutex
	states map[string]*PageState
}

func newPageRegistry() *pageRegistry {
	return &pageRegistry{states: make(map[string]*PageState)}
}

func (r *pageRegistry) getOrCreate(targetID string, create func() *PageState) (*PageState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[targetID]; ok {
		return st, false
	}
	st := create()
	r.states[targetID] = st
	return st, true
}

func (r *pageRegistry) get(targetID string) (*PageState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[targetID]
	return st, ok
}

func (r *pageRegistry) remove(targetID string) {
	r.mu.Lock()
	st, ok := r.states[targetID]
	delete(r.states, targetID)
	r.mu.Unlock()
	if ok && st.stop != nil {
		st.stop()
	}
}

func (r *pageRegistry) clear() {
	r.mu.Lock()
	states := r.states
	r.states = make(map[string]*PageState)
	r.mu.Unlock()
	for _, st := range states {
		if st.stop != nil {
			st.stop()
		}
	}
}

func (r *pageRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
