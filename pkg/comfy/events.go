package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// EventStream reads engine events for one client ID.
//
// A background goroutine owns the socket and forwards parsed events on a
// channel; the channel closes when the socket dies, so callers can race the
// stream against their own deadline without touching read deadlines. The
// stream carries events for every prompt submitted under the client ID; the
// caller filters by prompt ID.
type EventStream struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// DialEvents opens the engine's WebSocket event endpoint scoped to clientID.
func DialEvents(ctx context.Context, endpoint, clientID string) (*EventStream, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     endpoint,
		Path:     "/ws",
		RawQuery: "clientId=" + url.QueryEscape(clientID),
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	s := &EventStream{
		conn:   conn,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the event channel. It is closed when the underlying
// connection fails or Close is called; Err reports the cause afterwards.
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Err returns the terminal stream error, if any. Valid after Events closes.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the connection. The read loop exits shortly after, even
// when the caller stopped draining Events: closing done unblocks a reader
// stuck forwarding into a full buffer.
func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *EventStream) readLoop() {
	defer close(s.events)

	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		// Preview frames arrive as binary; only JSON text frames matter.
		if kind != websocket.TextMessage {
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Executing decodes an "executing" event payload, reporting ok=false for
// other event types.
func (e Event) Executing() (ExecutingData, bool) {
	if e.Type != "executing" {
		return ExecutingData{}, false
	}
	var d ExecutingData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ExecutingData{}, false
	}
	return d, true
}

// ExecutionError decodes an "execution_error" event payload.
func (e Event) ExecutionError() (ExecutionErrorData, bool) {
	if e.Type != "execution_error" {
		return ExecutionErrorData{}, false
	}
	var d ExecutionErrorData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ExecutionErrorData{}, false
	}
	return d, true
}

// Progress decodes a "progress" event payload.
func (e Event) Progress() (ProgressData, bool) {
	if e.Type != "progress" {
		return ProgressData{}, false
	}
	var d ProgressData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ProgressData{}, false
	}
	return d, true
}
