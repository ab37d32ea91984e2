package chat

import (
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
)

type EventType string

const (
	EventMessage      EventType = "message"
	EventToolCall     EventType = "tool_call"
	EventConfirmation EventType = "confirmation"
	EventState        EventType = "state"
	EventGraph        EventType = "graph"
)

const eventBuffer = 64

// Event is delivered to the page for every visible change of the session
type Event struct {
	Type     EventType            `json:"type"`
	Message  *Message             `json:"message,omitempty"`
	ToolCall *model.ToolCall      `json:"tool_call,omitempty"`
	HTML     string               `json:"html,omitempty"`
	State    model.AgentState     `json:"state,omitempty"`
	Graph    *model.InterestGraph `json:"graph,omitempty"`
}

type Message struct {
	Role    model.MemoryRole `json:"role"`
	Content string           `json:"content"`
	At      time.Time        `json:"at"`
}

// Events subscribes to the session. The channel is closed on unmount or when the
// returned cancel function is called.
func (s *Session) Events() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *Session) emitToolCall(typ EventType, call *model.ToolCall) {
	if call == nil {
		return
	}
	s.emit(Event{Type: typ, ToolCall: call, HTML: s.renderers.RenderHTML(call)})
}

// emit never blocks; a subscriber that falls behind loses events
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logging.From(s.ctx).Warn("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}
