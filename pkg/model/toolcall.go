package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrToolCallTerminal  = goerr.New("tool call already reached a terminal status")
	ErrInvalidTransition = goerr.New("invalid tool call status transition")
	ErrUnknownTool       = goerr.New("unknown tool")
	ErrInvalidToolArgs   = goerr.New("invalid tool arguments")
)

type ToolCallID string

// NewToolCallID generates a new unique ToolCallID. Every invocation gets its own
// identity, even when the tool name repeats.
func NewToolCallID() ToolCallID {
	return ToolCallID(uuid.New().String())
}

type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusExecuting ToolStatus = "executing"
	ToolStatusComplete  ToolStatus = "complete"
	ToolStatusError     ToolStatus = "error"
)

// IsTerminal reports whether no further transition is allowed
func (s ToolStatus) IsTerminal() bool {
	return s == ToolStatusComplete || s == ToolStatusError
}

// CanTransition reports whether s may move to next. An executing call may be
// advanced to executing again to carry incremental output.
func (s ToolStatus) CanTransition(next ToolStatus) bool {
	switch s {
	case ToolStatusPending:
		return next == ToolStatusExecuting || next == ToolStatusComplete || next == ToolStatusError
	case ToolStatusExecuting:
		return next == ToolStatusExecuting || next == ToolStatusComplete || next == ToolStatusError
	default:
		return false
	}
}

// ToolCall is a single invocation of a capability by the remote agent
type ToolCall struct {
	ID        ToolCallID     `json:"id"`
	Kind      ToolKind       `json:"name"`
	Args      ToolArgs       `json:"-"`
	RawArgs   map[string]any `json:"args"`
	Status    ToolStatus     `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// Confirmation is set for human-in-the-loop calls only
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

// Transition moves the call to next, enforcing the lifecycle
func (c *ToolCall) Transition(next ToolStatus, now time.Time) error {
	if c.Status.IsTerminal() {
		return goerr.Wrap(ErrToolCallTerminal, "cannot transition",
			goerr.V("id", c.ID), goerr.V("status", c.Status), goerr.V("next", next))
	}
	if !c.Status.CanTransition(next) {
		return goerr.Wrap(ErrInvalidTransition, "cannot transition",
			goerr.V("id", c.ID), goerr.V("status", c.Status), goerr.V("next", next))
	}
	c.Status = next
	c.UpdatedAt = now
	return nil
}

// HasResult reports whether the remote process produced any output
func (c *ToolCall) HasResult() bool {
	return c.Result != nil
}

// Clone returns a copy that renderers and subscribers can read without racing the tracker
func (c *ToolCall) Clone() *ToolCall {
	if c == nil {
		return nil
	}
	out := *c
	if c.RawArgs != nil {
		out.RawArgs = AgentState(c.RawArgs).Clone()
	}
	if c.Result != nil {
		out.Result = AgentState(c.Result).Clone()
	}
	if c.Confirmation != nil {
		conf := *c.Confirmation
		if c.Confirmation.Response != nil {
			resp := *c.Confirmation.Response
			conf.Response = &resp
		}
		out.Confirmation = &conf
	}
	return &out
}
