package dispatch

import (
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var ErrToolCallNotFound = goerr.New("tool call not found")

// Tracker is the per-session tool call history. It is never persisted and every
// returned call is a copy.
type Tracker struct {
	mu    sync.Mutex
	calls map[model.ToolCallID]*model.ToolCall
	order []model.ToolCallID
	now   func() time.Time
}

// NewTracker creates an empty history
func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[model.ToolCallID]*model.ToolCall),
		now:   time.Now,
	}
}

// Start records a new pending invocation. When the arguments cannot be decoded the
// call is recorded directly in error status and the decode error is returned along
// with it.
func (t *Tracker) Start(kind model.ToolKind, raw map[string]any) (*model.ToolCall, error) {
	now := t.now()
	call := &model.ToolCall{
		ID:        model.NewToolCallID(),
		Kind:      kind,
		RawArgs:   model.AgentState(raw).Clone(),
		Status:    model.ToolStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == model.ToolConfirmJobInterest {
		call.Confirmation = &model.Confirmation{State: model.ConfirmationRequested}
	}

	args, err := model.DecodeToolArgs(kind, raw)
	if err != nil {
		call.Status = model.ToolStatusError
		call.Error = err.Error()
		if call.Confirmation != nil {
			call.Confirmation.State = model.ConfirmationInvalid
		}
	} else {
		call.Args = args
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[call.ID] = call
	t.order = append(t.order, call.ID)
	return call.Clone(), err
}

// Advance moves a call along its lifecycle. Result and errMsg are stored when non-empty.
func (t *Tracker) Advance(id model.ToolCallID, status model.ToolStatus, result map[string]any, errMsg string) (*model.ToolCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return nil, goerr.Wrap(ErrToolCallNotFound, "cannot advance", goerr.V("id", id))
	}
	if err := call.Transition(status, t.now()); err != nil {
		return nil, err
	}
	if result != nil {
		call.Result = model.AgentState(result).Clone()
	}
	if errMsg != "" {
		call.Error = errMsg
	}
	return call.Clone(), nil
}

// SetConfirmation updates the human-in-the-loop view of a call
func (t *Tracker) SetConfirmation(id model.ToolCallID, state model.ConfirmationState, resp *model.ConfirmationResponse) (*model.ToolCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return nil, goerr.Wrap(ErrToolCallNotFound, "cannot set confirmation", goerr.V("id", id))
	}
	if call.Confirmation == nil {
		call.Confirmation = &model.Confirmation{}
	}
	call.Confirmation.State = state
	if resp != nil {
		r := *resp
		call.Confirmation.Response = &r
	}
	call.UpdatedAt = t.now()
	return call.Clone(), nil
}

// Get returns a copy of the call
func (t *Tracker) Get(id model.ToolCallID) (*model.ToolCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok {
		return nil, false
	}
	return call.Clone(), true
}

// List returns copies of all calls in start order
func (t *Tracker) List() []*model.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.ToolCall, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.calls[id].Clone())
	}
	return out
}
