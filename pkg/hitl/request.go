// Package hitl implements the human-in-the-loop confirmation protocol: a tool call that
// suspends the remote agent until the user confirms or declines exactly once.
package hitl

import (
	"context"
	"sync"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidArguments = goerr.New("invalid confirmation arguments")
	ErrAlreadyResolved  = goerr.New("confirmation already resolved")
	ErrNotAwaiting      = goerr.New("confirmation is not awaiting a response")
	ErrQueueClosed      = goerr.New("confirmation queue closed")
	ErrRequestNotFound  = goerr.New("confirmation request not found")
)

// Request is one confirmation instance.
//
//	Requested -> AwaitingResponse -> Resolved
//	Requested -> Invalid
type Request struct {
	id  model.ToolCallID
	raw map[string]any

	mu    sync.Mutex
	state model.ConfirmationState
	args  model.ConfirmJobInterestArgs
	resp  *model.ConfirmationResponse
	err   error
	done  chan struct{}

	// aborted is terminal: the waiter was released without a response
	aborted bool
}

// NewRequest creates a request in the Requested state
func NewRequest(id model.ToolCallID, raw map[string]any) *Request {
	return &Request{
		id:    id,
		raw:   model.AgentState(raw).Clone(),
		state: model.ConfirmationRequested,
		done:  make(chan struct{}),
	}
}

func (r *Request) ID() model.ToolCallID { return r.id }

func (r *Request) State() model.ConfirmationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Args returns the decoded arguments. They are only meaningful after Validate succeeded.
func (r *Request) Args() model.ConfirmJobInterestArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.args
}

// Response returns the resolved payload, nil until resolved
func (r *Request) Response() *model.ConfirmationResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resp == nil {
		return nil
	}
	resp := *r.resp
	return &resp
}

// Validate checks the arguments against the declared schema. A failing request moves
// to Invalid and can never be presented.
func (r *Request) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted {
		return goerr.Wrap(ErrQueueClosed, "request abandoned", goerr.V("id", r.id))
	}
	if r.state != model.ConfirmationRequested {
		if r.state == model.ConfirmationInvalid {
			return goerr.Wrap(ErrInvalidArguments, "request already invalid", goerr.V("id", r.id))
		}
		return nil
	}

	if err := ValidateArgs(r.raw); err != nil {
		r.invalidate(err)
		return goerr.Wrap(err, "confirmation rejected", goerr.V("id", r.id))
	}
	args, err := model.DecodeToolArgs(model.ToolConfirmJobInterest, r.raw)
	if err != nil {
		r.invalidate(err)
		return goerr.Wrap(ErrInvalidArguments, err.Error(), goerr.V("id", r.id))
	}
	r.args = args.(model.ConfirmJobInterestArgs)
	return nil
}

func (r *Request) invalidate(err error) {
	r.state = model.ConfirmationInvalid
	r.err = err
	close(r.done)
}

// Present moves a validated request to AwaitingResponse
func (r *Request) Present() error {
	if err := r.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return goerr.Wrap(ErrQueueClosed, "cannot present", goerr.V("id", r.id))
	}
	switch r.state {
	case model.ConfirmationRequested:
		r.state = model.ConfirmationAwaiting
		return nil
	case model.ConfirmationAwaiting:
		return nil
	default:
		return goerr.Wrap(ErrAlreadyResolved, "cannot present", goerr.V("id", r.id), goerr.V("state", r.state))
	}
}

// Respond resolves the request and releases the waiting agent. Only the first call
// has any effect; later calls return ErrAlreadyResolved.
func (r *Request) Respond(resp model.ConfirmationResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted {
		return goerr.Wrap(ErrQueueClosed, "respond ignored", goerr.V("id", r.id))
	}
	switch r.state {
	case model.ConfirmationAwaiting:
		r.state = model.ConfirmationResolved
		r.resp = &resp
		close(r.done)
		return nil
	case model.ConfirmationResolved:
		return goerr.Wrap(ErrAlreadyResolved, "respond ignored", goerr.V("id", r.id))
	case model.ConfirmationInvalid:
		return goerr.Wrap(ErrInvalidArguments, "cannot respond to invalid request", goerr.V("id", r.id))
	default:
		return goerr.Wrap(ErrNotAwaiting, "respond ignored", goerr.V("id", r.id), goerr.V("state", r.state))
	}
}

// abort releases waiters without resolving
func (r *Request) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || r.state == model.ConfirmationResolved || r.state == model.ConfirmationInvalid {
		return
	}
	r.aborted = true
	r.err = err
	close(r.done)
}

// Wait blocks until the request is resolved, becomes invalid, is aborted or ctx ends
func (r *Request) Wait(ctx context.Context) (model.ConfirmationResponse, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return model.ConfirmationResponse{}, goerr.Wrap(ctx.Err(), "confirmation wait cancelled", goerr.V("id", r.id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resp != nil {
		return *r.resp, nil
	}
	return model.ConfirmationResponse{}, r.err
}

// ConfirmResponse builds the payload of a positive answer. Empty overrides fall back
// to the request arguments, and the role type falls back to the job title.
func ConfirmResponse(args model.ConfirmJobInterestArgs, roleType, location string) model.ConfirmationResponse {
	if roleType == "" {
		roleType = args.RoleType
	}
	if roleType == "" {
		roleType = args.JobTitle
	}
	if location == "" {
		location = args.Location
	}
	return model.ConfirmationResponse{Confirmed: true, RoleType: roleType, Location: location}
}

// DeclineResponse is the payload of a negative answer
func DeclineResponse() model.ConfirmationResponse {
	return model.ConfirmationResponse{Confirmed: false}
}
