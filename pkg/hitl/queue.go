package hitl

import (
	"sync"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Observer is notified after a request changed state. It runs outside the queue lock.
type Observer func(req *Request)

// Queue holds the outstanding confirmations of one chat session. Requests are
// presented one at a time in arrival order: only the head awaits a response, the
// rest stay Requested until everything before them resolved.
type Queue struct {
	mu       sync.Mutex
	pending  []*Request
	byID     map[model.ToolCallID]*Request
	closed   bool
	observer Observer
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithObserver registers a state change observer
func WithObserver(fn Observer) QueueOption {
	return func(q *Queue) {
		q.observer = fn
	}
}

// NewQueue creates an empty queue
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		byID: make(map[model.ToolCallID]*Request),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) notify(reqs ...*Request) {
	if q.observer == nil {
		return
	}
	for _, r := range reqs {
		if r != nil {
			q.observer(r)
		}
	}
}

// Enqueue validates and queues a new confirmation. An invalid request is recorded but
// never queued; it is returned together with an ErrInvalidArguments error.
func (q *Queue) Enqueue(id model.ToolCallID, raw map[string]any) (*Request, error) {
	req := NewRequest(id, raw)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, goerr.Wrap(ErrQueueClosed, "cannot enqueue", goerr.V("id", id))
	}
	q.byID[id] = req

	if err := req.Validate(); err != nil {
		q.mu.Unlock()
		q.notify(req)
		return req, err
	}

	q.pending = append(q.pending, req)
	if len(q.pending) == 1 {
		if err := req.Present(); err != nil {
			q.mu.Unlock()
			return req, err
		}
	}
	q.mu.Unlock()

	q.notify(req)
	return req, nil
}

// Respond resolves request id and presents the next queued request
func (q *Queue) Respond(id model.ToolCallID, resp model.ConfirmationResponse) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return goerr.Wrap(ErrQueueClosed, "cannot respond", goerr.V("id", id))
	}
	req, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return goerr.Wrap(ErrRequestNotFound, "cannot respond", goerr.V("id", id))
	}
	if err := req.Respond(resp); err != nil {
		q.mu.Unlock()
		return err
	}

	var next *Request
	for i, r := range q.pending {
		if r == req {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	if len(q.pending) > 0 && q.pending[0].State() == model.ConfirmationRequested {
		next = q.pending[0]
		if err := next.Present(); err != nil {
			next = nil
		}
	}
	q.mu.Unlock()

	q.notify(req, next)
	return nil
}

// Get returns any request ever enqueued, resolved or not
func (q *Queue) Get(id model.ToolCallID) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.byID[id]
	return req, ok
}

// Head returns the request currently awaiting a response, or nil
func (q *Queue) Head() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

// Pending returns the unresolved requests in presentation order
func (q *Queue) Pending() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.pending))
	copy(out, q.pending)
	return out
}

// Close aborts every unresolved request. Waiters observe ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, r := range pending {
		r.abort(goerr.Wrap(ErrQueueClosed, "confirmation abandoned", goerr.V("id", r.ID())))
	}
}
