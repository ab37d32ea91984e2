package state

import (
	"context"
	"sync"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Receiver accepts state pushed by the remote side
type Receiver interface {
	Receive(remote Snapshot) bool
}

// Replica is the remote agent's mirror of a shared state. It accepts host writes as a
// Sink and lets the agent write its own updates, which are pushed back to the host.
type Replica struct {
	name string

	mu       sync.Mutex
	values   model.AgentState
	version  uint64
	receiver Receiver
}

// NewReplica creates an empty replica for the named state
func NewReplica(name string) *Replica {
	return &Replica{
		name:   name,
		values: model.AgentState{},
	}
}

// Attach sets the host receiving the replica's unsolicited updates
func (r *Replica) Attach(rcv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiver = rcv
}

// Push implements Sink. The last local write wins unless the replica already produced a
// version newer than the one the write was based on.
func (r *Replica) Push(ctx context.Context, name string, snap Snapshot) (uint64, error) {
	if name != r.name {
		return 0, goerr.New("state name mismatch", goerr.V("expected", r.name), goerr.V("actual", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Version < r.version {
		return 0, goerr.Wrap(ErrStaleWrite, "rejected host write",
			goerr.V("name", name), goerr.V("base", snap.Version), goerr.V("current", r.version))
	}
	r.values = r.values.Merge(snap.Values)
	r.version++
	return r.version, nil
}

// Write applies an update produced by the agent itself and pushes the new state to the
// host. page_context is owned by the host and silently dropped from the patch.
func (r *Replica) Write(ctx context.Context, patch model.AgentState) uint64 {
	r.mu.Lock()
	r.values = r.values.Merge(patch.WithoutHostOwned())
	r.version++
	snap := Snapshot{Version: r.version, Values: r.values.Clone()}
	rcv := r.receiver
	r.mu.Unlock()

	if rcv != nil && !rcv.Receive(snap) {
		logging.From(ctx).Debug("host ignored remote state push", "name", r.name, "version", snap.Version)
	}
	return snap.Version
}

// Snapshot returns the replica's current view
func (r *Replica) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Version: r.version, Values: r.values.Clone()}
}
