package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ErrStaleWrite is returned by a Sink when the remote side already holds a strictly
// newer version than the one a local patch was based on. The patch is discarded.
var ErrStaleWrite = goerr.New("remote state is newer than the local write")

const defaultDebounce = 150 * time.Millisecond

// Snapshot is a versioned view of an AgentState
type Snapshot struct {
	Version uint64
	Values  model.AgentState
}

// Sink propagates coalesced local writes to the remote agent process. It returns the
// version the remote side assigned to the merged state.
type Sink interface {
	Push(ctx context.Context, name string, snap Snapshot) (uint64, error)
}

// Channel is the host side of the state shared between a page and the remote agent.
// Local writes apply synchronously and are flushed to the Sink after a debounce window.
// A remote push wins only when its version is strictly newer than the local one, in
// which case pending local writes are discarded.
type Channel struct {
	name     string
	sink     Sink
	debounce time.Duration
	ctx      context.Context

	mu      sync.Mutex
	values  model.AgentState
	version uint64
	pending model.AgentState
	timer   *time.Timer
	synced  map[string]struct{}
	subs    map[int]chan model.AgentState
	nextSub int
	closed  bool
}

// Option configures a Channel
type Option func(*Channel)

// WithDebounce sets the coalescing window for local writes. Zero disables automatic
// flushing; callers then use Flush explicitly.
func WithDebounce(d time.Duration) Option {
	return func(c *Channel) {
		c.debounce = d
	}
}

// WithContext sets the context used by automatic flushes (logger, deadlines)
func WithContext(ctx context.Context) Option {
	return func(c *Channel) {
		c.ctx = ctx
	}
}

// New creates a Channel holding initial. sink may be nil for a page without a remote agent.
func New(name string, initial model.AgentState, sink Sink, opts ...Option) *Channel {
	c := &Channel{
		name:     name,
		sink:     sink,
		debounce: defaultDebounce,
		ctx:      context.Background(),
		values:   initial.Clone(),
		synced:   make(map[string]struct{}),
		subs:     make(map[int]chan model.AgentState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name shared with the remote agent
func (c *Channel) Name() string {
	return c.name
}

// State returns a copy of the current local view
func (c *Channel) State() model.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

// Snapshot returns the local view together with its version
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Version: c.version, Values: c.values.Clone()}
}

// Version returns the last version agreed with the remote side
func (c *Channel) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Set replaces the whole state
func (c *Channel) Set(next model.AgentState) {
	c.Update(func(model.AgentState) model.AgentState { return next })
}

// Update applies an updater function to a copy of the current state
func (c *Channel) Update(fn func(prev model.AgentState) model.AgentState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next := fn(c.values.Clone())
	c.applyLocked(c.values.Diff(next))
	c.mu.Unlock()
}

// Patch shallow-merges patch into the state
func (c *Channel) Patch(patch model.AgentState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.applyLocked(patch)
	c.mu.Unlock()
}

func (c *Channel) applyLocked(patch model.AgentState) {
	if len(patch) == 0 {
		return
	}
	c.values = c.values.Merge(patch)
	c.pending = c.pending.Overlay(patch)
	c.notifyLocked()
	c.scheduleLocked()
}

func (c *Channel) scheduleLocked() {
	if c.sink == nil || c.debounce <= 0 {
		return
	}
	if c.timer != nil {
		c.timer.Reset(c.debounce)
		return
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		if err := c.Flush(c.ctx); err != nil {
			logging.From(c.ctx).Warn("failed to flush shared state", "name", c.name, "error", err)
		}
	})
}

// Flush sends coalesced local writes to the sink. On a transport failure the writes stay
// pending for the next flush; a stale write is dropped because the remote value wins.
func (c *Channel) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.sink == nil || len(c.pending) == 0 || c.closed {
		c.mu.Unlock()
		return nil
	}
	patch := c.pending
	base := c.version
	c.pending = nil
	c.mu.Unlock()

	version, err := c.sink.Push(ctx, c.name, Snapshot{Version: base, Values: patch})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			logging.From(ctx).Debug("local state write superseded by remote", "name", c.name, "base", base)
			return nil
		}
		if c.version == base {
			c.pending = patch.Overlay(c.pending)
		}
		return goerr.Wrap(err, "failed to push shared state", goerr.V("name", c.name), goerr.V("base", base))
	}

	// A remote push may have landed while this flush was in flight
	if c.version == base && version > c.version {
		c.version = version
	}
	return nil
}

// Receive applies an unsolicited update pushed by the remote agent. It returns false and
// leaves the state untouched unless the remote version is strictly newer.
func (c *Channel) Receive(remote Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || remote.Version <= c.version {
		return false
	}

	next := remote.Values.WithoutHostOwned()
	if pc, ok := c.values[model.StateKeyPageContext]; ok {
		next[model.StateKeyPageContext] = pc
	}
	c.values = next
	c.version = remote.Version
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	c.notifyLocked()
	return true
}

// SyncPageContext writes page_context and user once per page/user combination. It
// returns false when the combination was already synced.
func (c *Channel) SyncPageContext(page model.PageContext, user *model.User) bool {
	key := page.Slug + "\x00"
	if user != nil {
		key += user.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.synced[key]; ok {
		return false
	}
	c.synced[key] = struct{}{}

	pc, err := model.ToStateValue(page)
	if err != nil {
		logging.From(c.ctx).Warn("failed to encode page context", "error", err)
		return false
	}
	patch := model.AgentState{model.StateKeyPageContext: pc}
	if user != nil {
		u, err := model.ToStateValue(user)
		if err != nil {
			logging.From(c.ctx).Warn("failed to encode user", "error", err)
			return false
		}
		patch[model.StateKeyUser] = u
	}
	c.applyLocked(patch)
	return true
}

// Subscribe returns a channel receiving every new state. Slow subscribers miss
// intermediate values but always see the latest one eventually.
func (c *Channel) Subscribe() (<-chan model.AgentState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan model.AgentState, 8)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Channel) notifyLocked() {
	for _, ch := range c.subs {
		v := c.values.Clone()
		select {
		case ch <- v:
		default:
			// drop the oldest queued value to make room for the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Close stops automatic flushing and releases subscribers. Later writes are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
