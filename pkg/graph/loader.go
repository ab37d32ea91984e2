package graph

import (
	"context"
	"time"

	"github.com/fractionalquest/copilot/pkg/interfaces"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds the entity snapshot fetch
const DefaultTimeout = 8 * time.Second

// Loader fetches entity snapshots and builds graphs from them. Loads never fail: any
// error degrades to the user-only graph.
type Loader struct {
	store   interfaces.MemoryStore
	timeout time.Duration
	opts    []Option
	group   singleflight.Group
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithBuildOptions passes options to Build
func WithBuildOptions(opts ...Option) LoaderOption {
	return func(l *Loader) {
		l.opts = append(l.opts, opts...)
	}
}

// NewLoader creates a Loader. A nil store always yields the user-only graph.
func NewLoader(store interfaces.MemoryStore, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:   store,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the interest graph of userID. Concurrent loads for the same user share
// one fetch.
func (l *Loader) Load(ctx context.Context, userID string) *model.InterestGraph {
	entities, err := l.fetch(ctx, userID)
	if err != nil {
		logging.From(ctx).Warn("failed to load entity snapshot, showing no graph", "user_id", userID, "error", err)
		entities = nil
	}
	return Build(entities, l.opts...)
}

func (l *Loader) fetch(ctx context.Context, userID string) (*model.Entities, error) {
	if l.store == nil || userID == "" {
		return nil, nil
	}

	ch := l.group.DoChan(userID, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, l.timeout)
			defer cancel()
		}
		entities, err := l.store.Entities(fetchCtx, userID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to fetch entities", goerr.V("user_id", userID))
		}
		return entities, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entities, _ := res.Val.(*model.Entities)
		return entities, nil
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "entity fetch abandoned", goerr.V("user_id", userID))
	}
}
