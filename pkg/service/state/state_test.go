package state_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/service/state"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type recordingSink struct {
	mu      sync.Mutex
	pushes  []state.Snapshot
	err     error
	version uint64
}

func (s *recordingSink) Push(ctx context.Context, name string, snap state.Snapshot) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, snap)
	if s.err != nil {
		return 0, s.err
	}
	s.version++
	return s.version, nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushes)
}

func TestRapidLocalWritesCoalesce(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ch := state.New("agent", nil, sink, state.WithDebounce(0))

	ch.Patch(model.AgentState{"search_query": "a"})
	ch.Patch(model.AgentState{"search_query": "ab"})

	gt.Equal(t, ch.State().SearchQuery(), "ab")

	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, sink.count(), 1)
	gt.Equal(t, sink.pushes[0].Values.SearchQuery(), "ab")
	gt.Equal(t, ch.Version(), uint64(1))
}

func TestDebouncedFlush(t *testing.T) {
	sink := &recordingSink{}
	ch := state.New("agent", nil, sink, state.WithDebounce(10*time.Millisecond))
	defer ch.Close()

	ch.Patch(model.AgentState{"search_query": "c"})
	ch.Patch(model.AgentState{"search_query": "cf"})
	ch.Patch(model.AgentState{"search_query": "cfo"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.Equal(t, sink.count(), 1)
	gt.Equal(t, sink.pushes[0].Values.SearchQuery(), "cfo")
}

func TestUpdaterAndReplacement(t *testing.T) {
	ch := state.New("agent", model.AgentState{"a": "1", "b": "2"}, nil)

	ch.Update(func(prev model.AgentState) model.AgentState {
		prev["a"] = "updated"
		return prev
	})
	gt.Equal(t, ch.State()["a"].(string), "updated")

	ch.Set(model.AgentState{"c": "3"})
	s := ch.State()
	gt.Equal(t, len(s), 1)
	gt.Equal(t, s["c"].(string), "3")
}

func TestRemoteWinsWhenStrictlyNewer(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ch := state.New("agent", nil, sink, state.WithDebounce(0))

	ch.Patch(model.AgentState{"search_query": "local"})
	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, ch.Version(), uint64(1))

	// stale or equal pushes are ignored
	gt.False(t, ch.Receive(state.Snapshot{Version: 1, Values: model.AgentState{"search_query": "old"}}))
	gt.Equal(t, ch.State().SearchQuery(), "local")

	// an in-flight local write is discarded by a strictly newer remote version
	ch.Patch(model.AgentState{"search_query": "typing"})
	gt.True(t, ch.Receive(state.Snapshot{Version: 2, Values: model.AgentState{
		"search_query":   "remote",
		"search_results": []any{"job-1"},
	}}))

	s := ch.State()
	gt.Equal(t, s.SearchQuery(), "remote")
	gt.Map(t, s).HasKey("search_results")
	gt.Equal(t, ch.Version(), uint64(2))

	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, sink.count(), 1)
}

func TestRemoteCannotOverwritePageContext(t *testing.T) {
	ch := state.New("agent", nil, nil)
	gt.True(t, ch.SyncPageContext(model.PageContext{Slug: "fractional-cfo-jobs"}, nil))

	gt.True(t, ch.Receive(state.Snapshot{Version: 1, Values: model.AgentState{
		model.StateKeyPageContext: map[string]any{"slug": "hijacked"},
	}}))
	gt.Equal(t, ch.State().PageContext().Slug, "fractional-cfo-jobs")
}

func TestSyncPageContextOncePerPageAndUser(t *testing.T) {
	sink := &recordingSink{}
	ch := state.New("agent", nil, sink, state.WithDebounce(0))
	page := model.PageContext{Slug: "fractional-cfo-jobs", Title: "Fractional CFO Jobs"}
	user := &model.User{ID: "u1", Name: "Sam"}

	gt.True(t, ch.SyncPageContext(page, user))
	gt.False(t, ch.SyncPageContext(page, &model.User{ID: "u1", Name: "Sam"}))
	gt.NoError(t, ch.Flush(context.Background()))
	gt.Equal(t, sink.count(), 1)

	s := ch.State()
	gt.Equal(t, s.PageContext().Title, "Fractional CFO Jobs")
	gt.Equal(t, s.User().ID, "u1")

	// a different user on the same page is a new combination
	gt.True(t, ch.SyncPageContext(page, &model.User{ID: "u2"}))
	gt.Equal(t, ch.State().User().ID, "u2")
}

func TestFlushFailureKeepsPendingWrites(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: goerr.New("network down")}
	ch := state.New("agent", nil, sink, state.WithDebounce(0))

	ch.Patch(model.AgentState{"search_query": "cto"})
	gt.Error(t, ch.Flush(ctx))

	sink.err = nil
	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, sink.count(), 2)
	gt.Equal(t, sink.pushes[1].Values.SearchQuery(), "cto")
}

func TestReplicaRoundTrip(t *testing.T) {
	ctx := context.Background()
	replica := state.NewReplica("agent")
	ch := state.New("agent", nil, replica, state.WithDebounce(0))
	replica.Attach(ch)

	ch.Patch(model.AgentState{"search_query": "interim cfo"})
	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, replica.Snapshot().Values.SearchQuery(), "interim cfo")

	v := replica.Write(ctx, model.AgentState{
		"search_results":          []any{map[string]any{"title": "CFO"}},
		model.StateKeyPageContext: map[string]any{"slug": "ignored"},
	})
	gt.Equal(t, v, uint64(2))

	s := ch.State()
	gt.Equal(t, s.SearchQuery(), "interim cfo")
	gt.Map(t, s).HasKey("search_results")
	gt.Nil(t, s.PageContext())
	gt.Equal(t, ch.Version(), uint64(2))
}

func TestReplicaRejectsStaleHostWrite(t *testing.T) {
	ctx := context.Background()
	replica := state.NewReplica("agent")
	replica.Write(ctx, model.AgentState{"search_query": "remote"})
	replica.Write(ctx, model.AgentState{"search_query": "remote 2"})

	_, err := replica.Push(ctx, "agent", state.Snapshot{Version: 1, Values: model.AgentState{"search_query": "late"}})
	gt.True(t, errors.Is(err, state.ErrStaleWrite))
	gt.Equal(t, replica.Snapshot().Values.SearchQuery(), "remote 2")
}

func TestStaleFlushIsDropped(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: goerr.Wrap(state.ErrStaleWrite, "rejected")}
	ch := state.New("agent", nil, sink, state.WithDebounce(0))

	ch.Patch(model.AgentState{"search_query": "x"})
	gt.NoError(t, ch.Flush(ctx))

	sink.err = nil
	gt.NoError(t, ch.Flush(ctx))
	gt.Equal(t, sink.count(), 1)
}

func TestSubscribeAndClose(t *testing.T) {
	ch := state.New("agent", nil, nil)
	updates, cancel := ch.Subscribe()
	defer cancel()

	ch.Patch(model.AgentState{"search_query": "coo"})
	select {
	case s := <-updates:
		gt.Equal(t, s.SearchQuery(), "coo")
	case <-time.After(time.Second):
		t.Fatal("no state update received")
	}

	ch.Close()
	_, ok := <-updates
	gt.False(t, ok)

	ch.Patch(model.AgentState{"search_query": "ignored"})
	gt.Equal(t, ch.State().SearchQuery(), "coo")
}
