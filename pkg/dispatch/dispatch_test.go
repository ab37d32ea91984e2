package dispatch_test

import (
	"errors"
	"testing"

	"github.com/chasefleming/elem-go"
	"github.com/fractionalquest/copilot/pkg/dispatch"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestDefaultRegistryCoversEveryTool(t *testing.T) {
	r := dispatch.DefaultRegistry()
	for _, kind := range model.AllToolKinds() {
		gt.True(t, r.Has(kind)).Describe("no renderer for " + string(kind))
	}
}

func TestRegisterTwiceIsFlagged(t *testing.T) {
	r := dispatch.New()
	first := dispatch.Funcs{
		LoadingFn:  func(*model.ToolCall) elem.Node { return elem.Text("first") },
		EmptyFn:    func(*model.ToolCall) elem.Node { return elem.Text("first") },
		CompleteFn: func(*model.ToolCall) elem.Node { return elem.Text("first") },
	}
	second := dispatch.Funcs{
		LoadingFn:  func(*model.ToolCall) elem.Node { return elem.Text("second") },
		EmptyFn:    func(*model.ToolCall) elem.Node { return elem.Text("second") },
		CompleteFn: func(*model.ToolCall) elem.Node { return elem.Text("second") },
	}

	gt.NoError(t, r.Register(model.ToolShowJobsChart, first))
	err := r.Register(model.ToolShowJobsChart, second)
	gt.True(t, errors.Is(err, dispatch.ErrDuplicateRenderer))

	html := r.RenderHTML(&model.ToolCall{ID: "c1", Kind: model.ToolShowJobsChart, Status: model.ToolStatusPending})
	gt.S(t, html).Contains("second")
	gt.S(t, html).NotContains("first")
}

func TestLoadingIsDistinctFromComplete(t *testing.T) {
	r := dispatch.DefaultRegistry()
	tracker := dispatch.NewTracker()

	call, err := tracker.Start(model.ToolShowJobsChart, map[string]any{"query": "cfo"})
	gt.NoError(t, err)
	call, err = tracker.Advance(call.ID, model.ToolStatusExecuting, nil, "")
	gt.NoError(t, err)

	loading := r.RenderHTML(call)
	gt.S(t, loading).Contains(`data-view="loading"`)
	gt.S(t, loading).Contains("Loading role distribution…")

	call, err = tracker.Advance(call.ID, model.ToolStatusComplete, map[string]any{
		"buckets": []model.RoleBucket{{Label: "CFO", Count: 4}, {Label: "CTO", Count: 2}},
	}, "")
	gt.NoError(t, err)

	complete := r.RenderHTML(call)
	gt.S(t, complete).Contains(`data-view="complete"`)
	gt.S(t, complete).NotContains("Loading role distribution")
	gt.S(t, complete).Contains("CFO")
	gt.NotEqual(t, loading, complete)
}

func TestPartialResultRendersWhileExecuting(t *testing.T) {
	r := dispatch.DefaultRegistry()
	tracker := dispatch.NewTracker()

	call, err := tracker.Start(model.ToolShowJobsChart, map[string]any{"query": "cfo"})
	gt.NoError(t, err)
	call, err = tracker.Advance(call.ID, model.ToolStatusExecuting, nil, "")
	gt.NoError(t, err)
	gt.S(t, r.RenderHTML(call)).Contains(`data-view="loading"`)

	call, err = tracker.Advance(call.ID, model.ToolStatusExecuting, map[string]any{
		"buckets": []model.RoleBucket{{Label: "CFO", Count: 1}},
	}, "")
	gt.NoError(t, err)
	gt.Equal(t, call.Status, model.ToolStatusExecuting)

	partial := r.RenderHTML(call)
	gt.S(t, partial).Contains(`data-view="complete"`)
	gt.S(t, partial).Contains("CFO")

	call, err = tracker.Advance(call.ID, model.ToolStatusComplete, map[string]any{
		"buckets": []model.RoleBucket{{Label: "CFO", Count: 4}, {Label: "CTO", Count: 2}},
	}, "")
	gt.NoError(t, err)
	gt.S(t, r.RenderHTML(call)).Contains("CTO")
}

func TestEmptyResultRendersEmptyState(t *testing.T) {
	r := dispatch.DefaultRegistry()
	for _, kind := range []model.ToolKind{model.ToolSearchJobs, model.ToolShowJobsChart, model.ToolShowInterestGraph} {
		t.Run(string(kind), func(t *testing.T) {
			call := &model.ToolCall{ID: "c1", Kind: kind, Status: model.ToolStatusComplete, Result: map[string]any{}}
			html := r.RenderHTML(call)
			gt.S(t, html).Contains(`data-view="empty"`)
			gt.S(t, html).Contains("tool-empty")
		})
	}
}

func TestSearchJobsDefaultsMissingFields(t *testing.T) {
	r := dispatch.DefaultRegistry()
	call := &model.ToolCall{
		ID:     "c1",
		Kind:   model.ToolSearchJobs,
		Status: model.ToolStatusComplete,
		Result: map[string]any{"jobs": []any{
			map[string]any{"title": "Fractional CFO", "company": "Acme", "location": "London"},
		}},
	}
	html := r.RenderHTML(call)
	gt.S(t, html).Contains("Fractional CFO")
	gt.S(t, html).Contains("Compensation on request")
	gt.S(t, html).Contains("No description provided.")
	gt.S(t, html).NotContains("View details")
}

func TestErrorRendersRecoverableAffordance(t *testing.T) {
	r := dispatch.DefaultRegistry()
	call := &model.ToolCall{ID: "c1", Kind: model.ToolSearchJobs, Status: model.ToolStatusError, Error: "backend timeout"}
	html := r.RenderHTML(call)
	gt.S(t, html).Contains(`data-view="error"`)
	gt.S(t, html).Contains("Try again")
	gt.S(t, html).Contains(`data-retry-of="c1"`)
}

func TestPanickingRendererIsIsolated(t *testing.T) {
	r := dispatch.New()
	gt.NoError(t, r.Register(model.ToolShowJobsChart, dispatch.Funcs{
		LoadingFn:  func(*model.ToolCall) elem.Node { panic("broken renderer") },
		EmptyFn:    func(*model.ToolCall) elem.Node { return elem.Text("empty") },
		CompleteFn: func(*model.ToolCall) elem.Node { return elem.Text("ok") },
	}))

	html := r.RenderHTML(&model.ToolCall{ID: "c1", Kind: model.ToolShowJobsChart, Status: model.ToolStatusExecuting})
	gt.S(t, html).Contains("tool-error")

	// other calls keep rendering
	html = r.RenderHTML(&model.ToolCall{ID: "c2", Kind: model.ToolShowJobsChart, Status: model.ToolStatusComplete, Result: map[string]any{"x": 1}})
	gt.S(t, html).Contains("ok")
}

func TestUnregisteredToolFallsBack(t *testing.T) {
	html := dispatch.New().RenderHTML(&model.ToolCall{ID: "c1", Kind: "unknown_tool", Status: model.ToolStatusPending})
	gt.S(t, html).Contains(`data-view="fallback"`)
	gt.S(t, html).Contains("unknown_tool")
}

func TestConfirmViews(t *testing.T) {
	r := dispatch.DefaultRegistry()
	tracker := dispatch.NewTracker()

	call, err := tracker.Start(model.ToolConfirmJobInterest, map[string]any{
		"job_title": "CFO", "company": "Acme", "location": "London", "role_type": "CFO",
	})
	gt.NoError(t, err)
	gt.Equal(t, call.Confirmation.State, model.ConfirmationRequested)

	call, err = tracker.Advance(call.ID, model.ToolStatusExecuting, nil, "")
	gt.NoError(t, err)
	call, err = tracker.SetConfirmation(call.ID, model.ConfirmationAwaiting, nil)
	gt.NoError(t, err)

	prompt := r.RenderHTML(call)
	gt.S(t, prompt).Contains(`data-view="prompt"`)
	gt.S(t, prompt).Contains("CFO")
	gt.S(t, prompt).Contains("Acme")
	gt.S(t, prompt).Contains("London")
	gt.S(t, prompt).Contains(`data-action="confirm"`)
	gt.S(t, prompt).Contains(`data-action="decline"`)

	resp := model.ConfirmationResponse{Confirmed: true, RoleType: "CFO", Location: "London"}
	_, err = tracker.SetConfirmation(call.ID, model.ConfirmationResolved, &resp)
	gt.NoError(t, err)
	call, err = tracker.Advance(call.ID, model.ToolStatusComplete, resp.ToMap(), "")
	gt.NoError(t, err)

	ack := r.RenderHTML(call)
	gt.S(t, ack).Contains("keep an eye out for CFO roles in London")
	gt.S(t, ack).NotContains("data-action")
}

func TestConfirmDeclinedAcknowledgment(t *testing.T) {
	call := &model.ToolCall{
		Kind:   model.ToolConfirmJobInterest,
		Status: model.ToolStatusComplete,
		Result: map[string]any{"confirmed": false},
	}
	gt.Equal(t, dispatch.Acknowledgment(call), "No problem — we won't save this one.")
}

func TestConfirmInvalidNeverRendersPrompt(t *testing.T) {
	r := dispatch.DefaultRegistry()
	call := &model.ToolCall{
		ID:           "c1",
		Kind:         model.ToolConfirmJobInterest,
		Status:       model.ToolStatusError,
		Confirmation: &model.Confirmation{State: model.ConfirmationInvalid},
	}
	html := r.RenderHTML(call)
	gt.S(t, html).Contains("We were unable to process this request.")
	gt.S(t, html).NotContains(`data-action="confirm"`)
}

func TestTrackerLifecycle(t *testing.T) {
	tracker := dispatch.NewTracker()

	a, err := tracker.Start(model.ToolSearchJobs, map[string]any{"query": "cfo"})
	gt.NoError(t, err)
	b, err := tracker.Start(model.ToolSearchJobs, map[string]any{"query": "cfo"})
	gt.NoError(t, err)
	gt.NotEqual(t, a.ID, b.ID)

	_, err = tracker.Advance(a.ID, model.ToolStatusComplete, map[string]any{"jobs": []any{}}, "")
	gt.NoError(t, err)
	_, err = tracker.Advance(a.ID, model.ToolStatusExecuting, nil, "")
	gt.True(t, errors.Is(err, model.ErrToolCallTerminal))

	_, err = tracker.Advance("missing", model.ToolStatusExecuting, nil, "")
	gt.True(t, errors.Is(err, dispatch.ErrToolCallNotFound))

	calls := tracker.List()
	gt.A(t, calls).Length(2)
	gt.Equal(t, calls[0].ID, a.ID)
	gt.Equal(t, calls[0].Status, model.ToolStatusComplete)

	// returned calls are copies
	calls[1].Status = model.ToolStatusError
	got, ok := tracker.Get(b.ID)
	gt.True(t, ok)
	gt.Equal(t, got.Status, model.ToolStatusPending)
}

func TestTrackerUndecodableArgs(t *testing.T) {
	tracker := dispatch.NewTracker()
	call, err := tracker.Start(model.ToolConfirmJobInterest, map[string]any{"job_title": 42})
	gt.True(t, errors.Is(err, model.ErrInvalidToolArgs))
	gt.Equal(t, call.Status, model.ToolStatusError)
	gt.Equal(t, call.Confirmation.State, model.ConfirmationInvalid)
}
