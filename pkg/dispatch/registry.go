// Package dispatch maps remote tool invocations to HTML renderers and tracks each
// invocation's lifecycle for the chat session.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var ErrDuplicateRenderer = goerr.New("renderer already registered")

// View names the lifecycle view a call was rendered with. It is exposed as the
// data-view attribute of the wrapper element.
type View string

const (
	ViewLoading  View = "loading"
	ViewPrompt   View = "prompt"
	ViewEmpty    View = "empty"
	ViewComplete View = "complete"
	ViewError    View = "error"
	ViewFallback View = "fallback"
)

// Renderer turns a tool call into HTML. Every renderer handles the three lifecycle
// states. Renderers receive a copy of the call and must not reach any shared state;
// user actions are links or data-tool buttons that start a new invocation.
type Renderer interface {
	Loading(call *model.ToolCall) elem.Node
	Empty(call *model.ToolCall) elem.Node
	Complete(call *model.ToolCall) elem.Node
	IsEmpty(call *model.ToolCall) bool
}

// Prompter is implemented by renderers of suspending tools. Prompt is used while
// the call awaits a human response.
type Prompter interface {
	Prompt(call *model.ToolCall) elem.Node
}

// Failer overrides the generic recoverable error view
type Failer interface {
	Failed(call *model.ToolCall) elem.Node
}

// Funcs adapts plain functions to Renderer. A nil IsEmptyFn treats a call without
// result fields as empty.
type Funcs struct {
	LoadingFn  func(call *model.ToolCall) elem.Node
	EmptyFn    func(call *model.ToolCall) elem.Node
	CompleteFn func(call *model.ToolCall) elem.Node
	IsEmptyFn  func(call *model.ToolCall) bool
}

func (f Funcs) Loading(call *model.ToolCall) elem.Node  { return f.LoadingFn(call) }
func (f Funcs) Empty(call *model.ToolCall) elem.Node    { return f.EmptyFn(call) }
func (f Funcs) Complete(call *model.ToolCall) elem.Node { return f.CompleteFn(call) }

func (f Funcs) IsEmpty(call *model.ToolCall) bool {
	if f.IsEmptyFn != nil {
		return f.IsEmptyFn(call)
	}
	return len(call.Result) == 0
}

// Registry holds exactly one active renderer per tool kind
type Registry struct {
	mu        sync.RWMutex
	renderers map[model.ToolKind]Renderer
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		renderers: make(map[model.ToolKind]Renderer),
	}
}

// Register installs r for kind. When a renderer is already registered the new one
// replaces it and ErrDuplicateRenderer is returned so misconfiguration is visible.
func (r *Registry) Register(kind model.ToolKind, renderer Renderer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.renderers[kind]
	r.renderers[kind] = renderer
	if exists {
		logging.Default().Warn("tool renderer registered twice, last registration wins", "tool", kind)
		return goerr.Wrap(ErrDuplicateRenderer, "renderer replaced", goerr.V("tool", kind))
	}
	return nil
}

// Has reports whether kind has a renderer
func (r *Registry) Has(kind model.ToolKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.renderers[kind]
	return ok
}

func (r *Registry) lookup(kind model.ToolKind) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[kind]
	return renderer, ok
}

// SelectView decides which lifecycle view a call is rendered with
func SelectView(call *model.ToolCall, renderer Renderer) View {
	if renderer == nil {
		return ViewFallback
	}
	switch call.Status {
	case model.ToolStatusError:
		return ViewError
	case model.ToolStatusComplete:
		if renderer.IsEmpty(call) {
			return ViewEmpty
		}
		return ViewComplete
	default:
		if _, ok := renderer.(Prompter); ok && call.Confirmation != nil && call.Confirmation.State == model.ConfirmationAwaiting {
			return ViewPrompt
		}
		if call.HasResult() && !renderer.IsEmpty(call) {
			return ViewComplete
		}
		return ViewLoading
	}
}

// Render renders call. A panicking renderer yields an error card for this call only.
func (r *Registry) Render(call *model.ToolCall) elem.Node {
	if call == nil {
		return elem.None()
	}
	c := call.Clone()
	renderer, _ := r.lookup(c.Kind)
	view := SelectView(c, renderer)
	return wrap(c, view, r.renderBody(c, view, renderer))
}

// RenderHTML renders call to an HTML string
func (r *Registry) RenderHTML(call *model.ToolCall) string {
	return r.Render(call).Render()
}

func (r *Registry) renderBody(c *model.ToolCall, view View, renderer Renderer) (node elem.Node) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Default().Error("tool renderer panicked",
				"tool", c.Kind, "call_id", c.ID, "view", view, "panic", fmt.Sprint(rec))
			node = errorCard(c, "Something went wrong while showing this result.")
		}
	}()

	switch view {
	case ViewFallback:
		return fallbackCard(c)
	case ViewLoading:
		return renderer.Loading(c)
	case ViewPrompt:
		return renderer.(Prompter).Prompt(c)
	case ViewEmpty:
		return renderer.Empty(c)
	case ViewComplete:
		return renderer.Complete(c)
	case ViewError:
		if f, ok := renderer.(Failer); ok {
			return f.Failed(c)
		}
		return errorCard(c, "We couldn't complete this step.")
	}
	return fallbackCard(c)
}

func wrap(c *model.ToolCall, view View, body elem.Node) elem.Node {
	return elem.Div(attrs.Props{
		attrs.Class:    "tool-call tool-call--" + string(view),
		attrs.ID:       "tool-call-" + string(c.ID),
		"data-call-id": string(c.ID),
		"data-tool":    string(c.Kind),
		"data-status":  string(c.Status),
		"data-view":    string(view),
	}, body)
}

// errorCard is the recoverable error affordance: the button asks the agent for a new
// invocation of the same tool with the same arguments
func errorCard(c *model.ToolCall, message string) elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "tool-error", "role": "alert"},
		elem.P(nil, elem.Text(message)),
		elem.Button(attrs.Props{
			attrs.Type:       "button",
			attrs.Class:      "tool-retry",
			"data-action":    "retry",
			"data-retry-of":  string(c.ID),
			"data-tool-name": string(c.Kind),
		}, elem.Text("Try again")),
	)
}

func fallbackCard(c *model.ToolCall) elem.Node {
	status := "Working…"
	if c.Status.IsTerminal() {
		status = "Done"
	}
	return elem.Div(attrs.Props{attrs.Class: "tool-fallback"},
		elem.Span(attrs.Props{attrs.Class: "tool-name"}, elem.Text(string(c.Kind))),
		elem.Span(attrs.Props{attrs.Class: "tool-status"}, elem.Text(status)),
	)
}
