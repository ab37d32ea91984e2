// Package agent is the remote agent process: a Gemini function-calling loop that talks
// to the host session only through tool-call lifecycle events, confirmation responses
// and the shared state.
package agent

import (
	"bytes"
	"context"
	_ "embed"
	"sync"
	"text/template"

	"github.com/fractionalquest/copilot/pkg/adapter"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// DefaultMaxIterations bounds the number of model calls per turn
const DefaultMaxIterations = 6

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// Host is the page-side session the agent reports to
type Host interface {
	// ToolCallStarted registers a new pending invocation. An error means the call was
	// rejected and already recorded in error status by the host.
	ToolCallStarted(ctx context.Context, kind model.ToolKind, args map[string]any) (*model.ToolCall, error)

	// ToolCallUpdated advances the lifecycle of a registered call
	ToolCallUpdated(ctx context.Context, id model.ToolCallID, status model.ToolStatus, result map[string]any, errMsg string) error

	// AwaitConfirmation blocks until the user answered the confirmation for id
	AwaitConfirmation(ctx context.Context, id model.ToolCallID) (model.ConfirmationResponse, error)

	// AssistantMessage delivers assistant text to the page
	AssistantMessage(ctx context.Context, text string)
}

// Turn is one user message with the context the agent sees
type Turn struct {
	Message string
	UserID  string

	// State is the shared state as of the start of the turn
	State model.AgentState

	// Writer receives the agent's own state writes
	Writer tool.StateWriter

	// Tools restricts the capabilities offered on this page. Empty means all.
	Tools []model.ToolKind
}

// Runtime holds the conversation of one session. Turns are serialized.
type Runtime struct {
	gemini        adapter.Gemini
	registry      *tool.Registry
	maxIterations int

	mu      sync.Mutex
	history []*genai.Content
}

// Option configures a Runtime
type Option func(*Runtime)

// WithMaxIterations overrides DefaultMaxIterations
func WithMaxIterations(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// New creates a runtime with an empty conversation
func New(gemini adapter.Gemini, registry *tool.Registry, opts ...Option) *Runtime {
	if registry == nil {
		registry = tool.New()
	}
	r := &Runtime{
		gemini:        gemini,
		registry:      registry,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// History returns a copy of the conversation so far
func (r *Runtime) History() []*genai.Content {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*genai.Content, len(r.history))
	copy(out, r.history)
	return out
}

// Run sends turn.Message to the model and executes tool calls until the model answers
// with text only or the iteration limit is reached. A failed turn leaves the history
// as it was before the turn.
func (r *Runtime) Run(ctx context.Context, turn Turn, host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := r.history
	r.history = append(r.history, genai.NewContentFromText(turn.Message, genai.RoleUser))

	if err := r.loop(ctx, turn, host); err != nil {
		r.history = saved
		return err
	}
	return nil
}

// Invoke runs a capability the user triggered from the page, e.g. a retry button,
// and lets the model comment on the result.
func (r *Runtime) Invoke(ctx context.Context, turn Turn, host Host, kind model.ToolKind, args map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := r.history
	fc := &genai.FunctionCall{Name: string(kind), Args: args}
	r.history = append(r.history, &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{FunctionCall: fc}},
	})

	reg := r.registry.Subset(turn.Tools...)
	resp := r.handleCall(ctx, reg, turn, host, fc)
	if err := ctx.Err(); err != nil {
		r.history = saved
		return goerr.Wrap(err, "invocation cancelled", goerr.V("tool", kind))
	}
	r.history = append(r.history, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{resp}})

	if err := r.loop(ctx, turn, host); err != nil {
		r.history = saved
		return err
	}
	return nil
}

func (r *Runtime) loop(ctx context.Context, turn Turn, host Host) error {
	reg := r.registry.Subset(turn.Tools...)

	for i := 0; i < r.maxIterations; i++ {
		config, err := r.config(ctx, reg, turn, i+1)
		if err != nil {
			return err
		}

		resp, err := r.generate(ctx, config)
		if err != nil {
			return err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil
		}

		content := resp.Candidates[0].Content
		if content.Role == "" {
			content.Role = genai.RoleModel
		}
		r.history = append(r.history, content)

		var responses []*genai.Part
		for _, part := range content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != "" {
				host.AssistantMessage(ctx, part.Text)
			}
			if part.FunctionCall != nil {
				responses = append(responses, r.handleCall(ctx, reg, turn, host, part.FunctionCall))
			}
		}

		if len(responses) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "agent turn cancelled")
		}
		r.history = append(r.history, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	logging.From(ctx).Warn("agent reached iteration limit", "max", r.maxIterations)
	return nil
}

// generate calls the model and compresses the history once when it no longer fits
func (r *Runtime) generate(ctx context.Context, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := r.gemini.GenerateContent(ctx, r.history, config)
	if err == nil {
		return resp, nil
	}
	if !isTokenLimitError(err) {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	logging.From(ctx).Warn("token limit exceeded, compressing history", "contents", len(r.history))
	compressed, cErr := compressHistory(ctx, r.gemini, r.history)
	if cErr != nil {
		return nil, goerr.Wrap(cErr, "failed to compress history", goerr.V("original", err.Error()))
	}
	r.history = compressed

	resp, err = r.gemini.GenerateContent(ctx, r.history, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content after compression")
	}
	return resp, nil
}

func (r *Runtime) config(ctx context.Context, reg *tool.Registry, turn Turn, iteration int) (*genai.GenerateContentConfig, error) {
	page := turn.State.PageContext()
	if page == nil {
		page = &model.PageContext{Title: "the job board"}
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"Page":          page,
		"User":          turn.State.User(),
		"SearchQuery":   turn.State.SearchQuery(),
		"ToolPrompts":   reg.Prompts(ctx),
		"Iteration":     iteration,
		"MaxIterations": r.maxIterations,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute system prompt template")
	}

	thinkingBudget := int32(0)
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		Tools:             reg.Specs(),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}, nil
}

// handleCall drives one function call through the host lifecycle and returns the
// function response part for the model. Failures become error responses.
func (r *Runtime) handleCall(ctx context.Context, reg *tool.Registry, turn Turn, host Host, fc *genai.FunctionCall) *genai.Part {
	kind := model.ToolKind(fc.Name)
	logger := logging.From(ctx).With("tool", kind)

	respond := func(body map[string]any) *genai.Part {
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: body,
		}}
	}
	fail := func(id model.ToolCallID, err error) *genai.Part {
		logger.Warn("tool call failed", "error", err)
		if id != "" {
			if uErr := host.ToolCallUpdated(ctx, id, model.ToolStatusError, nil, err.Error()); uErr != nil {
				logger.Warn("failed to report tool error", "error", uErr)
			}
		}
		return respond(map[string]any{"error": err.Error()})
	}

	call, err := host.ToolCallStarted(ctx, kind, fc.Args)
	if err != nil {
		return fail("", err)
	}

	t, ok := reg.Get(kind)
	if !ok {
		return fail(call.ID, goerr.Wrap(tool.ErrToolNotFound, "tool not available on this page", goerr.V("name", kind)))
	}

	if err := host.ToolCallUpdated(ctx, call.ID, model.ToolStatusExecuting, nil, ""); err != nil {
		return fail("", err)
	}

	tc := &tool.Call{
		ID:     call.ID,
		Args:   call.Args,
		UserID: turn.UserID,
		State:  turn.Writer,
	}

	var result map[string]any
	if s, ok := t.(tool.Suspending); ok {
		confirmation, err := host.AwaitConfirmation(ctx, call.ID)
		if err != nil {
			return fail(call.ID, err)
		}
		result, err = s.Resume(ctx, tc, confirmation)
		if err != nil {
			return fail(call.ID, err)
		}
	} else {
		result, err = t.Execute(ctx, tc)
		if err != nil {
			return fail(call.ID, err)
		}
	}

	if err := host.ToolCallUpdated(ctx, call.ID, model.ToolStatusComplete, result, ""); err != nil {
		logger.Warn("failed to report tool completion", "error", err)
	}
	return respond(result)
}
