package tool

import (
	"context"
	"strings"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var (
	ErrToolNotFound = goerr.New("tool not found")
	ErrArgsMismatch = goerr.New("tool arguments do not match tool")
)

// Registry manages available tools for the LLM
type Registry struct {
	tools    map[model.ToolKind]Tool
	allTools []Tool
}

// New creates a new tool registry with the given tools
func New(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[model.ToolKind]Tool),
		allTools: tools,
	}

	for _, t := range tools {
		r.tools[t.Kind()] = t
	}

	return r
}

// Specs returns all tool specifications for Gemini function calling
func (r *Registry) Specs() []*genai.Tool {
	specs := make([]*genai.Tool, 0, len(r.allTools))
	for _, t := range r.allTools {
		if spec := t.Spec(); spec != nil && len(spec.FunctionDeclarations) > 0 {
			specs = append(specs, spec)
		}
	}
	return specs
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.allTools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Get returns the tool registered for kind
func (r *Registry) Get(kind model.ToolKind) (Tool, bool) {
	t, ok := r.tools[kind]
	return t, ok
}

// Execute runs the tool matching the call's argument variant
func (r *Registry) Execute(ctx context.Context, call *Call) (map[string]any, error) {
	if call.Args == nil {
		return nil, goerr.Wrap(ErrArgsMismatch, "call has no arguments", goerr.V("id", call.ID))
	}
	tool, ok := r.tools[call.Args.Kind()]
	if !ok {
		return nil, goerr.Wrap(ErrToolNotFound, "tool not found", goerr.V("name", call.Args.Kind()))
	}

	return tool.Execute(ctx, call)
}

// Subset returns a registry restricted to kinds, keeping registration order.
// An empty kinds list returns r itself.
func (r *Registry) Subset(kinds ...model.ToolKind) *Registry {
	if len(kinds) == 0 {
		return r
	}
	allowed := make(map[model.ToolKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	var tools []Tool
	for _, t := range r.allTools {
		if _, ok := allowed[t.Kind()]; ok {
			tools = append(tools, t)
		}
	}
	return New(tools...)
}
