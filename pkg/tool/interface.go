package tool

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Tool represents a capability the remote agent can invoke
type Tool interface {
	// Kind returns the function name the agent uses for this tool
	Kind() model.ToolKind

	// Spec returns the tool specification for Gemini function calling
	Spec() *genai.Tool

	// Execute runs the tool and returns the result object
	Execute(ctx context.Context, call *Call) (map[string]any, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag
}

// Suspending is a tool whose result is a human decision. The agent stops at the call
// until the user responds, then Resume turns the response into the result.
type Suspending interface {
	Tool
	Resume(ctx context.Context, call *Call, resp model.ConfirmationResponse) (map[string]any, error)
}

// StateWriter is the agent side of the shared state channel
type StateWriter interface {
	Write(ctx context.Context, patch model.AgentState) uint64
}

// Call is a single invocation handed to a tool
type Call struct {
	ID     model.ToolCallID
	Args   model.ToolArgs
	UserID string

	// State is nil when the session has no shared state channel
	State StateWriter
}

// WriteState pushes patch to the shared state when the call has one
func (c *Call) WriteState(ctx context.Context, patch model.AgentState) {
	if c.State != nil {
		c.State.Write(ctx, patch)
	}
}
