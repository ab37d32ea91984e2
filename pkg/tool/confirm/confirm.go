package confirm

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/hitl"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var ErrConfirmationRequired = goerr.New("tool requires a human confirmation")

// JobInterest is the confirm_job_interest tool. It has no side effects of its own:
// the result is whatever the user decided.
type JobInterest struct {
	decl *genai.FunctionDeclaration
}

// New creates a new confirm_job_interest tool
func New() (*JobInterest, error) {
	decl, err := tool.Declaration(
		string(model.ToolConfirmJobInterest),
		"Ask the user whether we should remember their interest in a specific role. The conversation pauses until they answer.",
		hitl.Schema(),
	)
	if err != nil {
		return nil, err
	}
	return &JobInterest{decl: decl}, nil
}

func (j *JobInterest) Kind() model.ToolKind { return model.ToolConfirmJobInterest }

func (j *JobInterest) Spec() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{j.decl}}
}

func (j *JobInterest) Prompt(ctx context.Context) string {
	return "Before remembering that the user is interested in a role, call confirm_job_interest with job_title, company and location. Wait for the answer and acknowledge it briefly."
}

func (j *JobInterest) Flags() []cli.Flag { return nil }

// Execute is never used directly; the agent suspends and calls Resume instead
func (j *JobInterest) Execute(ctx context.Context, call *tool.Call) (map[string]any, error) {
	return nil, goerr.Wrap(ErrConfirmationRequired, "cannot execute without a response", goerr.V("id", call.ID))
}

// Resume hands the response payload back to the agent unchanged
func (j *JobInterest) Resume(ctx context.Context, call *tool.Call, resp model.ConfirmationResponse) (map[string]any, error) {
	return resp.ToMap(), nil
}
