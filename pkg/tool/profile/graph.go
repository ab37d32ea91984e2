package profile

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/graph"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// InterestGraph is the show_interest_graph tool. It never fails on a missing memory
// service: the user simply gets an empty graph.
type InterestGraph struct {
	client *tool.Client
}

// NewInterestGraph creates a new show_interest_graph tool
func NewInterestGraph(client *tool.Client) *InterestGraph {
	return &InterestGraph{client: client}
}

func (g *InterestGraph) Kind() model.ToolKind { return model.ToolShowInterestGraph }

func (g *InterestGraph) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        string(model.ToolShowInterestGraph),
				Description: "Show the user what we remember about their role, location and interests as a graph",
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{},
				},
			},
		},
	}
}

func (g *InterestGraph) Prompt(ctx context.Context) string {
	return "When the user asks what you know about them, call show_interest_graph."
}

func (g *InterestGraph) Flags() []cli.Flag { return nil }

func (g *InterestGraph) Execute(ctx context.Context, call *tool.Call) (map[string]any, error) {
	loader := graph.NewLoader(nil)
	if g.client != nil && g.client.Graph != nil {
		loader = g.client.Graph
	}

	ig := loader.Load(ctx, call.UserID)
	encoded, err := model.ToStateValue(ig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode interest graph")
	}
	result, _ := encoded.(map[string]any)
	return result, nil
}
