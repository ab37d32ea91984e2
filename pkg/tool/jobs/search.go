package jobs

import (
	"context"
	"strings"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const maxSearchLimit = 50

// Search is the search_jobs tool. Besides returning the listings it publishes the
// query and results to the shared state so the host page can show them.
type Search struct {
	client       *tool.Client
	defaultLimit int64
}

// NewSearch creates a new search_jobs tool
func NewSearch(client *tool.Client) *Search {
	return &Search{
		client:       client,
		defaultLimit: 5,
	}
}

func (s *Search) Kind() model.ToolKind { return model.ToolSearchJobs }

func (s *Search) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        string(model.ToolSearchJobs),
				Description: "Search open fractional and interim executive roles. Results are shown to the user as job cards.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "Free text matched against title, company and description, e.g. \"fractional CFO\"",
						},
						"location": {
							Type:        genai.TypeString,
							Description: "City or region, e.g. \"London\". Omit for any location.",
						},
						"role_type": {
							Type:        genai.TypeString,
							Description: "Role category such as CFO, CTO, CMO or COO",
						},
						"limit": {
							Type:        genai.TypeInteger,
							Description: "Max results (default: 5, max: 50)",
						},
					},
				},
			},
		},
	}
}

func (s *Search) Prompt(ctx context.Context) string {
	return "Use search_jobs whenever the user asks about open roles. Do not list the jobs again in text; the user already sees them as cards."
}

func (s *Search) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "search-limit",
			Usage:       "Default number of jobs returned by search_jobs",
			Value:       5,
			Sources:     cli.EnvVars("COPILOT_SEARCH_LIMIT"),
			Destination: &s.defaultLimit,
		},
	}
}

func (s *Search) Execute(ctx context.Context, call *tool.Call) (map[string]any, error) {
	args, ok := call.Args.(model.SearchJobsArgs)
	if !ok {
		return nil, goerr.Wrap(tool.ErrArgsMismatch, "search_jobs called with wrong arguments", goerr.V("id", call.ID))
	}
	if s.client == nil || s.client.Jobs == nil {
		return nil, goerr.New("no job source configured")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = int(s.defaultLimit)
	}
	limit = min(limit, maxSearchLimit)

	jobs, err := s.client.Jobs.SearchJobs(ctx, model.JobQuery{
		Query:    strings.TrimSpace(args.Query),
		Location: strings.TrimSpace(args.Location),
		RoleType: strings.TrimSpace(args.RoleType),
		Limit:    limit,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search jobs", goerr.V("query", args.Query))
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	results, err := model.ToStateValue(jobs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode jobs")
	}

	call.WriteState(ctx, model.AgentState{
		model.StateKeySearchQuery:   args.Query,
		model.StateKeySearchResults: results,
	})

	return map[string]any{
		"jobs":  results,
		"total": len(jobs),
	}, nil
}
