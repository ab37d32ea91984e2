package jobs

import (
	"context"
	"sort"
	"strings"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const chartSampleSize = 200

// Chart is the show_jobs_chart tool: the distribution of matching roles by role type
type Chart struct {
	client *tool.Client
}

// NewChart creates a new show_jobs_chart tool
func NewChart(client *tool.Client) *Chart {
	return &Chart{client: client}
}

func (c *Chart) Kind() model.ToolKind { return model.ToolShowJobsChart }

func (c *Chart) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        string(model.ToolShowJobsChart),
				Description: "Show a chart of how open roles are distributed across role types",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "Optional free text filter",
						},
						"location": {
							Type:        genai.TypeString,
							Description: "Optional location filter",
						},
					},
				},
			},
		},
	}
}

func (c *Chart) Prompt(ctx context.Context) string { return "" }

func (c *Chart) Flags() []cli.Flag { return nil }

func (c *Chart) Execute(ctx context.Context, call *tool.Call) (map[string]any, error) {
	args, ok := call.Args.(model.ShowJobsChartArgs)
	if !ok {
		return nil, goerr.Wrap(tool.ErrArgsMismatch, "show_jobs_chart called with wrong arguments", goerr.V("id", call.ID))
	}
	if c.client == nil || c.client.Jobs == nil {
		return nil, goerr.New("no job source configured")
	}

	jobs, err := c.client.Jobs.SearchJobs(ctx, model.JobQuery{
		Query:    strings.TrimSpace(args.Query),
		Location: strings.TrimSpace(args.Location),
		Limit:    chartSampleSize,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search jobs for chart")
	}

	buckets := Distribution(jobs)
	encoded, err := model.ToStateValue(buckets)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode buckets")
	}
	return map[string]any{
		"buckets": encoded,
		"total":   len(jobs),
	}, nil
}

// Distribution counts jobs per role type, largest first. Jobs without a role type
// are counted under their title.
func Distribution(jobs []*model.Job) []model.RoleBucket {
	counts := make(map[string]int)
	for _, j := range jobs {
		label := strings.TrimSpace(j.RoleType)
		if label == "" {
			label = strings.TrimSpace(j.Title)
		}
		if label == "" {
			continue
		}
		counts[label]++
	}

	buckets := make([]model.RoleBucket, 0, len(counts))
	for label, n := range counts {
		buckets = append(buckets, model.RoleBucket{Label: label, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Label < buckets[j].Label
	})
	return buckets
}
