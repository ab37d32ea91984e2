package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"github.com/fractionalquest/copilot/pkg/model"
)

// DefaultRegistry returns a registry with a renderer for every tool kind
func DefaultRegistry() *Registry {
	r := New()
	_ = r.Register(model.ToolSearchJobs, searchJobsRenderer{})
	_ = r.Register(model.ToolShowJobsChart, jobsChartRenderer{})
	_ = r.Register(model.ToolShowInterestGraph, interestGraphRenderer{})
	_ = r.Register(model.ToolConfirmJobInterest, confirmRenderer{})
	return r
}

// decodeResult copies result[key] into out through JSON
func decodeResult(call *model.ToolCall, key string, out any) bool {
	v, ok := call.Result[key]
	if !ok || v == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func loading(message string) elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "tool-loading", "aria-busy": "true"},
		elem.Span(attrs.Props{attrs.Class: "spinner"}),
		elem.Span(nil, elem.Text(message)),
	)
}

func emptyState(message string) elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "tool-empty"}, elem.P(nil, elem.Text(message)))
}

// newInvocation is a button asking the agent to run tool with args
func newInvocation(tool model.ToolKind, args map[string]any, label string) elem.Node {
	data, _ := json.Marshal(args)
	return elem.Button(attrs.Props{
		attrs.Type:       "button",
		attrs.Class:      "tool-action",
		"data-action":    "invoke",
		"data-tool-name": string(tool),
		"data-args":      string(data),
	}, elem.Text(label))
}

// search_jobs

type searchJobsRenderer struct{}

func (searchJobsRenderer) jobs(call *model.ToolCall) []model.Job {
	var jobs []model.Job
	decodeResult(call, "jobs", &jobs)
	return jobs
}

func (r searchJobsRenderer) IsEmpty(call *model.ToolCall) bool {
	return len(r.jobs(call)) == 0
}

func (searchJobsRenderer) Loading(call *model.ToolCall) elem.Node {
	if args, ok := call.Args.(model.SearchJobsArgs); ok && args.Query != "" {
		return loading(fmt.Sprintf("Searching %s roles…", args.Query))
	}
	return loading("Searching jobs…")
}

func (searchJobsRenderer) Empty(call *model.ToolCall) elem.Node {
	return emptyState("No matching roles right now. Try a broader search.")
}

func (r searchJobsRenderer) Complete(call *model.ToolCall) elem.Node {
	jobs := r.jobs(call)
	cards := make([]elem.Node, 0, len(jobs))
	for i := range jobs {
		cards = append(cards, jobCard(&jobs[i]))
	}
	return elem.Div(attrs.Props{attrs.Class: "job-results"},
		elem.P(attrs.Props{attrs.Class: "job-count"}, elem.Text(fmt.Sprintf("%d roles found", len(jobs)))),
		elem.Ul(attrs.Props{attrs.Class: "job-list"}, cards...),
	)
}

func jobCard(j *model.Job) elem.Node {
	title := j.Title
	if title == "" {
		title = "Untitled role"
	}
	description := j.Description
	if description == "" {
		description = "No description provided."
	}

	details := []elem.Node{
		elem.H4(attrs.Props{attrs.Class: "job-title"}, elem.Text(title)),
		elem.P(attrs.Props{attrs.Class: "job-meta"}, elem.Text(strings.Join(nonEmpty(j.Company, j.Location, j.RoleType), " · "))),
		elem.P(attrs.Props{attrs.Class: "job-compensation"}, elem.Text(j.CompensationLabel())),
		elem.P(attrs.Props{attrs.Class: "job-description"}, elem.Text(description)),
	}
	if j.URL != "" {
		details = append(details, elem.A(attrs.Props{attrs.Href: j.URL, attrs.Class: "job-link"}, elem.Text("View details")))
	}
	details = append(details, newInvocation(model.ToolConfirmJobInterest, map[string]any{
		"job_title": title,
		"company":   j.Company,
		"location":  j.Location,
		"role_type": j.RoleType,
	}, "I'm interested"))

	return elem.Li(attrs.Props{attrs.Class: "job-card", "data-job-id": j.ID}, details...)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// show_jobs_chart

type jobsChartRenderer struct{}

func (jobsChartRenderer) buckets(call *model.ToolCall) []model.RoleBucket {
	var buckets []model.RoleBucket
	decodeResult(call, "buckets", &buckets)
	return buckets
}

func (r jobsChartRenderer) IsEmpty(call *model.ToolCall) bool {
	return len(r.buckets(call)) == 0
}

func (jobsChartRenderer) Loading(call *model.ToolCall) elem.Node {
	return loading("Loading role distribution…")
}

func (jobsChartRenderer) Empty(call *model.ToolCall) elem.Node {
	return emptyState("There are no roles to chart yet.")
}

func (r jobsChartRenderer) Complete(call *model.ToolCall) elem.Node {
	buckets := r.buckets(call)
	peak := 0
	for _, b := range buckets {
		peak = max(peak, b.Count)
	}

	bars := make([]elem.Node, 0, len(buckets))
	for _, b := range buckets {
		width := 0
		if peak > 0 {
			width = b.Count * 100 / peak
		}
		bars = append(bars, elem.Li(attrs.Props{attrs.Class: "chart-bar"},
			elem.Span(attrs.Props{attrs.Class: "chart-label"}, elem.Text(b.Label)),
			elem.Span(attrs.Props{attrs.Class: "chart-fill", attrs.Style: fmt.Sprintf("width:%d%%", width)}),
			elem.Span(attrs.Props{attrs.Class: "chart-count"}, elem.Text(fmt.Sprint(b.Count))),
		))
	}
	return elem.Div(attrs.Props{attrs.Class: "jobs-chart"},
		elem.H4(nil, elem.Text("Role distribution")),
		elem.Ul(nil, bars...),
	)
}

// show_interest_graph

type interestGraphRenderer struct{}

func (interestGraphRenderer) graph(call *model.ToolCall) *model.InterestGraph {
	g := &model.InterestGraph{}
	decodeResult(call, "nodes", &g.Nodes)
	decodeResult(call, "edges", &g.Edges)
	return g
}

func (r interestGraphRenderer) IsEmpty(call *model.ToolCall) bool {
	return r.graph(call).IsEmpty()
}

func (interestGraphRenderer) Loading(call *model.ToolCall) elem.Node {
	return loading("Mapping your interests…")
}

func (interestGraphRenderer) Empty(call *model.ToolCall) elem.Node {
	return emptyState("We don't know enough about your interests yet. Tell us what you're looking for.")
}

func (r interestGraphRenderer) Complete(call *model.ToolCall) elem.Node {
	return GraphSection(r.graph(call))
}

var categoryTitles = []struct {
	category model.NodeCategory
	title    string
}{
	{model.NodeCategoryRole, "Roles"},
	{model.NodeCategoryLocation, "Locations"},
	{model.NodeCategoryInterest, "Interests"},
	{model.NodeCategoryExperience, "Experience"},
}

// GraphSection renders the interest graph as grouped node lists. Callers render it
// only when the graph is not empty.
func GraphSection(g *model.InterestGraph) elem.Node {
	groups := make([]elem.Node, 0, len(categoryTitles))
	for _, ct := range categoryTitles {
		nodes := g.NodesByCategory(ct.category)
		if len(nodes) == 0 {
			continue
		}
		items := make([]elem.Node, 0, len(nodes))
		for _, n := range nodes {
			items = append(items, elem.Li(attrs.Props{"data-node-id": n.ID}, elem.Text(n.Label)))
		}
		groups = append(groups, elem.Div(attrs.Props{attrs.Class: "graph-group graph-group--" + string(ct.category)},
			elem.H5(nil, elem.Text(ct.title)),
			elem.Ul(nil, items...),
		))
	}
	return elem.Section(attrs.Props{
		attrs.Class:  "interest-graph",
		"data-nodes": fmt.Sprint(len(g.Nodes)),
		"data-edges": fmt.Sprint(len(g.Edges)),
	}, groups...)
}

// confirm_job_interest

const (
	invalidRequestText = "We were unable to process this request."
	declinedText       = "No problem — we won't save this one."
)

type confirmRenderer struct{}

func (confirmRenderer) IsEmpty(call *model.ToolCall) bool {
	return false
}

func (confirmRenderer) Loading(call *model.ToolCall) elem.Node {
	return loading("Preparing your confirmation…")
}

func (confirmRenderer) Empty(call *model.ToolCall) elem.Node {
	return emptyState(declinedText)
}

// Prompt shows the decision. It is only reached after argument validation passed.
func (confirmRenderer) Prompt(call *model.ToolCall) elem.Node {
	args, ok := call.Args.(model.ConfirmJobInterestArgs)
	if !ok {
		return invalidRequest()
	}
	roleType := args.RoleType
	if roleType == "" {
		roleType = args.JobTitle
	}

	return elem.Div(attrs.Props{attrs.Class: "confirm-prompt"},
		elem.P(nil, elem.Text("Should we keep an eye out for roles like this?")),
		elem.Dl(nil,
			elem.Dt(nil, elem.Text("Role")), elem.Dd(attrs.Props{"data-field": "job_title"}, elem.Text(args.JobTitle)),
			elem.Dt(nil, elem.Text("Company")), elem.Dd(attrs.Props{"data-field": "company"}, elem.Text(args.Company)),
			elem.Dt(nil, elem.Text("Location")), elem.Dd(attrs.Props{"data-field": "location"}, elem.Text(args.Location)),
		),
		elem.Div(attrs.Props{attrs.Class: "confirm-actions"},
			elem.Button(attrs.Props{
				attrs.Type:       "button",
				"data-action":    "confirm",
				"data-call-id":   string(call.ID),
				"data-role-type": roleType,
				"data-location":  args.Location,
			}, elem.Text("Yes, remember this")),
			elem.Button(attrs.Props{
				attrs.Type:     "button",
				"data-action":  "decline",
				"data-call-id": string(call.ID),
			}, elem.Text("No thanks")),
		),
	)
}

// Complete is the non-interactive acknowledgment
func (confirmRenderer) Complete(call *model.ToolCall) elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "confirm-ack"}, elem.P(nil, elem.Text(Acknowledgment(call))))
}

func (confirmRenderer) Failed(call *model.ToolCall) elem.Node {
	return invalidRequest()
}

func invalidRequest() elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "confirm-invalid", "role": "alert"}, elem.P(nil, elem.Text(invalidRequestText)))
}

// Acknowledgment is the text shown once a confirmation resolved
func Acknowledgment(call *model.ToolCall) string {
	var resp model.ConfirmationResponse
	if call.Confirmation != nil && call.Confirmation.Response != nil {
		resp = *call.Confirmation.Response
	} else if confirmed, ok := call.Result["confirmed"].(bool); ok {
		resp.Confirmed = confirmed
		resp.RoleType, _ = call.Result["role_type"].(string)
		resp.Location, _ = call.Result["location"].(string)
	}

	if !resp.Confirmed {
		return declinedText
	}
	role := resp.RoleType
	if role == "" {
		role = "similar"
	}
	location := resp.Location
	if location == "" {
		location = "your area"
	}
	return fmt.Sprintf("Great — we'll keep an eye out for %s roles in %s.", role, location)
}
