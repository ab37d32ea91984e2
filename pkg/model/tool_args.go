package model

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// ToolKind is the function name the remote agent uses to invoke a capability
type ToolKind string

const (
	ToolSearchJobs         ToolKind = "search_jobs"
	ToolShowJobsChart      ToolKind = "show_jobs_chart"
	ToolShowInterestGraph  ToolKind = "show_interest_graph"
	ToolConfirmJobInterest ToolKind = "confirm_job_interest"
)

// AllToolKinds lists every tool variant. Registries are checked against it.
func AllToolKinds() []ToolKind {
	return []ToolKind{
		ToolSearchJobs,
		ToolShowJobsChart,
		ToolShowInterestGraph,
		ToolConfirmJobInterest,
	}
}

// ToolArgs is the closed set of typed tool arguments. Only types in this package
// implement it.
type ToolArgs interface {
	Kind() ToolKind
	toolArgs()
}

type SearchJobsArgs struct {
	Query    string `json:"query,omitempty"`
	Location string `json:"location,omitempty"`
	RoleType string `json:"role_type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (SearchJobsArgs) Kind() ToolKind { return ToolSearchJobs }
func (SearchJobsArgs) toolArgs()      {}

type ShowJobsChartArgs struct {
	Query    string `json:"query,omitempty"`
	Location string `json:"location,omitempty"`
}

func (ShowJobsChartArgs) Kind() ToolKind { return ToolShowJobsChart }
func (ShowJobsChartArgs) toolArgs()      {}

type ShowInterestGraphArgs struct{}

func (ShowInterestGraphArgs) Kind() ToolKind { return ToolShowInterestGraph }
func (ShowInterestGraphArgs) toolArgs()      {}

// ConfirmJobInterestArgs are the arguments of the human-in-the-loop confirmation
type ConfirmJobInterestArgs struct {
	JobTitle string `json:"job_title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	RoleType string `json:"role_type,omitempty"`
}

func (ConfirmJobInterestArgs) Kind() ToolKind { return ToolConfirmJobInterest }
func (ConfirmJobInterestArgs) toolArgs()      {}

// DecodeToolArgs turns the raw arguments of a named invocation into its typed variant
func DecodeToolArgs(kind ToolKind, raw map[string]any) (ToolArgs, error) {
	switch kind {
	case ToolSearchJobs:
		return decodeArgs[SearchJobsArgs](kind, raw)
	case ToolShowJobsChart:
		return decodeArgs[ShowJobsChartArgs](kind, raw)
	case ToolShowInterestGraph:
		return ShowInterestGraphArgs{}, nil
	case ToolConfirmJobInterest:
		return decodeArgs[ConfirmJobInterestArgs](kind, raw)
	default:
		return nil, goerr.Wrap(ErrUnknownTool, "cannot decode arguments", goerr.V("name", kind))
	}
}

func decodeArgs[T ToolArgs](kind ToolKind, raw map[string]any) (ToolArgs, error) {
	var args T
	if raw == nil {
		return args, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidToolArgs, "failed to marshal arguments", goerr.V("name", kind), goerr.V("error", err.Error()))
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, goerr.Wrap(ErrInvalidToolArgs, "failed to unmarshal arguments", goerr.V("name", kind), goerr.V("error", err.Error()))
	}
	return args, nil
}
