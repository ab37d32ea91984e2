package jobs_test

import (
	"context"
	"sync"
	"testing"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/fractionalquest/copilot/pkg/tool/jobs"
	"github.com/m-mizutani/gt"
)

type mockJobSource struct {
	jobs    []*model.Job
	queries []model.JobQuery
}

func (m *mockJobSource) SearchJobs(ctx context.Context, q model.JobQuery) ([]*model.Job, error) {
	m.queries = append(m.queries, q)
	if q.Limit > 0 && len(m.jobs) > q.Limit {
		return m.jobs[:q.Limit], nil
	}
	return m.jobs, nil
}

type mockStateWriter struct {
	mu      sync.Mutex
	patches []model.AgentState
}

func (m *mockStateWriter) Write(ctx context.Context, patch model.AgentState) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patch)
	return uint64(len(m.patches))
}

func fixture() []*model.Job {
	day := 900
	return []*model.Job{
		{ID: "1", Title: "Fractional CFO", Company: "Acme", Location: "London", RoleType: "CFO", CompensationMin: &day},
		{ID: "2", Title: "Interim CFO", Company: "Beta", Location: "Leeds", RoleType: "CFO"},
		{ID: "3", Title: "Fractional CTO", Company: "Gamma", Location: "London", RoleType: "CTO"},
		{ID: "4", Title: "Part-time COO", Company: "Delta", Location: "Remote"},
	}
}

func TestSearchWritesSharedState(t *testing.T) {
	source := &mockJobSource{jobs: fixture()}
	writer := &mockStateWriter{}
	search := jobs.NewSearch(&tool.Client{Jobs: source})

	result, err := search.Execute(context.Background(), &tool.Call{
		ID:    "c1",
		Args:  model.SearchJobsArgs{Query: " cfo ", Location: "London"},
		State: writer,
	})
	gt.NoError(t, err)
	gt.Equal(t, result["total"], any(4))
	gt.A(t, result["jobs"].([]any)).Length(4)

	gt.A(t, source.queries).Length(1)
	gt.Equal(t, source.queries[0], model.JobQuery{Query: "cfo", Location: "London", Limit: 5})

	gt.A(t, writer.patches).Length(1)
	gt.Equal(t, writer.patches[0].SearchQuery(), " cfo ")
	gt.Map(t, writer.patches[0]).HasKey(model.StateKeySearchResults)
}

func TestSearchCapsLimit(t *testing.T) {
	source := &mockJobSource{}
	search := jobs.NewSearch(&tool.Client{Jobs: source})

	result, err := search.Execute(context.Background(), &tool.Call{ID: "c1", Args: model.SearchJobsArgs{Limit: 500}})
	gt.NoError(t, err)
	gt.Equal(t, source.queries[0].Limit, 50)
	gt.A(t, result["jobs"].([]any)).Length(0)
}

func TestSearchRejectsWrongArgs(t *testing.T) {
	search := jobs.NewSearch(&tool.Client{Jobs: &mockJobSource{}})
	_, err := search.Execute(context.Background(), &tool.Call{ID: "c1", Args: model.ShowJobsChartArgs{}})
	gt.Error(t, err)
}

func TestDistribution(t *testing.T) {
	buckets := jobs.Distribution(fixture())
	gt.Equal(t, buckets, []model.RoleBucket{
		{Label: "CFO", Count: 2},
		{Label: "CTO", Count: 1},
		{Label: "Part-time COO", Count: 1},
	})
	gt.A(t, jobs.Distribution(nil)).Length(0)
}

func TestChart(t *testing.T) {
	chart := jobs.NewChart(&tool.Client{Jobs: &mockJobSource{jobs: fixture()}})
	result, err := chart.Execute(context.Background(), &tool.Call{ID: "c1", Args: model.ShowJobsChartArgs{}})
	gt.NoError(t, err)
	gt.A(t, result["buckets"].([]any)).Length(3)
	gt.Equal(t, result["total"], any(4))
}
