package tool

import (
	"github.com/fractionalquest/copilot/pkg/graph"
	"github.com/fractionalquest/copilot/pkg/interfaces"
)

// Client contains shared resources that tools can use
type Client struct {
	Jobs   interfaces.JobSource
	Memory interfaces.MemoryStore
	Graph  *graph.Loader
}
