// Package graph derives the interest graph shown next to the assistant from the
// categorized entities the memory service keeps for a user.
package graph

import (
	"fmt"
	"strings"

	"github.com/fractionalquest/copilot/pkg/model"
)

// Caps bounds the number of entity nodes per category. Zero means no nodes.
type Caps struct {
	Roles       int
	Locations   int
	Interests   int
	Experiences int
}

// DefaultCaps keeps the graph small enough for the sidebar
var DefaultCaps = Caps{
	Roles:       3,
	Locations:   3,
	Interests:   4,
	Experiences: 2,
}

type buildOptions struct {
	caps      Caps
	userLabel string
}

// Option configures Build
type Option func(*buildOptions)

// WithCaps overrides DefaultCaps
func WithCaps(caps Caps) Option {
	return func(o *buildOptions) {
		o.caps = caps
	}
}

// WithUserLabel sets the label of the user node
func WithUserLabel(label string) Option {
	return func(o *buildOptions) {
		o.userLabel = label
	}
}

type category struct {
	prefix    string
	category  model.NodeCategory
	edgeLabel string
	values    []string
	limit     int
}

// Build turns an entity snapshot into a graph. It is deterministic: nodes come in the
// order user, roles, locations, interests, experiences, and within a category in
// snapshot order. A nil snapshot yields the user node alone.
func Build(e *model.Entities, opts ...Option) *model.InterestGraph {
	o := buildOptions{caps: DefaultCaps, userLabel: "You"}
	for _, opt := range opts {
		opt(&o)
	}
	if e == nil {
		e = &model.Entities{}
	}

	g := &model.InterestGraph{
		Nodes: []model.Node{{ID: model.UserNodeID, Label: o.userLabel, Category: model.NodeCategoryUser}},
		Edges: []model.Edge{},
	}

	categories := []category{
		{"role", model.NodeCategoryRole, "seeks", e.Roles, o.caps.Roles},
		{"location", model.NodeCategoryLocation, "based_in", e.Locations, o.caps.Locations},
		{"interest", model.NodeCategoryInterest, "interested_in", e.Interests, o.caps.Interests},
		{"experience", model.NodeCategoryExperience, "experienced_in", e.Experiences, o.caps.Experiences},
	}

	for _, c := range categories {
		for i, label := range dedupe(c.values, c.limit) {
			id := fmt.Sprintf("%s-%d", c.prefix, i)
			g.Nodes = append(g.Nodes, model.Node{ID: id, Label: label, Category: c.category})
			g.Edges = append(g.Edges, model.Edge{
				ID:    model.UserNodeID + "->" + id,
				From:  model.UserNodeID,
				To:    id,
				Label: c.edgeLabel,
			})
		}
	}

	if hasNode(g, "role-0") && hasNode(g, "location-0") {
		g.Edges = append(g.Edges, model.Edge{ID: "role-0->location-0", From: "role-0", To: "location-0", Label: "in"})
	}

	return g
}

// dedupe drops blank and repeated labels (case-insensitive) and applies the cap
func dedupe(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, min(len(values), max(limit, 0)))
	for _, v := range values {
		if len(out) >= limit {
			break
		}
		label := strings.TrimSpace(v)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

func hasNode(g *model.InterestGraph, id string) bool {
	for _, n := range g.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
