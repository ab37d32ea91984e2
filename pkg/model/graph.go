package model

type NodeCategory string

const (
	NodeCategoryUser       NodeCategory = "user"
	NodeCategoryRole       NodeCategory = "role"
	NodeCategoryLocation   NodeCategory = "location"
	NodeCategoryInterest   NodeCategory = "interest"
	NodeCategoryExperience NodeCategory = "experience"
)

// UserNodeID is the id of the node every interest graph starts with
const UserNodeID = "user"

// InterestGraph is derived from an entity snapshot on every load and never persisted
type InterestGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Category NodeCategory `json:"category"`
}

type Edge struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// IsEmpty reports whether there is nothing to show beyond the user node
func (g *InterestGraph) IsEmpty() bool {
	if g == nil {
		return true
	}
	for _, n := range g.Nodes {
		if n.Category != NodeCategoryUser {
			return false
		}
	}
	return true
}

// NodesByCategory returns the entity nodes of one category in graph order
func (g *InterestGraph) NodesByCategory(category NodeCategory) []Node {
	if g == nil {
		return nil
	}
	var out []Node
	for _, n := range g.Nodes {
		if n.Category == category {
			out = append(out, n)
		}
	}
	return out
}
