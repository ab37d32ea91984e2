package model

import (
	"encoding/json"
	"maps"
)

// Well-known AgentState keys
const (
	StateKeyPageContext   = "page_context"
	StateKeyUser          = "user"
	StateKeySearchQuery   = "search_query"
	StateKeySearchResults = "search_results"
)

// AgentState is the JSON object shared between the host page and the remote agent.
// Updates are shallow merges over top-level keys. A nil value in a patch deletes the key.
type AgentState map[string]any

// Clone returns a deep copy of JSON-shaped values (maps and slices). Other values are
// copied by reference and must be treated as immutable.
func (s AgentState) Clone() AgentState {
	if s == nil {
		return AgentState{}
	}
	out := make(AgentState, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case AgentState:
		return t.Clone()
	case []any:
		a := make([]any, len(t))
		for i, vv := range t {
			a[i] = cloneValue(vv)
		}
		return a
	default:
		return v
	}
}

// Merge returns a new state with patch shallow-merged over s
func (s AgentState) Merge(patch AgentState) AgentState {
	out := s.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Overlay merges patch into s keeping nil values as deletion markers. It is used to
// coalesce pending patches before they are applied.
func (s AgentState) Overlay(patch AgentState) AgentState {
	out := make(AgentState, len(s)+len(patch))
	maps.Copy(out, s)
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// Diff returns the patch that turns s into next, using nil for removed keys
func (s AgentState) Diff(next AgentState) AgentState {
	patch := make(AgentState)
	for k := range s {
		if _, ok := next[k]; !ok {
			patch[k] = nil
		}
	}
	for k, v := range next {
		patch[k] = cloneValue(v)
	}
	return patch
}

// WithoutHostOwned drops keys only the host page may write
func (s AgentState) WithoutHostOwned() AgentState {
	out := s.Clone()
	delete(out, StateKeyPageContext)
	return out
}

// PageContext decodes the page_context entry, returning nil when absent or malformed
func (s AgentState) PageContext() *PageContext {
	var pc PageContext
	if !s.decode(StateKeyPageContext, &pc) {
		return nil
	}
	return &pc
}

// User decodes the user entry, returning nil when absent or malformed
func (s AgentState) User() *User {
	var u User
	if !s.decode(StateKeyUser, &u) || u.ID == "" {
		return nil
	}
	return &u
}

// SearchQuery returns the search_query entry as a string
func (s AgentState) SearchQuery() string {
	q, _ := s[StateKeySearchQuery].(string)
	return q
}

func (s AgentState) decode(key string, dst any) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// ToStateValue converts a Go value into its JSON form (maps, slices, float64, string, bool)
// so it can be stored in an AgentState and cloned safely.
func ToStateValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
