package model

import "github.com/google/uuid"

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Page is a content page of the job board that mounts the assistant
type Page struct {
	Slug     string     `yaml:"slug" json:"slug"`
	Title    string     `yaml:"title" json:"title"`
	Category string     `yaml:"category" json:"category"`
	Location string     `yaml:"location" json:"location,omitempty"`
	RoleType string     `yaml:"role_type" json:"role_type,omitempty"`
	Tools    []ToolKind `yaml:"tools" json:"tools,omitempty"`
}

// Context returns the page_context value the host writes on mount
func (p *Page) Context() PageContext {
	return PageContext{
		Slug:     p.Slug,
		Title:    p.Title,
		Category: p.Category,
		Location: p.Location,
		RoleType: p.RoleType,
	}
}

// PageContext describes the page hosting the assistant. Only the host writes it.
type PageContext struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Location string `json:"location,omitempty"`
	RoleType string `json:"role_type,omitempty"`
}

// User is the signed-in visitor, if any
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
