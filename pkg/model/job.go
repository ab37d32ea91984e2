package model

import "fmt"

// Job is a listing returned by the jobs collaborator. Only title, company and location
// are guaranteed; every other field may be missing.
type Job struct {
	ID              string `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	Company         string `yaml:"company" json:"company"`
	Location        string `yaml:"location" json:"location"`
	RoleType        string `yaml:"role_type" json:"role_type,omitempty"`
	CompensationMin *int   `yaml:"compensation_min" json:"compensation_min,omitempty"`
	CompensationMax *int   `yaml:"compensation_max" json:"compensation_max,omitempty"`
	Currency        string `yaml:"currency" json:"currency,omitempty"`
	Description     string `yaml:"description" json:"description,omitempty"`
	URL             string `yaml:"url" json:"url,omitempty"`
}

// CompensationLabel formats the compensation range, falling back when bounds are missing
func (j *Job) CompensationLabel() string {
	cur := j.Currency
	if cur == "" {
		cur = "£"
	}
	switch {
	case j.CompensationMin != nil && j.CompensationMax != nil:
		return fmt.Sprintf("%s%d – %s%d", cur, *j.CompensationMin, cur, *j.CompensationMax)
	case j.CompensationMin != nil:
		return fmt.Sprintf("From %s%d", cur, *j.CompensationMin)
	case j.CompensationMax != nil:
		return fmt.Sprintf("Up to %s%d", cur, *j.CompensationMax)
	default:
		return "Compensation on request"
	}
}

// JobQuery is the filter sent to the jobs collaborator
type JobQuery struct {
	Query    string
	Location string
	RoleType string
	Limit    int
}

// RoleBucket is one bar of a role distribution chart
type RoleBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
