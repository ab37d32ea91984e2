// Package catalog loads the pages that mount the assistant and a local jobs listing
// used in place of the job board database.
package catalog

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

var ErrPageNotFound = goerr.New("page not found")

type Catalog struct {
	Pages []*model.Page `yaml:"pages"`
	Jobs  []*model.Job  `yaml:"jobs"`
}

// Default returns the catalog bundled with the binary
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("bundled catalog is broken: " + err.Error())
	}
	return c
}

// Load reads a catalog YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read catalog", goerr.V("path", path))
	}
	c, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load catalog", goerr.V("path", path))
	}
	return c, nil
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, goerr.Wrap(err, "failed to parse catalog")
	}

	seen := make(map[string]struct{}, len(c.Pages))
	for i, p := range c.Pages {
		if p.Slug == "" {
			return nil, goerr.New("page without slug", goerr.V("index", i))
		}
		if _, ok := seen[p.Slug]; ok {
			return nil, goerr.New("duplicated page slug", goerr.V("slug", p.Slug))
		}
		seen[p.Slug] = struct{}{}
		for _, kind := range p.Tools {
			if _, err := model.DecodeToolArgs(kind, nil); err != nil {
				return nil, goerr.Wrap(err, "page enables unknown tool", goerr.V("slug", p.Slug))
			}
		}
	}
	return &c, nil
}

// Page returns the page with slug
func (c *Catalog) Page(slug string) (*model.Page, error) {
	for _, p := range c.Pages {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, goerr.Wrap(ErrPageNotFound, "unknown page", goerr.V("slug", slug))
}

// SearchJobs filters the listing. Every filter is a case-insensitive substring match
// and the query must match title, company, role type or description.
func (c *Catalog) SearchJobs(ctx context.Context, q model.JobQuery) ([]*model.Job, error) {
	query := strings.ToLower(q.Query)
	location := strings.ToLower(q.Location)
	roleType := strings.ToLower(q.RoleType)

	var out []*model.Job
	for _, j := range c.Jobs {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if location != "" && !strings.Contains(strings.ToLower(j.Location), location) {
			continue
		}
		if roleType != "" && !strings.EqualFold(j.RoleType, roleType) {
			continue
		}
		if query != "" && !matchesQuery(j, query) {
			continue
		}
		job := *j
		out = append(out, &job)
	}
	return out, nil
}

func matchesQuery(j *model.Job, query string) bool {
	haystack := strings.ToLower(strings.Join([]string{j.Title, j.Company, j.RoleType, j.Description}, " "))
	for _, word := range strings.Fields(query) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}
