package hitl

import (
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

func minLength(n int) *int {
	return &n
}

// Schema is the declared parameter schema of confirm_job_interest. The agent sees it
// as the function declaration and the host validates incoming arguments against it.
func Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Ask the user to confirm interest in a role before remembering it",
		Properties: map[string]*jsonschema.Schema{
			"job_title": {
				Type:        "string",
				Description: "Title of the role, e.g. Fractional CFO",
				MinLength:   minLength(1),
			},
			"company": {
				Type:        "string",
				Description: "Hiring company",
				MinLength:   minLength(1),
			},
			"location": {
				Type:        "string",
				Description: "Location of the role",
				MinLength:   minLength(1),
			},
			"role_type": {
				Type:        "string",
				Description: "Role category to remember, e.g. CFO. Defaults to job_title.",
			},
		},
		Required: []string{"job_title", "company", "location"},
	}
}

var resolveSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	return Schema().Resolve(nil)
})

// ValidateArgs checks raw arguments against Schema
func ValidateArgs(raw map[string]any) error {
	resolved, err := resolveSchema()
	if err != nil {
		return goerr.Wrap(err, "failed to resolve confirmation schema")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := resolved.Validate(raw); err != nil {
		return goerr.Wrap(ErrInvalidArguments, err.Error())
	}
	return nil
}
