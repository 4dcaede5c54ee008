// Package verify implements the verify node's schema-checking step: each
// page's data, validated against the page_schemas/data_model the earlier
// nodes produced, mirroring goa-ai's registry payload-vs-schema check
// (santhosh-tekuri/jsonschema/v6) generalized from one tool payload to one
// page per run.
package verify

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Report is the verify node's structured result, merged into
// State.VerifyReport.
type Report struct {
	Passed bool              `json:"passed"`
	Errors map[string]string `json:"errors,omitempty"` // page name -> failure detail
}

// Pages validates each named page's data against its schema, both drawn
// from the loosely-typed maps the graph State carries (data_model and
// page_schemas are populated by earlier nodes as map[string]any documents,
// not Go structs, since their shape is content-defined per product type).
func Pages(pageSchemas, dataModel map[string]any) (Report, error) {
	report := Report{Passed: true}

	for page, rawSchema := range pageSchemas {
		schema, err := compile(page, rawSchema)
		if err != nil {
			return Report{}, fmt.Errorf("verify: compile schema for %q: %w", page, err)
		}

		data, ok := dataModel[page]
		if !ok {
			report.Passed = false
			report.fail(page, "no data_model entry for page")
			continue
		}

		if err := schema.Validate(data); err != nil {
			report.Passed = false
			report.fail(page, err.Error())
		}
	}
	return report, nil
}

func (r *Report) fail(page, detail string) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[page] = detail
}

func compile(page string, rawSchema any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	resource := page + ".json"
	if err := c.AddResource(resource, rawSchema); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}
