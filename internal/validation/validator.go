package validation

import "github.com/rendis/autoflow/pkg/schema"

// Validator checks workflow definitions before they are stored or scheduled,
// and step configs before they are dispatched.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateConfig(cfg map[string]any, configSchema []byte) error
}

// HandlerLookup reports whether a step type has a registered handler.
type HandlerLookup interface {
	Has(t schema.StepType) bool
}
