package validation

import "github.com/rendis/autoflow/pkg/schema"

// WorkflowValidator runs structural (JSON Schema) then semantic validation.
// Structural errors short-circuit the semantic stage.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	handlers   HandlerLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip handler existence checks.
func NewWorkflowValidator(lookup HandlerLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, handlers: lookup}, nil
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if err := wv.jsonSchema.ValidateWorkflow(wf); err != nil {
		return err
	}

	violations := validateSemantic(wf, wv.handlers)
	switch len(violations) {
	case 0:
		return nil
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// ValidateConfig delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateConfig(cfg map[string]any, configSchema []byte) error {
	return wv.jsonSchema.ValidateConfig(cfg, configSchema)
}

var (
	_ Validator = (*WorkflowValidator)(nil)
	_ Validator = (*JSONSchemaValidator)(nil)
)
