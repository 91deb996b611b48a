package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldMutationID is the standardized structured logging key for queued mutation identifiers.
	FieldMutationID = "mutation_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator guidance on failures.
	FieldErrorHint = "error_hint"
	// FieldOnline is the standardized structured logging key for the connectivity boolean.
	FieldOnline = "online"
)
