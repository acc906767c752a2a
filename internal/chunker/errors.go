package chunker

import "fmt"

// ConfigurationError reports a budget that can never produce a valid plan.
// It is raised before any dispatch begins.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// PlanningError reports a document that cannot be planned for the target
// engine. It aborts that document only.
type PlanningError struct {
	Document string
	Reason   string
}

func (e *PlanningError) Error() string {
	if e.Document == "" {
		return "planning error: " + e.Reason
	}
	return fmt.Sprintf("planning error: %s: %s", e.Document, e.Reason)
}
