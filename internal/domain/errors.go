package domain

import "github.com/bunsuihq/bunsui/internal/bunsuierr"

func errInvalidOperation(operationID, reason string) error {
	return bunsuierr.New(bunsuierr.Validation, "domain", "validate_operation", operationID+": "+reason)
}

func errInvalidTransition(kind, id, from, to string) error {
	return &bunsuierr.Error{
		Kind:      bunsuierr.Session,
		Service:   "domain",
		Operation: "transition",
		Message:   kind + " " + id + ": cannot transition from " + from + " to " + to,
	}
}
