package lead

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInputNotFound is returned when the lead file does not exist.
var ErrInputNotFound = errors.New("lead input not found")

// SchemaError reports a lead file whose shape does not match the column contract.
type SchemaError struct {
	Missing []string
	// Row is the 1-based data row number for row-level problems, 0 for header problems.
	Row    int
	Detail string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return "lead schema error"
	}
	var parts []string
	if len(e.Missing) > 0 {
		quoted := make([]string, 0, len(e.Missing))
		for _, m := range e.Missing {
			quoted = append(quoted, fmt.Sprintf("%q", m))
		}
		parts = append(parts, "missing required columns "+strings.Join(quoted, ", "))
	}
	if e.Row > 0 {
		parts = append(parts, fmt.Sprintf("row %d", e.Row))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if len(parts) == 0 {
		return "lead schema error"
	}
	return "lead schema error: " + strings.Join(parts, ": ")
}

// ValidationError reports a structured result that violates a range or shape rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}
