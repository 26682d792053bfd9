package aggregation

import "fmt"

// ErrorName classifies a request validation failure.
type ErrorName string

const (
	// SyntaxError marks a missing or malformed query parameter.
	SyntaxError ErrorName = "SyntaxError"
	// RangeError marks a request whose window would produce too many rows.
	RangeError ErrorName = "RangeError"
)

// ValidationError is returned by Parse. It is safe to show to the caller and
// serializes to the {name, message} body of a 400 response.
type ValidationError struct {
	Name    ErrorName `json:"name"`
	Message string    `json:"message"`
}

func (e *ValidationError) Error() string {
	return string(e.Name) + ": " + e.Message
}

func syntaxErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Name: SyntaxError, Message: fmt.Sprintf(format, args...)}
}

func rangeErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Name: RangeError, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps any failure coming from the storage primitive or from
// iterating its result. Details are for server-side logs only.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "aggregation execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
