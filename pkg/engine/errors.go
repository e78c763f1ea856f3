package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an evaluation error.
type ErrorClass string

const (
	// ErrorClassUndefinedFact indicates a condition referenced a fact that is
	// neither registered on the engine nor supplied at run time. Suppressible
	// via Config.AllowUndefinedFacts, in which case the fact resolves to nil.
	ErrorClassUndefinedFact ErrorClass = "undefined_fact"

	// ErrorClassUnknownOperator indicates a condition referenced an operator
	// name absent from the registry. This is a definition bug and is never
	// suppressible.
	ErrorClassUnknownOperator ErrorClass = "unknown_operator"

	// ErrorClassPathResolution indicates a fact value path could not be
	// navigated structurally (e.g. indexing into a non-container).
	ErrorClassPathResolution ErrorClass = "path_resolution"

	// ErrorClassDefinition indicates a structurally invalid rule or condition
	// definition (empty combinator, leaf with children, missing event type).
	ErrorClassDefinition ErrorClass = "definition"

	// ErrorClassInternal indicates an unexpected internal failure. Fatal to
	// the whole run.
	ErrorClassInternal ErrorClass = "internal"
)

// EvalError represents a classified evaluation error with context.
type EvalError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Fact is the fact ID involved, if applicable.
	Fact string `json:"fact,omitempty"`

	// Operator is the operator name involved, if applicable.
	Operator string `json:"operator,omitempty"`

	// Rule is the name of the rule whose evaluation failed, if known.
	Rule string `json:"rule,omitempty"`

	// Path is the fact value path that failed to resolve, if applicable.
	Path string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Fact != "" {
		msg += fmt.Sprintf(" (fact=%s)", e.Fact)
	}
	if e.Operator != "" {
		msg += fmt.Sprintf(" (operator=%s)", e.Operator)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule=%s)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewUndefinedFactError creates an error for an unresolvable fact reference.
func NewUndefinedFactError(factID string) *EvalError {
	return &EvalError{
		Class:   ErrorClassUndefinedFact,
		Message: "undefined fact",
		Fact:    factID,
	}
}

// NewUnknownOperatorError creates an error for an unregistered operator name.
func NewUnknownOperatorError(name string) *EvalError {
	return &EvalError{
		Class:    ErrorClassUnknownOperator,
		Message:  "unknown operator",
		Operator: name,
	}
}

// NewPathResolutionError creates an error for a failed fact value path
// navigation.
func NewPathResolutionError(factID, path string, err error) *EvalError {
	return &EvalError{
		Class:   ErrorClassPathResolution,
		Message: "failed to resolve path against fact value",
		Fact:    factID,
		Path:    path,
		Err:     err,
	}
}

// NewDefinitionError creates an error for a structurally invalid definition.
func NewDefinitionError(message string) *EvalError {
	return &EvalError{
		Class:   ErrorClassDefinition,
		Message: message,
	}
}

// NewInternalError creates an error for an unexpected internal failure.
func NewInternalError(message string, err error) *EvalError {
	return &EvalError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithRule returns a copy of the error annotated with rule context. The
// receiver is left untouched: a cached error may be handed to several rules
// at once, and each must attribute it independently.
func (e *EvalError) WithRule(name string) *EvalError {
	clone := *e
	clone.Rule = name
	return &clone
}

// WithFact returns a copy of the error annotated with fact context. The
// receiver is left untouched.
func (e *EvalError) WithFact(factID string) *EvalError {
	clone := *e
	clone.Fact = factID
	return &clone
}

// IsUndefinedFact returns true if the error is an undefined fact error.
func IsUndefinedFact(err error) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUndefinedFact
	}
	return false
}

// IsUnknownOperator returns true if the error is an unknown operator error.
func IsUnknownOperator(err error) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnknownOperator
	}
	return false
}

// IsPathResolution returns true if the error is a path resolution error.
func IsPathResolution(err error) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPathResolution
	}
	return false
}

// IsDefinition returns true if the error is a definition error.
func IsDefinition(err error) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDefinition
	}
	return false
}
