// Package errors provides standardized error types for graph building and
// execution. Every error produced while booking or running an analysis is an
// EngineError carrying the operation and column involved, so callers can
// match on the failure kind with errors.Is.
package errors

import (
	"fmt"
	"strings"
)

// Kind classifies an EngineError.
type Kind int

const (
	KindInternal Kind = iota
	KindColumnNotFound
	KindColumnExists
	KindInvalidExpression
	KindTypeMismatch
	KindInvalidModel
	KindInvalidInput
	KindRangeFailed
)

func (k Kind) String() string {
	switch k {
	case KindColumnNotFound:
		return "column not found"
	case KindColumnExists:
		return "column exists"
	case KindInvalidExpression:
		return "invalid expression"
	case KindTypeMismatch:
		return "type mismatch"
	case KindInvalidModel:
		return "invalid model"
	case KindInvalidInput:
		return "invalid input"
	case KindRangeFailed:
		return "range failed"
	default:
		return "internal"
	}
}

// EngineError represents standardized errors across all engine operations
type EngineError struct {
	Kind    Kind
	Op      string // Operation name (e.g., "Filter", "Define", "Histo1D")
	Column  string // Column name if applicable
	Message string // Human-readable error description
	Hint    string // Optional suggestion appended to the message
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *EngineError) Error() string {
	var b strings.Builder
	if e.Column != "" {
		fmt.Fprintf(&b, "%s operation failed on column '%s': %s", e.Op, e.Column, e.Message)
	} else {
		fmt.Fprintf(&b, "%s operation failed: %s", e.Op, e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (hint: %s)", e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying cause for error wrapping support
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel of the same kind, or an
// EngineError describing the same failure.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Op == "" && t.Column == "" && t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op && e.Column == t.Column && e.Message == t.Message
}

// Sentinels for errors.Is matching on the failure kind.
var (
	ErrColumnNotFound    = &EngineError{Kind: KindColumnNotFound}
	ErrColumnExists      = &EngineError{Kind: KindColumnExists}
	ErrInvalidExpression = &EngineError{Kind: KindInvalidExpression}
	ErrTypeMismatch      = &EngineError{Kind: KindTypeMismatch}
	ErrInvalidModel      = &EngineError{Kind: KindInvalidModel}
	ErrInvalidInput      = &EngineError{Kind: KindInvalidInput}
	ErrRangeFailed       = &EngineError{Kind: KindRangeFailed}
)

// NewColumnNotFoundError creates an error for references to unknown columns.
// When available is non-empty the closest name is offered as a hint.
func NewColumnNotFoundError(op, column string, available ...string) *EngineError {
	err := &EngineError{
		Kind:    KindColumnNotFound,
		Op:      op,
		Column:  column,
		Message: "column does not exist",
	}
	if s := closest(column, available); s != "" {
		err.Hint = fmt.Sprintf("did you mean '%s'?", s)
	}
	return err
}

// NewColumnExistsError creates an error for Define on an already bound name
func NewColumnExistsError(op, column string) *EngineError {
	return &EngineError{
		Kind:    KindColumnExists,
		Op:      op,
		Column:  column,
		Message: "column already exists",
		Hint:    "use Redefine to replace an existing column",
	}
}

// NewInvalidExpressionError creates an error for malformed expressions
func NewInvalidExpressionError(op, source string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindInvalidExpression,
		Op:      op,
		Message: fmt.Sprintf("invalid expression %q", source),
		Cause:   cause,
	}
}

// NewTypeMismatchError creates an error for operands of the wrong type
func NewTypeMismatchError(op, column, expected, actual string) *EngineError {
	return &EngineError{
		Kind:    KindTypeMismatch,
		Op:      op,
		Column:  column,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
	}
}

// NewInvalidModelError creates an error for malformed histogram models
func NewInvalidModelError(op, message string) *EngineError {
	return &EngineError{
		Kind:    KindInvalidModel,
		Op:      op,
		Message: message,
	}
}

// NewInvalidInputError creates an error for invalid operation inputs
func NewInvalidInputError(op, message string) *EngineError {
	return &EngineError{
		Kind:    KindInvalidInput,
		Op:      op,
		Message: message,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindInternal,
		Op:      op,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// closest returns the candidate with the smallest edit distance to name,
// provided the distance is small relative to the name length.
func closest(name string, candidates []string) string {
	best, bestDist := "", len(name)/2+1
	for _, c := range candidates {
		if d := levenshtein(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
