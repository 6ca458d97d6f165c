// Package errors implements the error taxonomy shared by the detection engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors not produced by the engine.
	KindUnknown Kind = iota

	// KindInvalidParameter indicates an out-of-range argument.
	// Examples: p or q outside (0,1), a non-positive interval.
	KindInvalidParameter

	// KindInsufficientData indicates too few qualifying rows or URLs after filtering.
	KindInsufficientData

	// KindSchema indicates a malformed input table.
	// Examples: a missing required column, an empty account id, a duplicate post id.
	KindSchema
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindInvalidParameter: "invalid_parameter",
	KindInsufficientData: "insufficient_data",
	KindSchema:           "schema",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sentinel errors, one per Kind. Every *Error unwraps to one of these.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInsufficientData = errors.New("insufficient data")
	ErrSchema           = errors.New("schema error")
)

var kindSentinels = map[Kind]error{
	KindInvalidParameter: ErrInvalidParameter,
	KindInsufficientData: ErrInsufficientData,
	KindSchema:           ErrSchema,
}

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "estimate_interval"
	Field   string // offending parameter or column, may be empty
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: [%s] %s: %s", e.Op, e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the sentinel for the error's kind.
func (e *Error) Unwrap() error {
	return kindSentinels[e.Kind]
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// InvalidParameter builds a KindInvalidParameter error for the named parameter.
func InvalidParameter(op, field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameter, Op: op, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientData builds a KindInsufficientData error.
func InsufficientData(op, format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientData, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Schema builds a KindSchema error for the named column.
func Schema(op, field, format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Op: op, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// IsInvalidParameter reports whether err is a KindInvalidParameter error.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}

// IsInsufficientData reports whether err is a KindInsufficientData error.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsSchema reports whether err is a KindSchema error.
func IsSchema(err error) bool {
	return errors.Is(err, ErrSchema)
}
