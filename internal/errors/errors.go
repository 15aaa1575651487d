package errors

import (
	// Go Internal Packages
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error so the delivery layer can pick a response.
type Kind uint8

const (
	Other Kind = iota
	Invalid
	NotFound
	Conflict
	Gateway
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case Gateway:
		return "gateway"
	case Persistence:
		return "persistence"
	}
	return "other"
}

// Error is a kind-tagged error with an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kind-tagged error.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain.
// GatewayError always reports Gateway.
func KindOf(err error) Kind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return Gateway
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err carries the given kind.
func Is(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}

// GatewayError is returned when the payment gateway rejects a call. Body holds
// the provider's raw response for diagnostics.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ValidationErrors accumulates per-field validation messages.
type ValidationErrors struct {
	fields map[string][]string
}

func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{fields: map[string][]string{}}
}

func (v *ValidationErrors) Add(field, msg string) {
	v.fields[field] = append(v.fields[field], msg)
}

func (v *ValidationErrors) Len() int { return len(v.fields) }

// Err returns nil when no field failed.
func (v *ValidationErrors) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+strings.Join(v.fields[k], ", "))
	}
	return strings.Join(parts, "; ")
}

func ValidationFailedErr(err error) error {
	return E(Invalid, "validation failed", err)
}

func EmptyParamErr(field string) error {
	ve := ValidationErrs()
	ve.Add(field, "cannot be empty")
	return E(Invalid, "validation failed", ve.Err())
}

func InvalidBodyErr(err error) error {
	return E(Invalid, "invalid request body", err)
}
