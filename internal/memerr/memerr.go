// Package memerr defines the error taxonomy shared by every component
// (spec §7): a stable {code, message, component} triple, plus a retry
// helper used by KVStore.Put and the pgvector VectorIndex's Upsert for
// their backoff-and-retry contract.
package memerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the taxonomy's stable identifiers. Names are abstract and
// transport-independent; REST and JSON-RPC adapters map them to their own
// status codes.
type Code string

const (
	CodeBadRequest       Code = "BadRequest"
	CodeNotFound         Code = "NotFound"
	CodeConflict         Code = "Conflict"
	CodeUnauthorized     Code = "Unauthorized"
	CodeForbidden        Code = "Forbidden"
	CodeStoreUnavailable Code = "StoreUnavailable"
	CodeDeadline         Code = "Deadline"
	CodeUpstreamFailure  Code = "UpstreamFailure"
)

// Memerr is the concrete error type every component returns for
// expected failure modes. message is a stable identifier (i18n-friendly,
// per §7), not a free-form diagnostic string.
type Memerr struct {
	Code      Code
	Message   string
	Component string
	cause     error
}

func (e *Memerr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Code, e.Message)
}

func (e *Memerr) Unwrap() error { return e.cause }

// New builds a Memerr with no wrapped cause.
func New(component string, code Code, message string) *Memerr {
	return &Memerr{Code: code, Message: message, Component: component}
}

// Wrap builds a Memerr that chains an underlying error via errors.Unwrap.
func Wrap(component string, code Code, message string, cause error) *Memerr {
	return &Memerr{Code: code, Message: message, Component: component, cause: cause}
}

// Is reports whether err (or anything it wraps) is a Memerr with the given
// code — the idiomatic errors.Is-compatible check callers should use
// instead of type-asserting *Memerr directly.
func Is(err error, code Code) bool {
	var me *Memerr
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to CodeUpstreamFailure for
// any error that didn't originate as a Memerr (e.g. a raw driver error that
// escaped a component's boundary).
func CodeOf(err error) Code {
	var me *Memerr
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeUpstreamFailure
}

// HTTPStatus maps a Code to the status the REST and JSON-RPC transports
// both use (spec §7: "Both surfaces share identical request validation and
// error mapping").
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeDeadline:
		return http.StatusGatewayTimeout
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode maps a Code to a JSON-RPC 2.0 error code: the reserved
// -32600s for malformed requests, -32000 to -32099 ("Server error") for
// everything else, keyed by a stable per-Code offset (spec §7).
func JSONRPCCode(code Code) int {
	switch code {
	case CodeBadRequest:
		return -32602 // Invalid params
	case CodeNotFound:
		return -32001
	case CodeConflict:
		return -32002
	case CodeUnauthorized:
		return -32003
	case CodeForbidden:
		return -32004
	case CodeDeadline:
		return -32005
	case CodeStoreUnavailable:
		return -32006
	default:
		return -32000
	}
}
