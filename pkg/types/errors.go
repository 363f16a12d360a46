package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers. Handlers map these onto HTTP status
// codes and JSON-RPC error codes via RPCCode.
var (
	// ErrAuth covers missing, invalid, or expired bearer tokens.
	ErrAuth = errors.New("authentication failed")

	// ErrTenantMismatch is returned when a verified token's user id does
	// not match the tenant a request targets.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrNotFound is returned for unknown unit or session ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument covers malformed tool input and bad filters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionState is returned when an operation is illegal for the
	// session's current lifecycle state.
	ErrSessionState = errors.New("operation not allowed in current session state")

	// ErrDeadlineExceeded is returned when a request deadline fired before
	// the operation completed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// ProviderErrorKind classifies upstream LLM/embedding failures.
type ProviderErrorKind string

const (
	ProviderTransient ProviderErrorKind = "transient"
	ProviderPermanent ProviderErrorKind = "permanent"
	ProviderAuth      ProviderErrorKind = "auth"
	ProviderBudget    ProviderErrorKind = "budget"
)

// ProviderError wraps an upstream LLM or embedding failure. Transient errors
// are retried inside the gateway; everything that escapes it is final.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with the given kind.
func NewProviderError(kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// StoreError wraps an index or disk failure. The tenant store returns it only
// after rolling back the partial write, so callers never observe a
// half-applied mutation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error in %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// JSON-RPC error codes for the transport layer. Standard codes are reused
// where JSON-RPC 2.0 defines them; the rest live in the server range.
const (
	RPCCodeParse          = -32700
	RPCCodeInvalidRequest = -32600
	RPCCodeMethodNotFound = -32601
	RPCCodeInvalidParams  = -32602
	RPCCodeInternal       = -32603

	RPCCodeAuth         = -32001
	RPCCodeTenant       = -32002
	RPCCodeNotFound     = -32003
	RPCCodeSessionState = -32004
	RPCCodeProvider     = -32010
	RPCCodeStore        = -32020
	RPCCodeDeadline     = -32030
)

// RPCCode maps an error onto its JSON-RPC error code.
func RPCCode(err error) int {
	var pe *ProviderError
	var se *StoreError
	switch {
	case errors.Is(err, ErrAuth):
		return RPCCodeAuth
	case errors.Is(err, ErrTenantMismatch):
		return RPCCodeTenant
	case errors.Is(err, ErrNotFound):
		return RPCCodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return RPCCodeInvalidParams
	case errors.Is(err, ErrSessionState):
		return RPCCodeSessionState
	case errors.Is(err, ErrDeadlineExceeded):
		return RPCCodeDeadline
	case errors.As(err, &pe):
		return RPCCodeProvider
	case errors.As(err, &se):
		return RPCCodeStore
	default:
		return RPCCodeInternal
	}
}

// HTTPStatus maps an error onto the HTTP status used by the REST surface.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuth):
		return 401
	case errors.Is(err, ErrTenantMismatch):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrInvalidArgument):
		return 400
	default:
		return 500
	}
}
