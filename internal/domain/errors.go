package domain

import "fmt"

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrProviderNotFound = fmt.Errorf("tool provider not found")
	ErrModelNotFound    = fmt.Errorf("model alias not found")
	ErrRoleNotFound     = fmt.Errorf("role config not found")

	// Model client errors.
	ErrEmptyCompletion = fmt.Errorf("empty completion content")
	ErrNoChoices       = fmt.Errorf("no choices returned")
	ErrNoToolCall      = fmt.Errorf("no tool call returned")
	ErrModelExhausted  = fmt.Errorf("all endpoints failed")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrServerError     = fmt.Errorf("backend server error")

	// Agent errors.
	ErrContextBudget = fmt.Errorf("context budget exceeded")

	// Environment errors.
	ErrSandboxUnavailable = fmt.Errorf("sandbox runtime unavailable")
	ErrBadToolResult      = fmt.Errorf("tool result must be a single text or image block")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Environment.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
