package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Startup errors: fatal, never recovered.
	ErrConfiguration  = errors.New("configuration error")
	ErrDependency     = errors.New("dependency error")
	ErrDomainNotFound = errors.New("domain not found")

	// Per-turn errors: contained to the conversation.
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrRateLimited      = errors.New("rate limited")

	// ErrFatalLLM aborts the current conversation only.
	ErrFatalLLM = errors.New("fatal llm error")
)

// ConfigurationError reports a bad descriptor, a broken module contract or a
// tool name collision.
type ConfigurationError struct {
	Domain string // empty when the problem is not tied to one domain
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Domain != "" {
		msg += " in domain " + e.Domain
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DependencyError reports a missing, disabled or circular domain dependency.
type DependencyError struct {
	Domain     string
	Dependency string
	Reason     string
}

func (e *DependencyError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("dependency error: domain %q -> %q: %s", e.Domain, e.Dependency, e.Reason)
	}
	return fmt.Sprintf("dependency error: domain %q: %s", e.Domain, e.Reason)
}

func (e *DependencyError) Is(target error) bool { return target == ErrDependency }

// ToolExecutionError wraps a failure raised inside a tool.
type ToolExecutionError struct {
	Tool      string
	Arguments map[string]any
	Err       error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// RateLimitError is returned by providers when the LLM service throttles us.
// RetryAfter is zero when the service gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return "rate limited"
	}
	return "rate limited: " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// FatalLLMError ends a conversation: the LLM could not be reached, or the
// rate-limit retry budget ran out.
type FatalLLMError struct {
	Attempts int
	Err      error
}

func (e *FatalLLMError) Error() string {
	return fmt.Sprintf("llm request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FatalLLMError) Unwrap() error { return e.Err }

func (e *FatalLLMError) Is(target error) bool { return target == ErrFatalLLM }

// IsRateLimited reports whether err signals LLM throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
