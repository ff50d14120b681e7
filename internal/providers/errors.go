package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sony/gobreaker"
)

type ErrorType string

const (
	ErrorConnection ErrorType = "connection"
	ErrorRate       ErrorType = "rate_limit"
	ErrorQuota      ErrorType = "quota"
	ErrorAuth       ErrorType = "auth"
	ErrorNotFound   ErrorType = "not_found"
	ErrorContext    ErrorType = "context"
	ErrorTransient  ErrorType = "transient"
	ErrorPermanent  ErrorType = "permanent"
)

// ProviderError is the typed failure every LLM call surfaces to the pipeline.
type ProviderError struct {
	Type     ErrorType
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Type: ClassifyError(err), Provider: provider, Err: err}
}

// ClassifyError maps a provider failure onto ErrorType. Typed errors win over
// message matching.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrorTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTransient
		}
		return ErrorConnection
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "too many requests"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "401"), strings.Contains(e, "403"), strings.Contains(e, "unauthorized"), strings.Contains(e, "key missing"):
		return ErrorAuth
	case strings.Contains(e, "404"), strings.Contains(e, "model not found"):
		return ErrorNotFound
	case strings.Contains(e, "connection refused"), strings.Contains(e, "no such host"), strings.Contains(e, "connection reset"):
		return ErrorConnection
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"), strings.Contains(e, "502"), strings.Contains(e, "503"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// shouldCooldown reports whether a provider should be skipped for a while after err.
func shouldCooldown(t ErrorType) bool {
	switch t {
	case ErrorQuota, ErrorRate, ErrorAuth, ErrorConnection:
		return true
	}
	return false
}
