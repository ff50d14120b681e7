package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/sony/gobreaker"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":                ErrorQuota,
		"openai generate error 429: slow":   ErrorRate,
		"openai generate error 401: bad":    ErrorAuth,
		"openai key missing for alias \"\"": ErrorAuth,
		"ollama generate error 404: model":  ErrorNotFound,
		"dial tcp: connection refused":      ErrorConnection,
		"context too long":                  ErrorContext,
		"timeout":                           ErrorTransient,
		"bad request":                       ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestClassifyTypedErrors(t *testing.T) {
	if got := ClassifyError(fmt.Errorf("call: %w", context.DeadlineExceeded)); got != ErrorTransient {
		t.Fatalf("deadline: got %s", got)
	}
	if got := ClassifyError(gobreaker.ErrOpenState); got != ErrorTransient {
		t.Fatalf("breaker: got %s", got)
	}
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	if got := ClassifyError(opErr); got != ErrorConnection {
		t.Fatalf("net op: got %s", got)
	}
	wrapped := wrapError("groq", errors.New("groq generate error 429: too many"))
	var pe *ProviderError
	if !errors.As(wrapped, &pe) || pe.Type != ErrorRate || pe.Provider != "groq" {
		t.Fatalf("unexpected wrap: %#v", wrapped)
	}
	if wrapError("x", wrapped) != wrapped {
		t.Fatalf("wrapError must not double wrap")
	}
}
