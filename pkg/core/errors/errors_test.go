package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestWrapError(t *testing.T) {
	if WrapError(nil, "op") != nil {
		t.Error("WrapError(nil) should be nil")
	}

	err := WrapError(ErrNotFound, "get ctx-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("wrapped error lost its cause: %v", err)
	}
	if err.Error() != "get ctx-1: context not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestUnavailable(t *testing.T) {
	if Unavailable("create", nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}

	err := Unavailable("create", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("store unavailable should be retryable")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		retryable bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"not found", fmt.Errorf("%w: x", ErrNotFound), true, false, false},
		{"duplicate", fmt.Errorf("%w: x", ErrDuplicateKey), false, false, true},
		{"invalid config", fmt.Errorf("%w: bad", ErrInvalidConfig), false, false, true},
		{"joined config", errors.Join(nil, fmt.Errorf("%w: bad", ErrInvalidConfig)), false, false, true},
		{"unavailable", Unavailable("get", io.EOF), false, true, false},
		{"invalid input", ErrInvalidInput, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}
