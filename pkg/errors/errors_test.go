// errors_test.go — verifies the AppError / Wrap / Wrapf contract.
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap verifies Wrap preserves the original error chain so
// errors.Is/errors.As keep working across it.
func TestWrapUnwrap(t *testing.T) {
	original := ErrNotFound
	wrapped := Wrap(original, "Store.Get", KindValidation, "user not found")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Store.Get" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Store.Get")
	}
	if appErr.Message != "user not found" {
		t.Errorf("Message = %q, want %q", appErr.Message, "user not found")
	}
	if appErr.Kind != KindValidation {
		t.Errorf("Kind = %v, want KindValidation", appErr.Kind)
	}
}

// TestWrapErrorString verifies Error() includes op, message, and cause.
func TestWrapErrorString(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, "Service.Read", KindInternal, "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Service.Read", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestWrapfFormat verifies Wrapf formats its message.
func TestWrapfFormat(t *testing.T) {
	cause := ErrInvalidInput
	wrapped := Wrapf(cause, "API.Validate", KindValidation, "field %s invalid: %d", "age", -1)

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, "field age invalid: -1") {
		t.Errorf("Message = %q, want to contain 'field age invalid: -1'", appErr.Message)
	}
}

// TestNewWithoutCause verifies New creates a causeless error.
func TestNewWithoutCause(t *testing.T) {
	err := New("Init", KindInternal, "failed to start")
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Err != nil {
		t.Errorf("Err = %v, want nil", appErr.Err)
	}
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

// TestDoubleWrap verifies errors.Is still finds the deepest sentinel
// after wrapping twice.
func TestDoubleWrap(t *testing.T) {
	inner := Wrap(ErrNotFound, "Store.Get", KindValidation, "row missing")
	outer := Wrap(inner, "Service.FindUser", KindInternal, "user lookup failed")

	if !errors.Is(outer, ErrNotFound) {
		t.Error("errors.Is(outer, ErrNotFound) = false after double wrap")
	}

	var appErr *AppError
	if !errors.As(outer, &appErr) {
		t.Fatal("errors.As failed on outer")
	}
	if appErr.Op != "Service.FindUser" {
		t.Errorf("Op = %q, want Service.FindUser", appErr.Op)
	}
}

// TestKindExitCode verifies each Kind maps to its spec'd CLI exit code.
func TestKindExitCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInternal, ExitSoftware},
		{KindValidation, ExitUsage},
		{KindAuthorization, ExitNoPermit},
		{KindStorageUnavailable, ExitUnavailable},
		{KindQuorumUnavailable, ExitUnavailable},
	}
	for _, tt := range tests {
		if got := tt.kind.ExitCode(); got != tt.want {
			t.Errorf("%v.ExitCode() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

// TestSafeContext_RedactsSecrets verifies known secret-bearing keys
// never reach SafeContext's output.
func TestSafeContext_RedactsSecrets(t *testing.T) {
	err := WithContext(New("Login", KindAuthentication, "bad credentials"), map[string]any{
		"username": "alice",
		"password": "hunter2",
	})
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	safe := appErr.SafeContext()
	if safe["username"] != "alice" {
		t.Errorf("username = %v, want alice", safe["username"])
	}
	if _, ok := safe["password"]; ok {
		t.Error("password should be redacted from SafeContext")
	}
}
