// Package errors provides the application's error taxonomy: sentinel
// errors for common conditions plus a two-layer AppError carrying an
// operation name, a typed Kind, and a safe-to-log context map.
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 sentinel errors
// ========================================

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("timeout")
	ErrRowMissing   = errors.New("row missing")
	ErrReadOnly     = errors.New("read-only violation")
)

// ========================================
// Kind — the §7 error taxonomy
// ========================================

// Kind classifies an AppError for routing to the right exit code,
// retry policy, and recovery strategy. The zero value is KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindOptimisticLock
	KindCorruption
	KindStorageUnavailable
	KindConsensusTimeout
	KindQuorumUnavailable
	KindByzantineDetected
	KindAgentTimeout
	KindCircuitOpen
	KindOverload
	KindAllFallbacksExhausted
	KindHumanEscalationRequired
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindOptimisticLock:
		return "optimistic_lock"
	case KindCorruption:
		return "corruption"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindConsensusTimeout:
		return "consensus_timeout"
	case KindQuorumUnavailable:
		return "quorum_unavailable"
	case KindByzantineDetected:
		return "byzantine_detected"
	case KindAgentTimeout:
		return "agent_timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindOverload:
		return "overload"
	case KindAllFallbacksExhausted:
		return "all_fallbacks_exhausted"
	case KindHumanEscalationRequired:
		return "human_escalation_required"
	default:
		return "internal"
	}
}

// CLI exit codes, per spec.md §6.
const (
	ExitOK          = 0
	ExitUsage       = 64
	ExitUnavailable = 69
	ExitSoftware    = 70
	ExitNoPermit    = 75
)

// ExitCode maps a Kind to the process exit code a CLI command should
// return when it fails with this kind of error.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return ExitUsage
	case KindAuthentication, KindAuthorization:
		return ExitNoPermit
	case KindStorageUnavailable, KindConsensusTimeout, KindQuorumUnavailable,
		KindAgentTimeout, KindCircuitOpen, KindOverload, KindAllFallbacksExhausted:
		return ExitUnavailable
	default:
		return ExitSoftware
	}
}

// ========================================
// L2 AppError
// ========================================

// AppError is an application-level error carrying the operation that
// failed, its Kind, a human-readable message, a safe-to-log context
// map, and an optional correlation ID linking it to other errors the
// same incident produced.
type AppError struct {
	Op            string
	Kind          Kind
	Message       string
	CorrelationID string
	Context       map[string]any
	Err           error
}

// secretKeys are context keys scrubbed before logging or serialization.
var secretKeys = map[string]struct{}{
	"password": {}, "secret": {}, "token": {}, "api_key": {}, "private_key": {},
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// ExitCode returns the CLI exit code for this error's Kind.
func (e *AppError) ExitCode() int { return e.Kind.ExitCode() }

// SafeContext returns a copy of Context with keys matching common
// secret names left out, suitable for logging or returning to a caller.
func (e *AppError) SafeContext() map[string]any {
	if e.Context == nil {
		return nil
	}
	out := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		if _, secret := secretKeys[k]; secret {
			continue
		}
		out[k] = v
	}
	return out
}

// ========================================
// Factories
// ========================================

// New creates an AppError with no wrapped cause.
func New(op string, kind Kind, message string) error {
	return &AppError{Op: op, Kind: kind, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(op string, kind Kind, format string, args ...any) error {
	return &AppError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with operation and kind context.
func Wrap(err error, op string, kind Kind, message string) error {
	return &AppError{Op: op, Kind: kind, Message: message, Err: err}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, op string, kind Kind, format string, args ...any) error {
	return &AppError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithContext attaches a safe-to-log context map to an existing
// AppError, returning err unchanged if it isn't one.
func WithContext(err error, ctx map[string]any) error {
	var ae *AppError
	if errors.As(err, &ae) {
		ae.Context = ctx
	}
	return err
}

// WithCorrelation attaches a correlation ID, returning err unchanged if
// it isn't an AppError.
func WithCorrelation(err error, correlationID string) error {
	var ae *AppError
	if errors.As(err, &ae) {
		ae.CorrelationID = correlationID
	}
	return err
}

// KindOf extracts the Kind of err if it is (or wraps) an AppError,
// otherwise KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
