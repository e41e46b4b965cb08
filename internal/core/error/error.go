package errx

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a safe fallback when internal errors occur.
	SystemErrorMessage = "internal error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
)

// Kind classifies failures so callers can pick a fallback without string matching.
type Kind string

const (
	KindInternal    Kind = "internal"
	KindTransient   Kind = "transient"
	KindQuota       Kind = "quota"
	KindUnavailable Kind = "unavailable"
	KindMalformed   Kind = "malformed"
	KindPermanent   Kind = "permanent"
	KindStorage     Kind = "storage"
	KindNotFound    Kind = "not_found"
)

var (
	// ErrQuotaExceeded marks quota and rate-limit rejections from a remote provider.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrCircuitOpen is returned when a circuit breaker rejects a call without trying it.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrMalformedOutput marks structured model output that failed validation.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrNotFound marks a missing record in a collaborator store.
	ErrNotFound = errors.New("not found")
)

var kindSentinels = map[Kind]error{
	KindQuota:       ErrQuotaExceeded,
	KindUnavailable: ErrCircuitOpen,
	KindMalformed:   ErrMalformedOutput,
	KindNotFound:    ErrNotFound,
}

// AppError wraps an underlying error with a kind and a safe message.
type AppError struct {
	Err     error
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel (ErrQuotaExceeded for KindQuota, ...) as well as the wrapped chain.
func (e *AppError) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a new AppError with the provided information.
func New(err error, kind Kind, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    kind,
		Message: message,
	}
}

// Wrap returns nil for a nil error, otherwise an AppError of the given kind.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return New(err, kind, message)
}

// WrapRedis maps Redis errors to AppError; redis.Nil becomes KindNotFound.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, KindNotFound, RedisNotFoundMessage)
	}
	return New(err, KindStorage, RedisErrorMessage)
}

// KindOf returns the kind of the outermost AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsQuota reports whether err is a quota / rate-limit rejection.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsUnavailable reports whether err came from an open circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
