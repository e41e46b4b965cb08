package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrorClass is the retry-relevant class of a remote call error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassTransient covers timeouts, connection failures and 5xx; retried with backoff.
	ClassTransient
	// ClassQuota covers quota exhaustion and rate limiting; never retried.
	ClassQuota
	// ClassPermanent covers requests the remote rejected as invalid; never retried.
	ClassPermanent
	// ClassCanceled means the caller gave up.
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	quotaMarkers     = []string{"resource_exhausted", "quota", "rate limit", "rate_limit", "too many requests", "429"}
	transientMarkers = []string{"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "broken pipe", "eof", "unavailable", "internal error", "bad gateway", "500", "502", "503", "504"}
)

// Classify maps err into an ErrorClass. parent is the caller's context: an error caused
// by the caller cancelling is ClassCanceled, while a per-call timeout is transient.
func Classify(parent context.Context, err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if parent != nil && parent.Err() != nil {
		return ClassCanceled
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	if code, status, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests || strings.EqualFold(status, "RESOURCE_EXHAUSTED"):
			return ClassQuota
		case code == http.StatusRequestTimeout || code >= 500:
			return ClassTransient
		case code >= 400:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return ClassQuota
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return ClassTransient
		}
	}
	return ClassPermanent
}

func apiErrorCode(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}
