package ai

import (
	"errors"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// FailureKind classifies an analysis failure for the queue's retry policy.
type FailureKind int

const (
	// FailureTransient covers timeouts, 5xx-class failures and overload:
	// retried up to a fixed bound with a fixed inter-attempt delay.
	FailureTransient FailureKind = iota

	// FailureRateLimited means the service rejected the request for
	// exceeding its rate ceiling. The record is re-queued after backoff and
	// the attempt does not count against the retry bound.
	FailureRateLimited

	// FailurePermanent covers invalid credentials and other terminal
	// failures that are never auto-retried.
	FailurePermanent

	// FailureMalformed means the service responded but the content could not
	// be interpreted as the expected structured result. Retried like a
	// transient failure, but logged distinctly since it suggests a prompt
	// contract mismatch rather than infrastructure failure.
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailurePermanent:
		return "permanent"
	case FailureMalformed:
		return "malformed_response"
	default:
		return "transient"
	}
}

// ErrMalformedResponse marks service output that could not be parsed into an
// Analysis. Wrapped errors carry the parse detail.
var ErrMalformedResponse = errors.New("malformed analysis response")

// Classify maps an analysis error to its failure kind. It checks the
// Anthropic SDK error type first and falls back to error message patterns so
// that HTTP-based providers classify the same way.
func Classify(err error) FailureKind {
	if errors.Is(err, ErrMalformedResponse) {
		return FailureMalformed
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimitErr():
			return FailureRateLimited
		case apiErr.IsAuthenticationErr(), apiErr.IsPermissionErr():
			return FailurePermanent
		default:
			return FailureTransient
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate_limit_error"),
		strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "429"),
		strings.Contains(errStr, "too many requests"):
		return FailureRateLimited
	case strings.Contains(errStr, "authentication_error"),
		strings.Contains(errStr, "invalid x-api-key"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailurePermanent
	default:
		return FailureTransient
	}
}

// IsRateLimited reports whether err should trigger the throttle controller.
func IsRateLimited(err error) bool {
	return err != nil && Classify(err) == FailureRateLimited
}
