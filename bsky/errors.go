package bsky

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies a failed platform call so the poll loop can pick
// the right recovery path (wait, reconnect, clear cursor, or count toward
// the fatal budget).
type FailureKind int

const (
	// FailureUnreachable indicates the host timed out; retry with the same cursor.
	FailureUnreachable FailureKind = iota
	// FailureInvalidToken indicates the session token was rejected outright.
	FailureInvalidToken
	// FailureExpiredToken indicates the session token aged out.
	FailureExpiredToken
	// FailureNetwork indicates a transport-level failure (refused, reset, DNS).
	FailureNetwork
	// FailureValidation indicates the response payload failed to decode.
	FailureValidation
	// FailureOther covers everything the taxonomy does not recognize.
	FailureOther
)

// String returns a human-readable name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureUnreachable:
		return "unreachable"
	case FailureInvalidToken:
		return "invalid-token"
	case FailureExpiredToken:
		return "expired-token"
	case FailureNetwork:
		return "network"
	case FailureValidation:
		return "validation"
	default:
		return "other"
	}
}

// APIError is an XRPC error response body, e.g. {"error":"ExpiredToken","message":"..."}.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bsky: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ValidationError wraps a payload that could not be decoded into the
// expected shape. The loop skips these without touching its cursor.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bsky: %s: invalid payload: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Classify maps an error from a platform call onto the failure taxonomy.
//
// Timeouts are "unreachable" (host up but slow/partitioned); other transport
// errors are "network". Token rejections are split by the server's error code
// because the two recover differently. Anything else is "other" and counts
// toward the consecutive-failure budget.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "InvalidToken", "AuthenticationRequired":
			return FailureInvalidToken
		case "ExpiredToken":
			return FailureExpiredToken
		}
		return FailureOther
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return FailureValidation
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureUnreachable
		}
		return FailureNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureUnreachable
	}
	return FailureOther
}
