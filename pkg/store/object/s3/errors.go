package s3

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// isRetryableError returns true if the error is transient and the operation
// should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		// Throttling errors - retryable
		if code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestThrottled" || code == "SlowDown" {
			return true
		}

		// Server errors (5xx) - retryable
		if code == "InternalError" || code == "ServiceUnavailable" {
			return true
		}

		// Not found, access denied, invalid request - not retryable
		if code == "NoSuchKey" || code == "NotFound" ||
			code == "AccessDenied" || code == "Forbidden" ||
			code == "InvalidRequest" {
			return false
		}
	}

	// Check error message for common patterns
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}

// isNotFoundError returns true if the error indicates the object or bucket
// doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// calculateBackoff returns the backoff duration for a given attempt using
// the store's retry config.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}
