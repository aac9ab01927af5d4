package session

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrNotFound indicates the session, submission, or token does not exist
// (or has expired). Callers treat it as a 404 equivalent, not a retry.
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable indicates a transient infrastructure failure.
// Callers may retry with backoff.
var ErrStorageUnavailable = errors.New("storage unavailable")

// transientCodes are the DynamoDB error codes classified as retryable.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
}

// wrapStorageErr annotates a storage failure with the operation name and
// folds transient infrastructure codes into ErrStorageUnavailable.
func wrapStorageErr(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%s: %w: %s", op, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
