package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	// NotFound means the requested item does not exist.
	NotFound ErrorKind = "NotFound"
	// ThrottledRetryable means the backend pushed back; the call was retried
	// with backoff and still failed.
	ThrottledRetryable ErrorKind = "ThrottledRetryable"
	// Unauthorized means the backend rejected the gateway's credentials.
	Unauthorized ErrorKind = "Unauthorized"
	// Malformed means the operation could not be expressed against the
	// backend, including tampered cursors.
	Malformed ErrorKind = "Malformed"
)

// BackendError reports a failed backend operation.
type BackendError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *BackendError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.cause
}

// classify maps an AWS SDK error onto the backend error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"ThrottlingException",
			"RequestLimitExceeded",
			"LimitExceededException":
			return &BackendError{Kind: ThrottledRetryable, Message: op, cause: err}
		case "AccessDeniedException", "UnrecognizedClientException":
			return &BackendError{Kind: Unauthorized, Message: op, cause: err}
		case "ResourceNotFoundException", "ValidationException",
			"ConditionalCheckFailedException":
			return &BackendError{Kind: Malformed, Message: op, cause: err}
		}
	}
	return &BackendError{Kind: Malformed, Message: op, cause: err}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == ThrottledRetryable
}
