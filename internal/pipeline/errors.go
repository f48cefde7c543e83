package pipeline

import (
	"errors"
	"fmt"

	"ingest-backend/internal/normalize"
)

var (
	// ErrMalformedEnvelope: the request body is absent or not a valid
	// notification envelope.
	ErrMalformedEnvelope = errors.New("no notification envelope received")

	// ErrMissingPayload: the envelope has no message data field.
	ErrMissingPayload = errors.New("notification message has no data payload")

	// ErrNoSourceFound: the event named no object and the bucket holds no
	// csv object to fall back to.
	ErrNoSourceFound = errors.New("no csv object found in source bucket")
)

// DecodeError wraps a failure to base64- or json-decode the message payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode notification payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnexpectedSourceError rejects events referencing any bucket other than the
// configured one. This is a sanity boundary against misrouted or
// cross-tenant notifications, checked before any storage call.
type UnexpectedSourceError struct {
	Bucket string
}

func (e *UnexpectedSourceError) Error() string {
	return fmt.Sprintf("file is from unexpected bucket: %s", e.Bucket)
}

// LoadFailedError carries the terminal failure detail of a warehouse load
// job.
type LoadFailedError struct {
	JobID  string
	Detail string
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load job %s failed: %s", e.JobID, e.Detail)
}

// IsInvalidNotification reports whether the error means the notification
// itself is bad and redelivering it can never succeed. The worker rejects
// such messages instead of requeueing them.
func IsInvalidNotification(err error) bool {
	var decodeErr *DecodeError
	var sourceErr *UnexpectedSourceError
	return errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrMissingPayload) ||
		errors.Is(err, normalize.ErrUnparsable) ||
		errors.As(err, &decodeErr) ||
		errors.As(err, &sourceErr)
}
