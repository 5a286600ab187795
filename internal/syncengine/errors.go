package syncengine

import (
	"errors"
	"fmt"
)

// ErrNoAgent is returned when a pass is requested before an agent has been
// attached. It is a programming error and aborts the call.
var ErrNoAgent = errors.New("syncengine: no agent configured")

// SyncError represents a failure contained within a sync pass.
//
// Sync errors are never returned from Sync; they are logged and collected
// in the pass Report:
//   - Resolution failures skip an identity for the pass
//   - Transport, local, query and state failures abort one
//     (identity, endpoint, direction) tuple and leave its watermark unchanged
//   - Rejections skip one message and the tuple continues
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	DID        string
	Endpoint   string
	Direction  Direction
	MessageCID string

	// Status is the reply status code for rejections and query failures.
	Status int

	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeResolutionFailed indicates the DID could not be resolved or
	// lists no DWN endpoints.
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"

	// ErrCodeTransportFailed indicates a network-level failure talking to
	// the remote endpoint.
	ErrCodeTransportFailed ErrorCode = "TRANSPORT_FAILED"

	// ErrCodeLocalFailed indicates a failure on this side: the local node's
	// storage, or a missing signing key.
	ErrCodeLocalFailed ErrorCode = "LOCAL_FAILED"

	// ErrCodeQueryFailed indicates an event enumeration or presence query
	// returned a non-success status.
	ErrCodeQueryFailed ErrorCode = "QUERY_FAILED"

	// ErrCodeMessageRejected indicates a single message could not be read
	// from the source or was refused by the destination.
	ErrCodeMessageRejected ErrorCode = "MESSAGE_REJECTED"

	// ErrCodeStateFailed indicates the watermark could not be read or
	// persisted.
	ErrCodeStateFailed ErrorCode = "STATE_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %v (did=%s", e.Code, e.Err, e.DID)
	if e.Endpoint != "" {
		msg += fmt.Sprintf(", endpoint=%s, direction=%s", e.Endpoint, e.Direction)
	}
	if e.MessageCID != "" {
		msg += fmt.Sprintf(", message=%s", e.MessageCID)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(", status=%d", e.Status)
	}
	return msg + ")"
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if the error is a transport failure.
// Uses errors.As to handle wrapped errors.
func IsTransportError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTransportFailed
	}
	return false
}

// IsRejection returns true if the error is a per-message rejection.
func IsRejection(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeMessageRejected
	}
	return false
}
