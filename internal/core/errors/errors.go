// Package errors provides centralized error definitions for the application.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Link parsing errors.
var (
	// ErrUnparseableLink indicates the input matched none of the supported link forms.
	ErrUnparseableLink = errors.New("unparseable link")

	// ErrNoIDs indicates the message-id field produced no usable ids.
	ErrNoIDs = errors.New("no message ids")
)

// Chat and message resolution errors.
var (
	// ErrPeerNotResolved indicates the session could not address a chat.
	ErrPeerNotResolved = errors.New("peer not resolved")

	// ErrChannelNotFound indicates a channel or username could not be found.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrMessageNotFound indicates a message could not be found.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnexpectedType indicates an unexpected type was returned by the API.
	ErrUnexpectedType = errors.New("unexpected type")

	// ErrNoMedia indicates the message carries no downloadable media.
	ErrNoMedia = errors.New("message has no downloadable media")
)

// Download and delivery errors.
var (
	// ErrUndownloadable indicates every download strategy failed.
	ErrUndownloadable = errors.New("media undownloadable")

	// ErrEmptyDownload indicates a download produced a zero-length file.
	ErrEmptyDownload = errors.New("downloaded file is empty")

	// ErrDeliveryFailed indicates every delivery route failed.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrProtectedContent indicates the source forbids forwarding or copying.
	ErrProtectedContent = errors.New("content is protected")
)

// Queue errors.
var (
	// ErrQueueClosed indicates the queue no longer accepts jobs.
	ErrQueueClosed = errors.New("backup queue closed")

	// ErrEmptyJob indicates a job without message ids.
	ErrEmptyJob = errors.New("backup job has no message ids")
)

// State and validation errors.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidID indicates an invalid identifier.
	ErrInvalidID = errors.New("invalid id")

	// ErrNoPendingPreview indicates no pending preview file exists.
	ErrNoPendingPreview = errors.New("no pending preview")

	// ErrDestinationNotWritable indicates the probe message could not be posted.
	ErrDestinationNotWritable = errors.New("destination not writable")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
