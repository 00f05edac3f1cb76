package draft

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEditable is returned when an edit targets a document that is
	// no longer a draft.
	ErrNotEditable = errors.New("document is not editable")

	// ErrOutOfSync is returned by lifecycle actions while unsaved edits,
	// an in-flight save, or a failed save stand between the mirror and
	// the server.
	ErrOutOfSync = errors.New("unsaved changes pending, save before continuing")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session is closed")
)

// APIError is a decoded service error envelope.
type APIError struct {
	StatusCode    int    `json:"status"`
	Type          string `json:"type"`
	Message       string `json:"message"`
	RevisionError bool   `json:"revisionError"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("certsvc: status=%d type=%s message=%s", e.StatusCode, e.Type, e.Message)
}

// IsRevisionConflict reports whether err is a stale-revision rejection.
func IsRevisionConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RevisionError
}
