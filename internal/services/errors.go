package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the certificate lifecycle. Handlers translate these
// into the HTTP error envelope; the E_ prefixes survive into messages so
// older clients that match on strings keep working.
var (
	ErrNotFound          = errors.New("not found")
	ErrRevision          = errors.New("E_REVISION - document was modified concurrently")
	ErrImmutable         = errors.New("E_STATUS - issued and void certificates cannot be edited")
	ErrInvalidTransition = errors.New("E_TRANSITION - illegal status transition")
	ErrReviewBlocked     = errors.New("E_REVIEW - review approval is required before completion")
	ErrUnknownKind       = errors.New("E_KIND - unknown certificate kind")
)

// NotReadyError rejects completion of a draft that is missing required
// fields. Missing carries the exact dotted field paths for the editor.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("E_NOT_READY - missing required fields: %s", strings.Join(e.Missing, ", "))
}
