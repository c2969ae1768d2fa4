package idp

import (
	"errors"
	"fmt"
)

// ErrTokenAcquisition marks a failed admin or user grant call. A stale or
// empty token is never substituted for a fresh one.
var ErrTokenAcquisition = errors.New("idp: token acquisition failed")

// CallError reports a non-success response from the identity provider. It
// carries the upstream status and (truncated) body for diagnosis.
type CallError struct {
	Op     string // logical operation, e.g. "create_user"
	Status int    // upstream HTTP status, 0 on transport failure
	Body   string // truncated upstream response body
	Err    error  // transport error, if any
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("idp: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("idp: %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

func (e *CallError) Unwrap() error { return e.Err }

// DeletionError is raised only by DeleteUser. It is a distinct type so the
// sync engine can keep the local row when the remote deletion fails.
type DeletionError struct {
	Status int
	Body   string
	Err    error
}

func (e *DeletionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("idp: delete_user failed: %v", e.Err)
	}
	return fmt.Sprintf("idp: delete_user failed: status=%d body=%s", e.Status, e.Body)
}

func (e *DeletionError) Unwrap() error { return e.Err }
