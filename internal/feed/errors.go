package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is not present in the feed.
	ErrNotFound = errors.New("notification not found in feed")
	// ErrUnknownDomain is returned for domain names outside the known set.
	ErrUnknownDomain = errors.New("unknown notification domain")
)

// Op names a read-state operation.
type Op string

const (
	OpMarkRead Op = "mark_read"
	OpDelete   Op = "delete"
)

// MutationError reports a backend rejection of an optimistic mutation. The
// feed has already been rolled back when it is returned.
type MutationError struct {
	Op  Op
	Key Key
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
