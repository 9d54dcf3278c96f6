package generator

import (
	"errors"
	"fmt"
)

var ErrEmptyTopic = errors.New("topic is required")

// Role identifies which side of the loop made a call.
type Role string

const (
	RoleWriter Role = "writer"
	RoleEditor Role = "editor"
)

// CallError reports a writer or critique call that could not complete. It
// aborts the run; no partial Result is returned.
type CallError struct {
	Role  Role
	Round int
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed in round %d: %v", e.Role, e.Round, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
