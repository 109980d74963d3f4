package engine

import (
	"errors"
	"fmt"
)

// WalkError is returned when a commit walk is aborted.
//
// The commit's staged records are discarded. Later commits are unaffected.
type WalkError struct {
	// Code identifies the error category.
	Code WalkErrorCode

	// Message is a human-readable description.
	Message string

	// Commit is the sequence number of the aborted commit.
	Commit int64

	// Node is the label of the node being visited when the walk failed,
	// if known.
	Node string
}

// WalkErrorCode categorizes walk errors.
type WalkErrorCode string

const (
	// ErrCodeWalkPanic indicates a panic outside per-node observation
	// (a traversal predicate, a malformed tree).
	ErrCodeWalkPanic WalkErrorCode = "WALK_PANIC"

	// ErrCodeNilRoot indicates a commit without a root node.
	ErrCodeNilRoot WalkErrorCode = "NIL_ROOT"

	// ErrCodeNodeBudget indicates a walk that visited more nodes than
	// WithMaxNodes allows, typically a tree whose links form a loop.
	ErrCodeNodeBudget WalkErrorCode = "NODE_BUDGET"
)

// Error implements the error interface.
func (e *WalkError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: %s (commit=%d, node=%s)", e.Code, e.Message, e.Commit, e.Node)
	}
	return fmt.Sprintf("%s: %s (commit=%d)", e.Code, e.Message, e.Commit)
}

// IsWalkPanic returns true if the error is a recovered walk panic.
// Uses errors.As to handle wrapped errors.
func IsWalkPanic(err error) bool {
	var we *WalkError
	if errors.As(err, &we) {
		return we.Code == ErrCodeWalkPanic
	}
	return false
}

// IsNilRoot returns true if the error reports a commit without a root.
func IsNilRoot(err error) bool {
	var we *WalkError
	if errors.As(err, &we) {
		return we.Code == ErrCodeNilRoot
	}
	return false
}

// IsNodeBudget returns true if the error reports a walk past its node
// budget.
func IsNodeBudget(err error) bool {
	var we *WalkError
	if errors.As(err, &we) {
		return we.Code == ErrCodeNodeBudget
	}
	return false
}
