package domain

import (
	"fmt"
	"strings"
)

// FieldIssue points at one offending field in a request.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every offending field, not just the first.
type ValidationError struct {
	Issues []FieldIssue
}

func (e ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", i.Field, i.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError signals a lost optimistic-concurrency race. Callers can
// retry after re-reading state.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	if e.Reason == "" {
		return "conflict"
	}
	return e.Reason
}

// AuthorizationError signals a role mismatch on an approval action.
type AuthorizationError struct {
	Required string
	Asserted string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("role %s required, got %s", e.Required, orNone(e.Asserted))
}

// InvalidActionError signals an action not permitted from the current step.
type InvalidActionError struct {
	Step   string
	Action string
}

func (e InvalidActionError) Error() string {
	return fmt.Sprintf("action %s not permitted at step %s", e.Action, e.Step)
}

// TerminatedError signals an action on a completed or rejected instance.
type TerminatedError struct {
	Status string
}

func (e TerminatedError) Error() string {
	return fmt.Sprintf("instance already %s", e.Status)
}

// NoPublishedVersionError signals a submission against a form with no
// published version.
type NoPublishedVersionError struct {
	FormID string
}

func (e NoPublishedVersionError) Error() string {
	return fmt.Sprintf("form %s has no published version", e.FormID)
}

// GraphIntegrityError signals a successor lookup miss after validation.
// It is a bug, never a user error.
type GraphIntegrityError struct {
	Step   string
	Action string
}

func (e GraphIntegrityError) Error() string {
	return fmt.Sprintf("graph integrity: no successor for (%s, %s)", e.Step, e.Action)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
