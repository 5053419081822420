package domain

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced through the tool façade. Tool callers branch on
// these, so the strings must not change.
const (
	CodeValidation            = "ValidationError"
	CodePermissionDenied      = "PermissionDenied"
	CodeNotFound              = "NotFound"
	CodeInvalidTransition     = "InvalidTransition"
	CodeTerminalStateImmutable = "TerminalStateImmutable"
	CodeOwnerWaitActive       = "OwnerWaitActive"
	CodePollingBlocked        = "PollingBlocked"
	CodeConcurrencyTimeout    = "ConcurrencyTimeout"
	CodeWorkerLimitReached    = "WorkerLimitReached"
	CodeGitDisabled           = "GitDisabled"
	CodeMergeConflict         = "MergeConflict"
	CodeBranchNotFound        = "BranchNotFound"
	CodeRecoveryExhausted     = "RecoveryExhausted"
)

// Error carries a stable code alongside the human-readable message. The
// façade converts it into {success:false, error, message}, folding Details in
// as extra payload fields; everything else treats it as a normal error value.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the stable code from err, or "" for plain errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Validation returns a ValidationError.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// NotFound returns a NotFound error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// PermissionDenied returns a PermissionDenied error naming the rule that failed.
func PermissionDenied(rule string) *Error {
	return &Error{Code: CodePermissionDenied, Message: rule}
}

// InvalidTransition returns an InvalidTransition (or TerminalStateImmutable)
// error describing the rejected task transition and the allowed set.
func InvalidTransition(from, to TaskStatus) *Error {
	code := CodeInvalidTransition
	if from.IsTerminal() {
		code = CodeTerminalStateImmutable
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("cannot transition %s -> %s (allowed: %v)", from, to, from.AllowedTransitions()),
		Details: map[string]any{"allowed": from.AllowedTransitions()},
	}
}

// OwnerWaitActive returns an OwnerWaitActive error for a refused tool.
func OwnerWaitActive(tool string) *Error {
	return &Error{
		Code:    CodeOwnerWaitActive,
		Message: tool + " is blocked while waiting for the admin reply; use read_messages, get_unread_count, or unlock_owner_wait",
	}
}

// PollingBlocked returns a PollingBlocked error after too many empty reads.
func PollingBlocked(polls int) *Error {
	return &Error{
		Code:    CodePollingBlocked,
		Message: fmt.Sprintf("%d consecutive empty reads; wait for the pane notification instead of polling", polls),
	}
}

// ConcurrencyTimeout returns a ConcurrencyTimeout error for a lock path.
func ConcurrencyTimeout(path string) *Error {
	return &Error{Code: CodeConcurrencyTimeout, Message: "lock acquisition timed out: " + path}
}

// WorkerLimitReached returns a WorkerLimitReached error.
func WorkerLimitReached(max int) *Error {
	return &Error{Code: CodeWorkerLimitReached, Message: fmt.Sprintf("worker limit reached (max %d)", max)}
}

// BranchNotFound returns a BranchNotFound error.
func BranchNotFound(branch string) *Error {
	return &Error{Code: CodeBranchNotFound, Message: fmt.Sprintf("branch %q does not exist", branch)}
}

// GitDisabled returns a GitDisabled error for a git-gated operation.
func GitDisabled(op string) *Error {
	return &Error{Code: CodeGitDisabled, Message: op + " requires enable_git=true"}
}

// Wrap attaches a stable code to an underlying error.
func Wrap(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}
