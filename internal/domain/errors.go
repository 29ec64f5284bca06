package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrLockContention    = errors.New("generation already in progress")
	ErrLockNotHeld       = errors.New("generation lock not held")
	ErrUpstream          = errors.New("upstream failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrNothingToRetry    = errors.New("no previous generation to retry")
	ErrIncompleteSession = errors.New("incomplete session")
	ErrNotFound          = errors.New("not found")
)

// ValidationError reports input rejected by moderation or basic checks.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UpstreamError wraps a failed collaborator call for one job.
type UpstreamError struct {
	Job JobKind
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s generator: %v", e.Job, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a collaborator response does not
// match the expected contract.
type MalformedResponseError struct {
	Job    JobKind
	Field  string
	Detail string
}

func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("%s generator: malformed response field %q", e.Job, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
