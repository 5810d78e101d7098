package calendar

import "fmt"

// EventResult describes a successfully created reminder event.
type EventResult struct {
	EventID   string `json:"eventId"`
	EventLink string `json:"eventLink,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// ValidationError indicates the note is missing the fields a reminder
// needs. It is detected locally, before any provider call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("calendar: %s is required for a reminder", e.Field)
}

// InvalidDateTimeError indicates the reminder date and time do not form a
// valid instant, e.g. "2024-02-30". Detected locally, before any provider
// call; a superficially valid string must not reach the provider where it
// could silently create a wrong event.
type InvalidDateTimeError struct {
	Value string
	err   error
}

func (e *InvalidDateTimeError) Error() string {
	return fmt.Sprintf("calendar: invalid reminder date/time %q: %v", e.Value, e.err)
}

func (e *InvalidDateTimeError) Unwrap() error { return e.err }

// PermissionDeniedError indicates the provider refused the insert (HTTP
// 403). NeedsReauth tells the caller a fresh consent flow is required; the
// local scope check cannot detect a grant revoked at the provider.
type PermissionDeniedError struct {
	NeedsReauth bool
	err         error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("calendar: permission denied by provider: %v", e.err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.err }

// UpstreamError covers every other provider failure, carrying the status
// and body for diagnostics.
type UpstreamError struct {
	Status int
	Body   string
	err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("calendar: provider returned status %d: %v", e.Status, e.err)
	}
	return fmt.Sprintf("calendar: provider request failed: %v", e.err)
}

func (e *UpstreamError) Unwrap() error { return e.err }
