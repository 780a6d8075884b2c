// Package transcode normalizes inbound voice notes with an external
// media tool (ffmpeg by default).
package transcode

import "fmt"

// Failure reasons for a transcode error.
const (
	ReasonCorruptInput = "corrupt_input"
	ReasonUnsupported  = "unsupported_format"
	ReasonToolFailed   = "tool_failed"
	ReasonBadOutput    = "malformed_output"
	ReasonTimeout      = "timeout"
	ReasonCancelled    = "cancelled"
)

// Error is a transcoding failure. It is recoverable per-event: the
// dispatcher answers with a fixed user-facing message and leaves the
// session untouched.
type Error struct {
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("transcode: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("transcode: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func errf(reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
