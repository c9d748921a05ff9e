package ingest

import "fmt"

// ReasonCode is the machine-readable failure classification reported to the
// caller for archive-, config- and storage-level errors. Record-level errors
// never surface here; they are absorbed into the run summary.
type ReasonCode string

const (
	ReasonArchiveUnreadable    ReasonCode = "archive_unreadable"
	ReasonArchiveUnrecognized  ReasonCode = "archive_unrecognized"
	ReasonConversionToolAbsent ReasonCode = "conversion_tool_absent"
	ReasonConfigInvalid        ReasonCode = "config_invalid"
	ReasonStorageCommit        ReasonCode = "storage_commit"
)

// RunError wraps a fatal error with its reason code.
type RunError struct {
	Code ReasonCode
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func runErr(code ReasonCode, err error) *RunError {
	return &RunError{Code: code, Err: err}
}
