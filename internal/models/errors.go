package models

import (
	"fmt"
)

// ConnectError is returned when an SSH session could not be established
// after all retry attempts.
type ConnectError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s after %d attempts: %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransferError is returned when a remote file could not be copied into
// place. Either SizeMismatch is set or Err holds the I/O failure.
type TransferError struct {
	RemotePath   string
	SizeMismatch bool
	Expected     int64
	Actual       int64
	Err          error
}

func (e *TransferError) Error() string {
	if e.SizeMismatch {
		return fmt.Sprintf("transferring %s: size mismatch: remote %d != local %d", e.RemotePath, e.Expected, e.Actual)
	}
	return fmt.Sprintf("transferring %s: %v", e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExtractionError reports credential content missing a required attribute.
type ExtractionError struct {
	Marker string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("credential attribute %s missing or malformed", e.Marker)
}

// ServerQueryError is returned when a discovered server could not be
// queried for sessions.
type ServerQueryError struct {
	Server string
	URL    string
	Err    error
}

func (e *ServerQueryError) Error() string {
	return fmt.Sprintf("querying %s (%s): %v", e.Server, e.URL, e.Err)
}

func (e *ServerQueryError) Unwrap() error { return e.Err }
