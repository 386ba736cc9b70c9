package download

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedChecksum marks entries whose checksum algorithm is unknown.
	ErrUnsupportedChecksum = errors.New("download: unsupported checksum algorithm")
	// ErrAbandoned marks files left unprocessed after cancellation.
	ErrAbandoned = errors.New("download: abandoned")
)

// FatalConfigurationError aborts orchestrator construction.
type FatalConfigurationError struct {
	Field string
	Err   error
}

func (e *FatalConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("download configuration: invalid %s", e.Field)
	}
	return fmt.Sprintf("download configuration: %s: %v", e.Field, e.Err)
}

func (e *FatalConfigurationError) Unwrap() error { return e.Err }

// NodeUnreachableError reports an entry skipped because its node is down.
type NodeUnreachableError struct {
	Node  string
	Entry string
}

func (e *NodeUnreachableError) Error() string {
	return fmt.Sprintf("data node %s unreachable for %s", e.Node, e.Entry)
}

// ChecksumMismatchError reports downloaded bytes that do not hash to the
// published checksum.
type ChecksumMismatchError struct {
	Entry     string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s", e.Algorithm, e.Entry, e.Expected, e.Actual)
}

// NetworkError wraps a transfer failure or timeout of one attempt.
type NetworkError struct {
	Entry string
	URL   string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DownloadFailureError is recorded when every entry of a file failed.
type DownloadFailureError struct {
	File   string
	Causes []error
}

func (e *DownloadFailureError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return fmt.Sprintf("download %s failed after %d attempt(s): %s", e.File, len(e.Causes), strings.Join(msgs, "; "))
}

func (e *DownloadFailureError) Unwrap() []error { return e.Causes }
