package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument marks caller mistakes such as a non-positive member target.
var ErrInvalidArgument = errors.New("catalog: invalid argument")

// MalformedRecordError reports a raw record that could not join the catalog.
type MalformedRecordError struct {
	Index    int // position in the input, -1 when unknown
	Identity string
	Missing  []string
	Err      error
}

func (e *MalformedRecordError) Error() string {
	var b strings.Builder
	b.WriteString("malformed record")
	if e.Index >= 0 {
		fmt.Fprintf(&b, " #%d", e.Index)
	}
	if e.Identity != "" {
		fmt.Fprintf(&b, " (%s)", e.Identity)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// EmptyResultError reports that a transform removed every dataset.
type EmptyResultError struct {
	Step string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no datasets left after %s", e.Step)
}

// InsufficientMembersError reports a configuration dropped by the balancer.
type InsufficientMembersError struct {
	SourceID     string
	ExperimentID string
	Members      int
	Minimum      int
}

func (e *InsufficientMembersError) Error() string {
	return fmt.Sprintf("%s/%s has %d complete members, need at least %d",
		e.SourceID, e.ExperimentID, e.Members, e.Minimum)
}

// Diagnostic kinds reported by Summary.
const (
	KindMalformedRecord     = "malformed_record"
	KindEmptyResult         = "empty_result"
	KindInsufficientMembers = "insufficient_members"
	KindOther               = "other"
)

// Diagnostic is a non-fatal problem recorded by a catalog step.
type Diagnostic struct {
	Step string
	Err  error
}

// Kind classifies the diagnostic.
func (d Diagnostic) Kind() string {
	var (
		malformed    *MalformedRecordError
		empty        *EmptyResultError
		insufficient *InsufficientMembersError
		restored     *restoredError
	)
	switch {
	case errors.As(d.Err, &malformed):
		return KindMalformedRecord
	case errors.As(d.Err, &empty):
		return KindEmptyResult
	case errors.As(d.Err, &insufficient):
		return KindInsufficientMembers
	case errors.As(d.Err, &restored):
		return restored.kind
	default:
		return KindOther
	}
}

func (d Diagnostic) String() string {
	if d.Err == nil {
		return d.Step
	}
	return d.Step + ": " + d.Err.Error()
}

// restoredError stands in for a diagnostic loaded from a snapshot.
type restoredError struct {
	kind string
	msg  string
}

func (e *restoredError) Error() string { return e.msg }
