package database

import "fmt"

// ConnectionError means the backend was unreachable or rejected credentials.
type ConnectionError struct {
	Backend Backend
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProvisionError means schema or index setup failed for a reason other than
// the target already existing.
type ProvisionError struct {
	Backend Backend
	Step    string
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: provision %s: %v", e.Backend, e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

type WriteError struct {
	Backend Backend
	Records int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: insert batch of %d: %v", e.Backend, e.Records, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type QueryError struct {
	Backend Backend
	Op      string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// DegradedRunError aborts a protocol whose failed operations exceeded the
// allowed share of planned operations.
type DegradedRunError struct {
	Test     TestType
	Failures int
	Planned  int
	Last     error
}

func (e *DegradedRunError) Error() string {
	return fmt.Sprintf("%s degraded: %d of %d planned operations failed, last: %v", e.Test, e.Failures, e.Planned, e.Last)
}

func (e *DegradedRunError) Unwrap() error { return e.Last }
