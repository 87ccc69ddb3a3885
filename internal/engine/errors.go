package engine

import "fmt"

// QueryError is a source fetch failure: bad tracking column, timeout,
// or missing permission. Fatal to the table's current pass only; the
// watermark stays put so the next run retries the same window.
type QueryError struct {
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// WriteError is a destination upsert failure partway through a batch.
// The surrounding transaction rolls back, so a retry re-delivers the
// whole window idempotently.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
