package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind labels a load failure for the run report and metrics.
type ErrorKind string

const (
	ErrKindConfig         ErrorKind = "config"
	ErrKindWatermarkStore ErrorKind = "watermark_store"
	ErrKindSourceSchema   ErrorKind = "source_schema"
	ErrKindWrite          ErrorKind = "write"
	ErrKindTimeout        ErrorKind = "timeout"
)

// ErrSourceTableAbsent signals that a configured table does not exist in the
// live source. The table is skipped, not failed.
var ErrSourceTableAbsent = errors.New("source table does not exist")

// SourceSchemaError reports that an allowlisted column is missing from the
// live source table. Not retryable until the catalog is corrected.
type SourceSchemaError struct {
	Table  string
	Column string
	Err    error
}

func (e *SourceSchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source schema drift on table %q: column %q: %v", e.Table, e.Column, e.Err)
	}
	return fmt.Sprintf("source schema drift on table %q: column %q no longer exists", e.Table, e.Column)
}

func (e *SourceSchemaError) Unwrap() error { return e.Err }

// WatermarkStoreError reports that the watermark store could not be read or
// written. The affected table fails before extraction (fail fast).
type WatermarkStoreError struct {
	Table string
	Op    string
	Err   error
}

func (e *WatermarkStoreError) Error() string {
	return fmt.Sprintf("watermark store %s failed for table %q: %v", e.Op, e.Table, e.Err)
}

func (e *WatermarkStoreError) Unwrap() error { return e.Err }

// WriteError reports a failed target write (constraint violation,
// connectivity). The watermark stays put so a retry resumes naturally.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("target write failed for table %q: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// KindOf classifies an error into the report taxonomy. Deadline and
// cancellation errors win over the wrapped kind so operators can tell a
// timeout apart from a genuine write failure.
func KindOf(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrKindTimeout
	}
	var sse *SourceSchemaError
	if errors.As(err, &sse) {
		return ErrKindSourceSchema
	}
	var wse *WatermarkStoreError
	if errors.As(err, &wse) {
		return ErrKindWatermarkStore
	}
	var we *WriteError
	if errors.As(err, &we) {
		return ErrKindWrite
	}
	return ErrKindWrite
}
