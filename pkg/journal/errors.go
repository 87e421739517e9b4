package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is the cause of entries recorded after Close.
	ErrClosed = errors.New("journal closed")

	// ErrQueueFull is the cause of entries that found the write queue full.
	ErrQueueFull = errors.New("journal queue full")
)

// StorageError wraps a failure of a storage backend.
type StorageError struct {
	Backend   string // "memory" or "sqlite"
	Operation string // "store", "query", "count", "delete", ...
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("journal %s: %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError returns a StorageError for op on backend.
func NewStorageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: op, Cause: cause}
}

// QueryError reports a query rejected by Validate.
type QueryError struct {
	Query *Query
	Cause error
}

func (e *QueryError) Error() string { return "invalid journal query: " + e.Cause.Error() }

func (e *QueryError) Unwrap() error { return e.Cause }

// NewQueryError returns a QueryError for q.
func NewQueryError(q *Query, cause error) *QueryError {
	return &QueryError{Query: q, Cause: cause}
}

// RecorderError reports an entry the recorder dropped.
type RecorderError struct {
	EntryID string
	Cause   error
}

func (e *RecorderError) Error() string {
	if e.EntryID == "" {
		return "journal entry dropped: " + e.Cause.Error()
	}
	return fmt.Sprintf("journal entry %s dropped: %v", e.EntryID, e.Cause)
}

func (e *RecorderError) Unwrap() error { return e.Cause }

// NewRecorderError returns a RecorderError for the entry with id.
func NewRecorderError(id string, cause error) *RecorderError {
	return &RecorderError{EntryID: id, Cause: cause}
}

// RetentionError reports a failed prune.
type RetentionError struct {
	RetentionDays int
	Cause         error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("journal prune (retention %dd): %v", e.RetentionDays, e.Cause)
}

func (e *RetentionError) Unwrap() error { return e.Cause }

// NewRetentionError returns a RetentionError.
func NewRetentionError(days int, cause error) *RetentionError {
	return &RetentionError{RetentionDays: days, Cause: cause}
}

// ExportError reports a failed export of count entries.
type ExportError struct {
	Format     string
	EntryCount int
	Cause      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("journal export to %s (%d entries): %v", e.Format, e.EntryCount, e.Cause)
}

func (e *ExportError) Unwrap() error { return e.Cause }

// NewExportError returns an ExportError.
func NewExportError(format string, count int, cause error) *ExportError {
	return &ExportError{Format: format, EntryCount: count, Cause: cause}
}
