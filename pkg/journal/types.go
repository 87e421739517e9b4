package journal

import (
	"context"
	"io"
	"time"
)

// Entry is the record of one answered request: where it came from, what the
// rule cascade decided and how it was answered.
type Entry struct {
	// Identity
	ID           string `json:"id"`            // UUID v4
	ConnectionID string `json:"connection_id"` // Connection the request arrived on
	Sequence     int    `json:"sequence"`      // Request number on the connection, from 1

	// Timestamps
	Time     time.Time     `json:"time"`     // When the head was complete
	Duration time.Duration `json:"duration"` // Until the response was written

	// Request
	ClientID string `json:"client_id"` // Derived client address
	Method   string `json:"method"`    // Empty when the request line was rejected
	Path     string `json:"path"`      // Normalized request path
	Target   string `json:"target"`    // File served or executed, relative to the root

	// Decision
	Admission  string `json:"admission"`   // "allowed", "banned"
	RuleAction string `json:"rule_action"` // Action of the rule that fired, empty when none
	RuleRoot   string `json:"rule_root"`   // Directory of the rule file
	RuleToken  string `json:"rule_token"`  // Include token that matched

	// Response
	Kind   string `json:"kind"`   // "status", "redirect", "static", "script"
	Status int    `json:"status"` // Zero when a sandbox worker answered
	Bytes  int64  `json:"bytes"`  // Bytes written by the front end

	// Sandbox
	WorkerID   string `json:"worker_id,omitempty"`
	WorkerExit int    `json:"worker_exit,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Query defines filter parameters for querying entries.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	ClientID   string `json:"client_id,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
	RuleAction string `json:"rule_action,omitempty"`
	Kind       string `json:"kind,omitempty"`

	// Status range, zero means unbounded
	MinStatus int `json:"min_status,omitempty"`
	MaxStatus int `json:"max_status,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder is "asc" or "desc" on Time. Default: "desc"
	SortOrder string `json:"sort_order,omitempty"`
}

// Storage defines the interface for journal backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// Store persists an entry.
	Store(ctx context.Context, entry *Entry) error

	// Query retrieves entries matching the query filters.
	// Returns an empty slice if no entries match.
	Query(ctx context.Context, query *Query) ([]*Entry, error)

	// Count returns the number of entries matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes entries matching the query filters and returns how
	// many were removed. Pagination fields are ignored.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Exporter writes entries to w in some format.
type Exporter interface {
	Export(ctx context.Context, entries []*Entry, w io.Writer) error
}
