package journal

import "fmt"

const (
	// DefaultLimit is the number of entries returned when Limit is unset.
	DefaultLimit = 100

	// MaxLimit is the largest Limit a query may ask for.
	MaxLimit = 10000
)

// Validate checks q and returns a *QueryError describing the first problem.
func Validate(q *Query) error {
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	if q.MinStatus != 0 && q.MaxStatus != 0 && q.MinStatus > q.MaxStatus {
		return NewQueryError(q, fmt.Errorf("min_status must be <= max_status"))
	}
	return nil
}

// ApplyDefaults fills in the default limit and sort order.
func ApplyDefaults(q *Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
