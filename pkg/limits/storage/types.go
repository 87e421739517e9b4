package storage

import (
	"context"
	"time"
)

// Backend defines the interface for ban persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Save persists a ban. An existing ban for the same client is replaced.
	Save(ctx context.Context, ban *Ban) error

	// Load retrieves the ban for a client.
	// Returns nil if no ban exists. Returns error on system failure.
	Load(ctx context.Context, clientID string) (*Ban, error)

	// Delete removes the ban for a client. No-op if none exists.
	Delete(ctx context.Context, clientID string) error

	// List returns every stored ban ordered by expiry.
	List(ctx context.Context) ([]*Ban, error)

	// Cleanup removes bans that expired before now.
	// Returns the number of bans deleted and any error.
	Cleanup(ctx context.Context, now time.Time) (int, error)

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Ban is a persisted temporary ban of a single client.
type Ban struct {
	// ClientID is the derived client address.
	ClientID string

	// Until is when the ban expires.
	Until time.Time

	// Count is the number of requests seen inside the window when the ban
	// was last extended.
	Count int

	// CreatedAt is when the ban was first stored.
	CreatedAt time.Time
}

// Active reports whether the ban is still in effect at now.
func (b *Ban) Active(now time.Time) bool {
	return b.Until.After(now)
}
