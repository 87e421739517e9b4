package ratelimit

import (
	"context"
	"time"

	"mercator-hq/callisto/pkg/limits/storage"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Allowed means the request may proceed.
	Allowed Decision = iota
	// Banned means the client is inside an active ban and gets 429.
	Banned
)

// String returns the decision name.
func (d Decision) String() string {
	if d == Banned {
		return "banned"
	}
	return "allowed"
}

// Admitter decides whether a client may issue a request.
// Implementations must be safe for concurrent use.
type Admitter interface {
	// Admit records a request from clientID at now and reports whether the
	// client is admitted.
	Admit(clientID string, now time.Time) Result

	// Reset forgets all state for clientID, lifting any ban.
	Reset(clientID string)
}

// Config configures a BanLimiter.
type Config struct {
	// Threshold is the number of requests allowed inside Window. One more
	// request bans the client.
	Threshold int

	// Window is the trailing window requests are counted in.
	Window time.Duration

	// BanDuration is how long a triggered ban lasts. Each request above the
	// threshold pushes the expiry out again.
	BanDuration time.Duration

	// MaxClients bounds the number of tracked clients.
	MaxClients int

	// Shards is the number of independently locked tables.
	Shards int

	// CleanupInterval is how often dormant clients are dropped. Zero
	// disables the background loop.
	CleanupInterval time.Duration
}

// Result contains the result of an admission check.
type Result struct {
	// Decision is Allowed or Banned.
	Decision Decision

	// Count is the number of requests inside the window, including this one.
	Count int

	// BannedUntil is the ban expiry. Zero when the client was never banned.
	BannedUntil time.Time

	// NewBan is true when this request moved the client from unbanned to
	// banned.
	NewBan bool

	// RetryAfter is how long the client has to wait when banned.
	RetryAfter time.Duration
}

// BanStore persists bans across restarts. storage.Backend satisfies it.
type BanStore interface {
	Save(ctx context.Context, ban *storage.Ban) error
	Delete(ctx context.Context, clientID string) error
	List(ctx context.Context) ([]*storage.Ban, error)
}
