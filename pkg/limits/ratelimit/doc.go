// Package ratelimit decides which requests are admitted.
//
// # Overview
//
// Two limiters live here:
//
//   - BanLimiter: per-client sliding log with temporary bans
//   - ConcurrentLimiter: bound on simultaneously running sandbox jobs
//
// # Bans
//
// A client sending more than Threshold requests inside Window is banned for
// BanDuration. Every request from a banned client is refused with 429 and
// counts toward the window, so the ban keeps renewing while the flood
// continues:
//
//	limiter := ratelimit.NewBanLimiter(ratelimit.Config{
//	    Threshold:   100,
//	    Window:      10 * time.Second,
//	    BanDuration: time.Minute,
//	})
//	defer limiter.Close()
//
//	if res := limiter.Admit(clientIP, time.Now()); res.Decision == ratelimit.Banned {
//	    // respond 429
//	}
//
// Bans can be persisted through WithStore and brought back with Restore.
//
// # Concurrent Limiter
//
//	jobs := ratelimit.NewConcurrentLimiter(32)
//	if jobs.Acquire() {
//	    defer jobs.Release()
//	    // run the job
//	}
package ratelimit
