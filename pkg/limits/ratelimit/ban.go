package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/callisto/pkg/limits/storage"
)

// BanLimiter is a per-client sliding log of request timestamps with
// temporary bans.
//
// # Algorithm
//
//  1. Append now to the client's timestamps
//  2. Drop timestamps at or before now - Window
//  3. If more than Threshold remain, ban until now + BanDuration
//  4. Reject while the ban expiry lies in the future
//
// Bans are not lifted early when traffic drops, and banned clients keep
// accumulating timestamps, so a client that keeps hammering stays banned.
//
// # Memory
//
// Only the newest Threshold+1 timestamps are kept per client; older ones
// cannot change the outcome. The table is bounded by MaxClients, evicting
// the least recently seen client that is not banned; banned clients are
// never evicted, so the bound is exceeded only by active bans. A cleanup
// loop drops clients whose window and ban have both lapsed.
//
// # Thread Safety
//
// Clients are spread over independently locked shards.
type BanLimiter struct {
	cfg         Config
	shards      []*shard
	perShardMax int

	store   BanStore
	persist chan persistOp

	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type shard struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

// clientState is the rate state of one client.
type clientState struct {
	hits        []time.Time
	bannedUntil time.Time
	lastSeen    time.Time
}

type persistOp struct {
	ban    *storage.Ban
	delete string
}

// Option configures a BanLimiter.
type Option func(*BanLimiter)

// WithStore persists bans to store. Writes happen on a background
// goroutine and are dropped when the queue is full.
func WithStore(store BanStore) Option {
	return func(l *BanLimiter) {
		l.store = store
	}
}

// NewBanLimiter creates a limiter. Zero config values fall back to one
// shard, no client bound and no cleanup loop.
func NewBanLimiter(cfg Config, opts ...Option) *BanLimiter {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}

	l := &BanLimiter{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		logger: slog.Default().With("component", "ratelimit"),
		done:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{clients: make(map[string]*clientState)}
	}
	if cfg.MaxClients > 0 {
		l.perShardMax = (cfg.MaxClients + cfg.Shards - 1) / cfg.Shards
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.store != nil {
		l.persist = make(chan persistOp, 1024)
		l.wg.Add(1)
		go l.persistLoop()
	}

	if cfg.CleanupInterval > 0 {
		l.wg.Add(1)
		go l.cleanupLoop()
	}

	return l
}

// Admit records a request and reports whether clientID is admitted.
func (l *BanLimiter) Admit(clientID string, now time.Time) Result {
	sh := l.shardFor(clientID)

	sh.mu.Lock()
	st, ok := sh.clients[clientID]
	if !ok {
		if l.perShardMax > 0 && len(sh.clients) >= l.perShardMax {
			sh.evictLocked(now)
		}
		st = &clientState{}
		sh.clients[clientID] = st
	}

	st.lastSeen = now
	st.hits = append(st.hits, now)
	st.prune(now.Add(-l.cfg.Window), l.cfg.Threshold+1)

	wasBanned := st.bannedUntil.After(now)
	over := len(st.hits) > l.cfg.Threshold
	if over {
		st.bannedUntil = now.Add(l.cfg.BanDuration)
	}

	res := Result{
		Decision:    Allowed,
		Count:       len(st.hits),
		BannedUntil: st.bannedUntil,
	}
	if st.bannedUntil.After(now) {
		res.Decision = Banned
		res.RetryAfter = st.bannedUntil.Sub(now)
		res.NewBan = !wasBanned
	}
	sh.mu.Unlock()

	if res.NewBan {
		l.logger.Warn("client banned",
			"client", clientID,
			"count", res.Count,
			"until", res.BannedUntil,
		)
	}
	if over {
		l.enqueue(persistOp{ban: &storage.Ban{ClientID: clientID, Until: res.BannedUntil, Count: res.Count}})
	}

	return res
}

// Reset forgets clientID and lifts its ban.
func (l *BanLimiter) Reset(clientID string) {
	sh := l.shardFor(clientID)
	sh.mu.Lock()
	delete(sh.clients, clientID)
	sh.mu.Unlock()

	l.enqueue(persistOp{delete: clientID})
}

// Restore loads still active bans from the store into the table. It is
// meant to be called once at startup.
func (l *BanLimiter) Restore(ctx context.Context, now time.Time) (int, error) {
	if l.store == nil {
		return 0, nil
	}

	bans, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, ban := range bans {
		if !ban.Active(now) {
			continue
		}
		sh := l.shardFor(ban.ClientID)
		sh.mu.Lock()
		st, ok := sh.clients[ban.ClientID]
		if !ok {
			st = &clientState{lastSeen: now}
			sh.clients[ban.ClientID] = st
		}
		if ban.Until.After(st.bannedUntil) {
			st.bannedUntil = ban.Until
		}
		sh.mu.Unlock()
		restored++
	}

	if restored > 0 {
		l.logger.Info("restored bans", "count", restored)
	}
	return restored, nil
}

// Len returns the number of tracked clients.
func (l *BanLimiter) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.clients)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup drops clients with no timestamps inside the window and no active
// ban. It returns the number of clients dropped.
func (l *BanLimiter) Cleanup(now time.Time) int {
	cutoff := now.Add(-l.cfg.Window)
	dropped := 0

	for _, sh := range l.shards {
		sh.mu.Lock()
		for id, st := range sh.clients {
			st.prune(cutoff, l.cfg.Threshold+1)
			if len(st.hits) == 0 && !st.bannedUntil.After(now) {
				delete(sh.clients, id)
				dropped++
			}
		}
		sh.mu.Unlock()
	}

	return dropped
}

// Close stops the background goroutines and flushes pending store writes.
func (l *BanLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}

func (l *BanLimiter) shardFor(clientID string) *shard {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

func (l *BanLimiter) enqueue(op persistOp) {
	if l.persist == nil {
		return
	}
	select {
	case l.persist <- op:
	default:
		l.logger.Debug("ban persistence queue full, dropping write")
	}
}

func (l *BanLimiter) persistLoop() {
	defer l.wg.Done()

	for {
		select {
		case op := <-l.persist:
			l.apply(op)
		case <-l.done:
			for {
				select {
				case op := <-l.persist:
					l.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (l *BanLimiter) apply(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.ban != nil {
		err = l.store.Save(ctx, op.ban)
	} else {
		err = l.store.Delete(ctx, op.delete)
	}
	if err != nil {
		l.logger.Error("failed to persist ban", "error", err)
	}
}

func (l *BanLimiter) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := l.Cleanup(now); n > 0 {
				l.logger.Debug("dropped dormant clients", "count", n)
			}
		case <-l.done:
			return
		}
	}
}

// prune drops timestamps at or before cutoff and keeps at most max of the
// newest ones.
func (st *clientState) prune(cutoff time.Time, max int) {
	i := 0
	for i < len(st.hits) && !st.hits[i].After(cutoff) {
		i++
	}
	if over := len(st.hits) - i - max; max > 0 && over > 0 {
		i += over
	}
	if i > 0 {
		st.hits = append(st.hits[:0], st.hits[i:]...)
	}
}

// evictLocked removes the least recently seen client that is not banned
// at now. When every client is banned nothing is removed and the shard
// grows past its bound until the bans lapse.
// Caller must hold the shard lock.
func (sh *shard) evictLocked(now time.Time) {
	var (
		oldestID string
		oldest   time.Time
		found    bool
	)
	for id, st := range sh.clients {
		if st.bannedUntil.After(now) {
			continue
		}
		if !found || st.lastSeen.Before(oldest) {
			oldestID = id
			oldest = st.lastSeen
			found = true
		}
	}
	if found {
		delete(sh.clients, oldestID)
	}
}
