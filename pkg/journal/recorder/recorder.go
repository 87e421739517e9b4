// Package recorder queues journal entries and writes them to storage on a
// background goroutine so that connections never wait on the database.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/callisto/pkg/journal"
)

// Config contains configuration for the recorder.
type Config struct {
	// AsyncBuffer is the size of the write queue.
	// Default: 1024
	AsyncBuffer int

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		AsyncBuffer:  1024,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes entries asynchronously.
type Recorder struct {
	storage   journal.Storage
	config    *Config
	entries   chan *journal.Entry
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	written atomic.Int64
	dropped atomic.Int64
}

// NewRecorder starts a recorder writing to storage.
func NewRecorder(storage journal.Storage, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		entries: make(chan *journal.Entry, config.AsyncBuffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "journal.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Debug("journal recorder started",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Record queues entry for writing. It never blocks: when the queue is full
// or the recorder is closed the entry is dropped and an error returned.
// ID and Time are filled in when empty.
func (r *Recorder) Record(ctx context.Context, entry *journal.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	select {
	case <-r.done:
		r.dropped.Add(1)
		return journal.NewRecorderError(entry.ID, journal.ErrClosed)
	default:
	}

	select {
	case r.entries <- entry:
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Warn("journal queue full, dropping entry",
			"entry_id", entry.ID,
			"queue_capacity", r.config.AsyncBuffer,
		)
		return journal.NewRecorderError(entry.ID, journal.ErrQueueFull)
	}
}

// Written returns the number of entries stored so far.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Dropped returns the number of entries that were never queued.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting entries, drains the queue and waits for the writer.
// The storage is not closed.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Debug("journal recorder stopped",
			"written", r.written.Load(),
			"dropped", r.dropped.Load(),
		)
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case entry := <-r.entries:
			r.write(entry)

		case <-r.done:
			for {
				select {
				case entry := <-r.entries:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *journal.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, entry); err != nil {
		r.logger.Error("failed to store journal entry",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}
	r.written.Add(1)

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow journal write",
			"entry_id", entry.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}
