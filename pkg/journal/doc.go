// Package journal records the outcome of every request the front end
// answers. Each entry ties a client and path to the admission decision, the
// rule that fired and the response kind and status, which is what an
// operator needs when a client asks why it was refused.
//
// # Layout
//
//   - recorder: queues entries and writes them on a background goroutine
//   - storage: memory and SQLite backends
//   - retention: age based pruning on a cron schedule
//   - export: JSON and CSV writers used by the journal query command
//
// # Recording Flow
//
//	connection goroutine
//	     ↓
//	Recorder.Record (non-blocking, drops when the queue stays full)
//	     ↓
//	background writer
//	     ↓
//	Storage.Store
//
// The journal is off by default. Recording never delays a response.
package journal
