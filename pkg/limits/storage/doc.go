// Package storage persists temporary client bans.
//
// Two backends implement Backend:
//
//   - Memory: fast, bounded, lost on exit (default)
//   - SQLite: file based, survives restarts
//
// # Usage
//
//	backend, err := storage.New(cfg.Limits.Storage)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	backend.Save(ctx, &storage.Ban{ClientID: "203.0.113.9", Until: time.Now().Add(time.Minute)})
//	bans, _ := backend.List(ctx)
//
// Expired bans are removed by Cleanup, which both backends also run
// periodically on their own.
package storage
