// Package storage provides journal backends.
//
// MemoryStorage is the default and keeps entries for the life of the
// process. SQLiteStorage uses github.com/mattn/go-sqlite3 with WAL mode and
// survives restarts; it is what the journal query command reads.
package storage
