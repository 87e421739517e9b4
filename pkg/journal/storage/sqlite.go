package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/callisto/pkg/journal"
)

// SQLiteConfig contains configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/journal.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage stores entries in a SQLite database through the cgo driver.
// Times are stored as Unix nanoseconds so range filters compare integers.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStorage opens or creates the database and applies the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}

	logger := slog.Default().With("component", "journal.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, journal.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.insert, err = db.Prepare(`INSERT OR REPLACE INTO journal (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, journal.NewStorageError("sqlite", "prepare", err)
	}

	logger.Info("journal database opened",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return journal.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if s.config.BusyTimeout > 0 {
		pragma := fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())
		if _, err := s.db.Exec(pragma); err != nil {
			return journal.NewStorageError("sqlite", "set_busy_timeout", err)
		}
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return journal.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return journal.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return journal.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return journal.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store persists an entry.
func (s *SQLiteStorage) Store(ctx context.Context, e *journal.Entry) error {
	_, err := s.insert.ExecContext(ctx,
		e.ID, e.ConnectionID, e.Sequence, e.Time.UnixNano(), e.Duration.Microseconds(),
		e.ClientID, e.Method, e.Path, e.Target,
		e.Admission, nullString(e.RuleAction), nullString(e.RuleRoot), nullString(e.RuleToken),
		e.Kind, e.Status, e.Bytes,
		nullString(e.WorkerID), e.WorkerExit, nullString(e.Error),
	)
	if err != nil {
		return journal.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query retrieves entries matching the query.
func (s *SQLiteStorage) Query(ctx context.Context, query *journal.Query) ([]*journal.Entry, error) {
	where, args := buildWhereClause(query)

	sqlQuery := "SELECT " + columns + " FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	order := "DESC"
	if query.SortOrder == "asc" {
		order = "ASC"
	}
	sqlQuery += " ORDER BY time_ns " + order

	limit := journal.DefaultLimit
	if query.Limit > 0 {
		limit = query.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, journal.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*journal.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, journal.NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, journal.NewStorageError("sqlite", "query", err)
	}
	return entries, nil
}

// Count returns the number of entries matching the query.
func (s *SQLiteStorage) Count(ctx context.Context, query *journal.Query) (int64, error) {
	where, args := buildWhereClause(query)

	sqlQuery := "SELECT COUNT(*) FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, journal.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes entries matching the query.
func (s *SQLiteStorage) Delete(ctx context.Context, query *journal.Query) (int64, error) {
	where, args := buildWhereClause(query)

	sqlQuery := "DELETE FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, journal.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, journal.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Close releases the statement and the database handle.
func (s *SQLiteStorage) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	if err := s.db.Close(); err != nil {
		return journal.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("journal database closed")
	return nil
}

func buildWhereClause(query *journal.Query) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if query.StartTime != nil {
		conditions = append(conditions, "time_ns >= ?")
		args = append(args, query.StartTime.UnixNano())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "time_ns <= ?")
		args = append(args, query.EndTime.UnixNano())
	}
	if query.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, query.ClientID)
	}
	if query.PathPrefix != "" {
		conditions = append(conditions, "substr(path, 1, ?) = ?")
		args = append(args, len(query.PathPrefix), query.PathPrefix)
	}
	if query.RuleAction != "" {
		conditions = append(conditions, "rule_action = ?")
		args = append(args, query.RuleAction)
	}
	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, query.Kind)
	}
	if query.MinStatus != 0 {
		conditions = append(conditions, "status >= ?")
		args = append(args, query.MinStatus)
	}
	if query.MaxStatus != 0 {
		conditions = append(conditions, "status <= ?")
		args = append(args, query.MaxStatus)
	}

	return strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (*journal.Entry, error) {
	var (
		e                    journal.Entry
		timeNs, durationUs   int64
		method, path, target sql.NullString
		action, root, token  sql.NullString
		workerID, errText    sql.NullString
		workerExit           sql.NullInt64
	)

	err := rows.Scan(
		&e.ID, &e.ConnectionID, &e.Sequence, &timeNs, &durationUs,
		&e.ClientID, &method, &path, &target,
		&e.Admission, &action, &root, &token,
		&e.Kind, &e.Status, &e.Bytes,
		&workerID, &workerExit, &errText,
	)
	if err != nil {
		return nil, err
	}

	e.Time = time.Unix(0, timeNs)
	e.Duration = time.Duration(durationUs) * time.Microsecond
	e.Method = method.String
	e.Path = path.String
	e.Target = target.String
	e.RuleAction = action.String
	e.RuleRoot = root.String
	e.RuleToken = token.String
	e.WorkerID = workerID.String
	e.WorkerExit = int(workerExit.Int64)
	e.Error = errText.String
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
