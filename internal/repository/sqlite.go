// internal/repository/sqlite.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/vectorcached/internal/config"
	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_entries (
	scope_key   TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	content     TEXT    NOT NULL,
	embedding   TEXT    NOT NULL,
	category    TEXT    NOT NULL DEFAULT '',
	source_type TEXT    NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT    NOT NULL DEFAULT '{}',
	checksum    TEXT    NOT NULL DEFAULT '0',
	created_at  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scope_key, id)
)`

const sqliteScopeIndex = `
CREATE INDEX IF NOT EXISTS idx_vector_entries_scope ON vector_entries (scope_key)`

const sqliteEntryColumns = `id, content, embedding, category, source_type, priority, metadata, checksum, created_at`

// SQLiteRepository is an embedded authoritative store backed by the pure-Go
// SQLite driver. Checksums are stored as decimal text because they are
// unsigned 64-bit values, and timestamps as Unix nanoseconds to stay clear
// of driver time formatting.
type SQLiteRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Writer     = (*SQLiteRepository)(nil)
)

// NewSQLite opens or creates the database file and ensures the schema.
func NewSQLite(cfg config.SQLiteConfig, logger *zap.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	for _, stmt := range []string{sqliteSchema, sqliteScopeIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}

	logger.Debug("sqlite repository opened", zap.String("path", cfg.Path))
	return &SQLiteRepository{db: db, logger: logger}, nil
}

// LoadAll implements Repository using keyset pagination on the entry ID.
func (r *SQLiteRepository) LoadAll(ctx context.Context, key scope.Key, batchSize int, fn BatchFunc) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}

	query := fmt.Sprintf(`SELECT %s FROM vector_entries WHERE scope_key = ? AND id > ? ORDER BY id LIMIT ?`, sqliteEntryColumns)

	total := 0
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.queryEntries(ctx, query, key.String(), afterID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		if err := fn(ctx, batch); err != nil {
			return fmt.Errorf("deliver batch: %w", err)
		}

		total += len(batch)
		afterID = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			break
		}
	}

	if total == 0 {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, key)
	}
	r.logger.Debug("sqlite scope loaded", zap.String("scope", key.String()), zap.Int("entries", total))
	return nil
}

// Load implements Repository.
func (r *SQLiteRepository) Load(ctx context.Context, key scope.Key, ids []string) ([]*vectorcache.VectorEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`SELECT %s FROM vector_entries WHERE scope_key = ? AND id IN (%s) ORDER BY id`,
		sqliteEntryColumns, placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, key.String())
	for _, id := range ids {
		args = append(args, id)
	}

	return r.queryEntries(ctx, query, args...)
}

// Save implements Writer. Entries without an ID get a generated UUID, and
// zero checksums and creation times are filled in so the stored row is
// complete.
func (r *SQLiteRepository) Save(ctx context.Context, key scope.Key, entries []*vectorcache.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO vector_entries
(scope_key, id, content, embedding, category, source_type, priority, metadata, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e == nil {
			continue
		}
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %q: empty embedding", e.ID)
		}

		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		checksum := e.Checksum
		if checksum == 0 {
			checksum = vectorcache.ComputeChecksum(e.Content, e.Embedding)
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		embeddingJSON, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("entry %q: encode embedding: %w", id, err)
		}
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("entry %q: encode metadata: %w", id, err)
		}

		if _, err := stmt.ExecContext(ctx,
			key.String(), id, e.Content, string(embeddingJSON),
			e.Category, e.SourceType, e.Priority, string(metadataJSON),
			strconv.FormatUint(checksum, 10), createdAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("entry %q: upsert: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save transaction: %w", err)
	}
	return nil
}

// Delete implements Writer.
func (r *SQLiteRepository) Delete(ctx context.Context, key scope.Key, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`DELETE FROM vector_entries WHERE scope_key = ? AND id IN (%s)`, placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, key.String())
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// Ping implements Repository.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Repository.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// queryEntries runs a SELECT over the entry columns and decodes each row.
func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*vectorcache.VectorEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*vectorcache.VectorEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// scanEntry decodes one row into a fresh entry.
func scanEntry(rows *sql.Rows) (*vectorcache.VectorEntry, error) {
	entry := &vectorcache.VectorEntry{}
	var (
		embeddingJSON string
		metadataJSON  string
		checksumText  string
		createdNanos  int64
	)

	if err := rows.Scan(&entry.ID, &entry.Content, &embeddingJSON,
		&entry.Category, &entry.SourceType, &entry.Priority,
		&metadataJSON, &checksumText, &createdNanos); err != nil {
		return nil, fmt.Errorf("scan entry row: %w", err)
	}

	if err := json.Unmarshal([]byte(embeddingJSON), &entry.Embedding); err != nil {
		return nil, fmt.Errorf("entry %q: decode embedding: %w", entry.ID, err)
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("entry %q: decode metadata: %w", entry.ID, err)
		}
	}
	if checksumText != "" {
		checksum, err := strconv.ParseUint(checksumText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: decode checksum: %w", entry.ID, err)
		}
		entry.Checksum = checksum
	}
	if createdNanos > 0 {
		entry.CreatedAt = time.Unix(0, createdNanos).UTC()
	}
	return entry, nil
}
