package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps entries in a single sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	const query = `
        SELECT entry_id, domain, title, unique_id, source, data, state, reason, created_at, updated_at
        FROM config_entries
        ORDER BY created_at, entry_id;
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	const query = `
        SELECT entry_id, domain, title, unique_id, source, data, state, reason, created_at, updated_at
        FROM config_entries
        WHERE entry_id = ?;
    `

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

func (s *SQLiteStore) Put(ctx context.Context, entry Entry) error {
	const query = `
        INSERT INTO config_entries (entry_id, domain, title, unique_id, source, data, state, reason, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(entry_id) DO UPDATE SET
            domain = excluded.domain,
            title = excluded.title,
            unique_id = excluded.unique_id,
            source = excluded.source,
            data = excluded.data,
            state = excluded.state,
            reason = excluded.reason,
            updated_at = excluded.updated_at;
    `

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encoding entry data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Domain,
		entry.Title,
		entry.UniqueID,
		string(entry.Source),
		string(data),
		string(entry.State),
		entry.Reason,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE entry_id = ?;`, id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		source    string
		data      string
		state     string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&entry.ID, &entry.Domain, &entry.Title, &entry.UniqueID, &source, &data, &state, &entry.Reason, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning entry: %w", err)
	}
	entry.Source = Source(source)
	entry.State = State(state)
	if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
		return Entry{}, fmt.Errorf("decoding entry data: %w", err)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return entry, nil
}

func migrate(db *sql.DB) error {
	const createEntriesTable = `
        CREATE TABLE IF NOT EXISTS config_entries (
            entry_id TEXT PRIMARY KEY,
            domain TEXT NOT NULL,
            title TEXT NOT NULL,
            unique_id TEXT NOT NULL,
            source TEXT NOT NULL,
            data TEXT NOT NULL,
            state TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );
    `

	const createUniqueIndex = `
        CREATE UNIQUE INDEX IF NOT EXISTS config_entries_domain_unique
        ON config_entries (domain, unique_id)
        WHERE unique_id != '';
    `

	if _, err := db.Exec(createEntriesTable); err != nil {
		return fmt.Errorf("creating config_entries table: %w", err)
	}

	if _, err := db.Exec(createUniqueIndex); err != nil {
		return fmt.Errorf("creating config_entries index: %w", err)
	}

	return nil
}
