package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // driver
)

// SQLiteStore persists jobs in a SQLite database so job status survives a
// restart. Each job is stored as a JSON document keyed by ID; atomicity of
// Update comes from a transaction around the read-modify-write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs the schema
// migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping jobs db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate jobs db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		)
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, job Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO jobs (id, doc) VALUES (?, ?)", job.ID, string(doc))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT doc FROM jobs WHERE id = ?", id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("load job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Job)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT doc FROM jobs WHERE id = ?", id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	fn(&job)

	out, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE jobs SET doc = ? WHERE id = ?", string(out), id); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return tx.Commit()
}
