package upload

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// StateDB remembers which files were pushed so unchanged files are not resent.
type StateDB struct {
	db *sql.DB
}

// OpenStateDB opens (or creates) the SQLite state database at dir/push-state.db.
func OpenStateDB(ctx context.Context, dir string) (*StateDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "push-state.db"))
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS pushed_files (
		path      TEXT PRIMARY KEY,
		hash      TEXT NOT NULL,
		rows      INTEGER NOT NULL,
		pushed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	return &StateDB{db: db}, nil
}

// IsPushed reports whether relPath was pushed with the same content hash.
func (s *StateDB) IsPushed(ctx context.Context, relPath, hash string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM pushed_files WHERE path = ?`, relPath).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == hash, nil
}

// MarkPushed records a successful push of relPath.
func (s *StateDB) MarkPushed(ctx context.Context, relPath, hash string, rows int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pushed_files (path, hash, rows) VALUES (?, ?, ?)`,
		relPath, hash, rows,
	)
	return err
}

// Close closes the state database.
func (s *StateDB) Close() error {
	return s.db.Close()
}

// HashFile computes the SHA-256 hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
