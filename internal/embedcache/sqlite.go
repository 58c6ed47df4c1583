// Package embedcache persists computed embeddings so unchanged chunks are not
// sent to the embedding service again.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a SQLite-backed embedding cache keyed by model and text hash.
type DB struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			model TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			dimensions INTEGER NOT NULL,
			vector BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (model, text_hash)
		);
	`)
	return err
}

// Get returns the cached vector for text under model.
func (d *DB) Get(ctx context.Context, model, text string) ([]float64, bool, error) {
	var blob []byte
	var dims int
	err := d.db.QueryRowContext(ctx, `
		SELECT dimensions, vector FROM embeddings WHERE model = ? AND text_hash = ?
	`, model, hashText(text)).Scan(&dims, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying embedding: %w", err)
	}
	vec, err := decodeVector(blob, dims)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Put stores vector for text under model, replacing any previous entry.
func (d *DB) Put(ctx context.Context, model, text string, vector []float64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (model, text_hash, dimensions, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, model, hashText(text), len(vector), encodeVector(vector), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	return n, err
}

// hashText computes a SHA256 hash of the chunk text.
func hashText(text string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte, dims int) ([]float64, error) {
	if len(b) != 8*dims {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes for %d dimensions", len(b), dims)
	}
	v := make([]float64, dims)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
