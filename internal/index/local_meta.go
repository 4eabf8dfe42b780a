package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Keys of the index_meta table.
const (
	metaKeyDimensions = "dimensions"
	metaKeyModel      = "embedding_model"
)

// passage is one stored row.
type passage struct {
	ID         string
	Seq        int64
	Text       string
	ChunkIndex int
	Length     int
}

// metaStore keeps passages, their embeddings and the index meta in SQLite.
// It is the source of truth of the local backend: the lexical and vector
// indexes can be rebuilt from it.
type metaStore struct {
	db   *sql.DB
	path string
}

// validateMetaIntegrity checks an existing database before opening it.
func validateMetaIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// openMetaStore opens or creates the database. An empty path opens an
// in-memory database.
func openMetaStore(path string) (*metaStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := validateMetaIntegrity(path); err != nil {
			// Passages cannot be recovered from the other indexes, so a
			// corrupt database is reported rather than cleared.
			return nil, fmt.Errorf("passage store %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &metaStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *metaStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		id          TEXT PRIMARY KEY,
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		length      INTEGER NOT NULL DEFAULT 0,
		embedding   BLOB
	);

	CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// put upserts passages with their embeddings in one transaction. seq is
// assigned in insertion order and keeps its value on update.
func (s *metaStore) put(ctx context.Context, docs []Document) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM passages`).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, seq, text, chunk_index, length, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			chunk_index = excluded.chunk_index,
			length = excluded.length,
			embedding = excluded.embedding
		RETURNING seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	seqs := make([]int64, len(docs))
	for i, d := range docs {
		if err := stmt.QueryRowContext(ctx, d.ID, next, d.Text, d.ChunkIndex, d.Length,
			encodeVector(d.Embedding)).Scan(&seqs[i]); err != nil {
			return nil, fmt.Errorf("failed to store passage %s: %w", d.ID, err)
		}
		if seqs[i] == next {
			next++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return seqs, nil
}

// get loads passages by id. Unknown ids are absent from the map.
func (s *metaStore) get(ctx context.Context, ids []string) (map[string]passage, error) {
	out := make(map[string]passage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	stmt, err := s.db.PrepareContext(ctx,
		`SELECT id, seq, text, chunk_index, length FROM passages WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare select: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		var p passage
		err := stmt.QueryRowContext(ctx, id).Scan(&p.ID, &p.Seq, &p.Text, &p.ChunkIndex, &p.Length)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load passage %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

// count returns the number of stored passages.
func (s *metaStore) count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

// allIDs returns every passage id.
func (s *metaStore) allIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM passages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// eachEmbedding calls fn for every stored embedding in insertion order.
func (s *metaStore) eachEmbedding(ctx context.Context, fn func(id string, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM passages WHERE embedding IS NOT NULL ORDER BY seq`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("passage %s: %w", id, err)
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *metaStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// getMeta returns "" for a missing key.
func (s *metaStore) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// dimensions returns the recorded dimension, 0 when the index was never
// created.
func (s *metaStore) dimensions(ctx context.Context) (int, error) {
	v, err := s.getMeta(ctx, metaKeyDimensions)
	if err != nil || v == "" {
		return 0, err
	}
	dims, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", v, err)
	}
	return dims, nil
}

// reset drops all passages and meta.
func (s *metaStore) reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM passages`, `DELETE FROM index_meta`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *metaStore) close() error {
	if err := s.db.Close(); err != nil {
		slog.Warn("passage_store_close_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// encodeVector stores float32s little-endian.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 vector", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
