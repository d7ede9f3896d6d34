package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const backendSQLite = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name     TEXT PRIMARY KEY,
	size     INTEGER NOT NULL,
	distance TEXT NOT NULL,
	next_seq INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	file_path  TEXT NOT NULL,
	payload    TEXT NOT NULL,
	vector     BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_points_file ON points(collection, file_path);
`

// SQLiteStore implements VectorStore on a single SQLite file with
// brute-force scoring.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool
}

var _ VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path. An empty path is in-memory.
// A file failing the integrity check is cleared and recreated.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	logger = logging.WithSource(logger, "store.sqlite")

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storeErr(backendSQLite, "open", err)
		}
		dsn = path
	}

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, storeErr(backendSQLite, "open", err)
	}
	if path != "" {
		if verr := checkIntegrity(db); verr != nil {
			logger.Warn("sqlite store corrupt, clearing",
				slog.String("path", path),
				slog.String("error", verr.Error()))
			_ = db.Close()
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return nil, cierrors.New(cierrors.ErrCodeCorruptIndex,
						fmt.Sprintf("vector store %s is corrupt and cannot be removed", path), err)
				}
			}
			if db, err = openSQLite(dsn); err != nil {
				return nil, storeErr(backendSQLite, "open", err)
			}
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, storeErr(backendSQLite, "migrate", err)
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, err
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

func checkIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (s *SQLiteStore) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

type sqliteMeta struct {
	size     int
	distance Distance
	nextSeq  uint64
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadMeta(ctx context.Context, q queryer, name string) (sqliteMeta, error) {
	var m sqliteMeta
	var dist string
	err := q.QueryRowContext(ctx,
		`SELECT size, distance, next_seq FROM collections WHERE name = ?`, name).
		Scan(&m.size, &dist, &m.nextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	m.distance = Distance(dist)
	return m, err
}

// EnsureCollection creates the collection if absent.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return storeErr(backendSQLite, "ensure_collection", err)
	}

	m, err := loadMeta(ctx, s.db, name)
	switch {
	case err == nil:
		if m.size != vectorSize {
			return &cierrors.SchemaMismatchError{Collection: name, Existing: m.size, Requested: vectorSize}
		}
		return nil
	case !errors.Is(err, ErrCollectionNotFound):
		return storeErr(backendSQLite, "ensure_collection", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, size, distance, next_seq) VALUES (?, ?, ?, 0)`,
		name, vectorSize, string(distance)); err != nil {
		return storeErr(backendSQLite, "ensure_collection", err)
	}
	s.logger.Info("collection created",
		slog.String("collection", name),
		slog.Int("vector_size", vectorSize),
		slog.String("distance", string(distance)))
	return nil
}

// Upsert writes points in one transaction. Existing rows keep their seq.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := loadMeta(ctx, tx, collection)
	if err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}
	for _, p := range points {
		if len(p.Vector) != m.size {
			return storeErr(backendSQLite, "upsert", ErrDimensionMismatch{Expected: m.size, Got: len(p.Vector)})
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (collection, id, seq, file_path, payload, vector)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			file_path = excluded.file_path,
			payload   = excluded.payload,
			vector    = excluded.vector`)
	if err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return storeErr(backendSQLite, "upsert", err)
		}
		// Only consumed when the row is new.
		seq := m.nextSeq
		var existing uint64
		err = tx.QueryRowContext(ctx,
			`SELECT seq FROM points WHERE collection = ? AND id = ?`, collection, p.ID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			m.nextSeq++
		case err != nil:
			return storeErr(backendSQLite, "upsert", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, p.ID, seq, p.Payload.FilePath,
			string(payload), encodeVector(p.Vector)); err != nil {
			return storeErr(backendSQLite, "upsert", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE collections SET next_seq = ? WHERE name = ?`, m.nextSeq, collection); err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(backendSQLite, "upsert", err)
	}
	return nil
}

// DeleteByFilePath removes every point of filePath.
func (s *SQLiteStore) DeleteByFilePath(ctx context.Context, collection, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return storeErr(backendSQLite, "delete", err)
	}
	if _, err := loadMeta(ctx, s.db, collection); err != nil {
		return storeErr(backendSQLite, "delete", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM points WHERE collection = ? AND file_path = ?`, collection, filePath); err != nil {
		return storeErr(backendSQLite, "delete", err)
	}
	return nil
}

type sqliteRow struct {
	point Point
	seq   uint64
}

func (s *SQLiteStore) scan(ctx context.Context, query string, args ...any) ([]sqliteRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []sqliteRow
	for rows.Next() {
		var (
			r       sqliteRow
			payload string
			blob    []byte
		)
		if err := rows.Scan(&r.point.ID, &r.seq, &payload, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.point.Payload); err != nil {
			return nil, fmt.Errorf("point %s payload: %w", r.point.ID, err)
		}
		if r.point.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("point %s: %w", r.point.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PointsByFilePath returns the points of filePath in insertion order.
func (s *SQLiteStore) PointsByFilePath(ctx context.Context, collection, filePath string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, storeErr(backendSQLite, "scroll", err)
	}
	if _, err := loadMeta(ctx, s.db, collection); err != nil {
		return nil, storeErr(backendSQLite, "scroll", err)
	}
	rows, err := s.scan(ctx,
		`SELECT id, seq, payload, vector FROM points
		 WHERE collection = ? AND file_path = ? ORDER BY seq`, collection, filePath)
	if err != nil {
		return nil, storeErr(backendSQLite, "scroll", err)
	}
	out := make([]Point, len(rows))
	for i, r := range rows {
		out[i] = r.point
	}
	return out, nil
}

// Query scores every point of the collection against vector.
func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, storeErr(backendSQLite, "query", err)
	}
	m, err := loadMeta(ctx, s.db, collection)
	if err != nil {
		return nil, storeErr(backendSQLite, "query", err)
	}
	if len(vector) != m.size {
		return nil, storeErr(backendSQLite, "query", ErrDimensionMismatch{Expected: m.size, Got: len(vector)})
	}
	if topK <= 0 {
		return []Result{}, nil
	}

	rows, err := s.scan(ctx,
		`SELECT id, seq, payload, vector FROM points WHERE collection = ?`, collection)
	if err != nil {
		return nil, storeErr(backendSQLite, "query", err)
	}
	cands := make([]scored, 0, len(rows))
	for _, r := range rows {
		cands = append(cands, scored{
			result: Result{Point: r.point, Score: similarity(m.distance, vector, r.point.Vector)},
			seq:    r.seq,
		})
	}
	return rank(cands, topK), nil
}

// Count returns the number of points in the collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, storeErr(backendSQLite, "count", err)
	}
	if _, err := loadMeta(ctx, s.db, collection); err != nil {
		return 0, storeErr(backendSQLite, "count", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, storeErr(backendSQLite, "count", err)
	}
	return n, nil
}

// Health pings the database and lists collections.
func (s *SQLiteStore) Health(ctx context.Context) Health {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{Backend: backendSQLite}
	if err := s.check(); err != nil {
		h.Error = err.Error()
		h.Latency = time.Since(start)
		return h
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		h.Error = err.Error()
		h.Latency = time.Since(start)
		return h
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			h.Error = err.Error()
			h.Latency = time.Since(start)
			return h
		}
		h.Collections = append(h.Collections, name)
	}
	if err := rows.Err(); err != nil {
		h.Error = err.Error()
	} else {
		h.Healthy = true
	}
	h.Latency = time.Since(start)
	return h
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
