// Package store persists the (vector index, path list) snapshot as one
// consistent unit.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/vector"
)

const (
	vectorsFile = "vectors.bin"
	pathsFile   = "paths.db"
)

// ErrNotFound reports that no snapshot exists (either artifact is absent).
var ErrNotFound = errors.New("no index snapshot found")

// CorruptError reports an unreadable or inconsistent snapshot, such as the
// two artifacts disagreeing on count.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt index snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt index snapshot: %s", e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store reads and writes snapshots under a data directory. Each successful
// Persist replaces the previous snapshot wholesale; a failure partway
// through leaves the previous snapshot readable and consistent.
type Store struct {
	dataDir string
	logger  *zap.Logger // optional
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store rooted at dataDir. The directory is created on Persist.
func New(dataDir string, opts ...Option) *Store {
	s := &Store{dataDir: dataDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VectorsPath returns the location of the vector artifact.
func (s *Store) VectorsPath() string { return filepath.Join(s.dataDir, vectorsFile) }

// PathsPath returns the location of the path-list artifact.
func (s *Store) PathsPath() string { return filepath.Join(s.dataDir, pathsFile) }

// Persist writes idx and paths as a new snapshot. Both artifacts are written
// to temporary files and renamed into place, so a crash or error never
// leaves a half-written snapshot in place of a previous good one.
func (s *Store) Persist(ctx context.Context, idx *vector.FlatIndex, paths []string) error {
	if idx.Size() != len(paths) {
		return fmt.Errorf("vector count %d does not match path count %d", idx.Size(), len(paths))
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	vecTmp := s.VectorsPath() + ".tmp"
	dbTmp := s.PathsPath() + ".tmp"
	cleanup := func() {
		_ = os.Remove(vecTmp)
		_ = os.Remove(dbTmp)
	}

	if err := s.writeVectors(vecTmp, idx); err != nil {
		cleanup()
		return err
	}
	if err := s.writePaths(ctx, dbTmp, paths); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(vecTmp, s.VectorsPath()); err != nil {
		cleanup()
		return fmt.Errorf("replace vector artifact: %w", err)
	}
	if err := os.Rename(dbTmp, s.PathsPath()); err != nil {
		cleanup()
		return fmt.Errorf("replace path artifact: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("snapshot persisted",
			zap.Int("vectors", idx.Size()),
			zap.String("data_dir", s.dataDir))
	}
	return nil
}

func (s *Store) writeVectors(path string, idx *vector.FlatIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vector artifact: %w", err)
	}
	if _, err := idx.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write vector artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync vector artifact: %w", err)
	}
	return f.Close()
}

func (s *Store) writePaths(ctx context.Context, dbPath string, paths []string) error {
	// The driver would otherwise reopen a stale temp database.
	_ = os.Remove(dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("create path artifact: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE image_paths (
		id INTEGER PRIMARY KEY,
		path TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create path schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin path write: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO image_paths (id, path) VALUES (?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare path insert: %w", err)
	}
	for i, p := range paths {
		if _, err := stmt.ExecContext(ctx, i, p); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert path %d: %w", i, err)
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close path insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit path write: %w", err)
	}
	return nil
}

// Load reconstructs the snapshot. It fails with ErrNotFound when either
// artifact is absent, and with *CorruptError when either artifact is
// malformed or their counts disagree.
func (s *Store) Load(ctx context.Context) (*vector.FlatIndex, []string, error) {
	vecPath := s.VectorsPath()
	dbPath := s.PathsPath()
	if _, err := os.Stat(vecPath); err != nil {
		return nil, nil, fmt.Errorf("vector artifact %s: %w", vecPath, ErrNotFound)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, fmt.Errorf("path artifact %s: %w", dbPath, ErrNotFound)
	}

	f, err := os.Open(vecPath)
	if err != nil {
		return nil, nil, &CorruptError{Reason: "open vector artifact", Err: err}
	}
	defer f.Close()
	idx, err := vector.ReadFlatIndex(f)
	if err != nil {
		return nil, nil, &CorruptError{Reason: "read vector artifact", Err: err}
	}

	paths, err := s.readPaths(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}
	if idx.Size() != len(paths) {
		return nil, nil, &CorruptError{
			Reason: fmt.Sprintf("artifact counts disagree: %d vectors, %d paths", idx.Size(), len(paths)),
		}
	}
	return idx, paths, nil
}

func (s *Store) readPaths(ctx context.Context, dbPath string) ([]string, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, &CorruptError{Reason: "open path artifact", Err: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT path FROM image_paths ORDER BY id")
	if err != nil {
		return nil, &CorruptError{Reason: "query path artifact", Err: err}
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &CorruptError{Reason: "scan path row", Err: err}
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptError{Reason: "iterate path rows", Err: err}
	}
	return paths, nil
}

// Stats summarizes the persisted snapshot without loading vector contents.
type Stats struct {
	Count      int
	Dimensions int
	DiskBytes  int64
}

// Stats reads the vector artifact header and artifact sizes. Returns
// ErrNotFound / *CorruptError with the same semantics as Load.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	idx, _, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	disk, err := DiskUsageBytes(s.VectorsPath(), s.PathsPath())
	if err != nil {
		disk = 0
	}
	return &Stats{Count: idx.Size(), Dimensions: idx.Dimensions(), DiskBytes: disk}, nil
}
