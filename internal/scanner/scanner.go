// Package scanner discovers candidate image files under one or more roots.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/config"
)

// Scanner traverses root directories and yields the deduplicated candidate
// path list. Each Scan call is a fresh traversal.
type Scanner struct {
	extensions map[string]struct{}
	excluded   []string // lowercased tokens
	minBytes   int64
	maxBytes   int64
	logger     *zap.Logger // optional; when set, logs skipped directories
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets a logger for debug output (unreadable directories, pruned folders).
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a scanner from the scan configuration.
func New(cfg *config.ScanConfig, opts ...Option) *Scanner {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	excluded := make([]string, 0, len(cfg.ExcludedFolders))
	for _, tok := range cfg.ExcludedFolders {
		if tok != "" {
			excluded = append(excluded, strings.ToLower(tok))
		}
	}
	s := &Scanner{
		extensions: exts,
		excluded:   excluded,
		minBytes:   int64(cfg.MinFileSizeKB) * 1024,
		maxBytes:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks every root and returns each accepted path exactly once, in
// order of first encounter. Unreadable directories are treated as empty;
// files that cannot be stat-ed are skipped. onProgress, when non-nil, is
// called every 100 visited directories with (directories, files found).
// Cancellation via ctx is checked at every directory and file boundary and
// returns ctx.Err(); the partial result must be discarded by the caller.
func (s *Scanner) Scan(ctx context.Context, roots []string, onProgress func(dirs, found int)) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	dirs := 0

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absRoot); err != nil {
			continue
		}
		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				// Unreadable directory or entry: treat as empty, keep going.
				if s.logger != nil {
					s.logger.Debug("scan skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
				}
				return nil
			}
			if d.IsDir() {
				if s.excludedDir(d.Name()) {
					if s.logger != nil {
						s.logger.Debug("scan pruning excluded folder", zap.String("path", path))
					}
					return fs.SkipDir
				}
				dirs++
				if onProgress != nil && dirs%100 == 0 {
					onProgress(dirs, len(out))
				}
				return nil
			}
			if !s.allowedExt(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				// Stat failure on a file is not an abort condition.
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			if info.Size() < s.minBytes || info.Size() > s.maxBytes {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if onProgress != nil {
		onProgress(dirs, len(out))
	}
	return out, nil
}

// excludedDir reports whether a directory's own name contains any exclusion
// token, case-insensitively.
func (s *Scanner) excludedDir(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range s.excluded {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func (s *Scanner) allowedExt(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	_, ok := s.extensions[ext]
	return ok
}
