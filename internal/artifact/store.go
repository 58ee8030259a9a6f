// Package artifact owns the transient download namespace: request-scoped
// file naming for concurrent attempts and cleanup of what they leave behind.
package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "tunebot/pkg/logx"
)

type Store struct {
	dir string
	log logx.Logger
}

func NewStore(dir string, log logx.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

// Attempt is one delivery attempt's slice of the artifact namespace.
// All files it produces share the attempt id as filename prefix, so two
// concurrent downloads can never collide and cleanup needs no guesswork.
type Attempt struct {
	id  string
	dir string
}

func (s *Store) NewAttempt() Attempt {
	return Attempt{id: uuid.NewString(), dir: s.dir}
}

func (a Attempt) ID() string { return a.id }

// Base is the output path template base; engines append ".<ext>".
func (a Attempt) Base() string { return filepath.Join(a.dir, a.id) }

// Cleanup removes every file the attempt produced, whatever extension the
// engine chose. Runs on every exit path of an attempt.
func (a Attempt) Cleanup() {
	matches, err := filepath.Glob(filepath.Join(a.dir, a.id+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// SweepOrphans removes attempt files older than maxAge. This is the
// best-effort crash mitigation pass; normal attempts clean up after
// themselves.
func (s *Store) SweepOrphans(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("orphan sweep failed", logx.Err(err))
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// Only touch files following the attempt naming convention.
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := uuid.Parse(stem); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("orphaned artifacts removed", logx.Int("count", removed))
	}
	return removed
}
