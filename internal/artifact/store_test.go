package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	logx "tunebot/pkg/logx"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestAttemptsDoNotCollide(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	a, b := s.NewAttempt(), s.NewAttempt()
	if a.ID() == b.ID() {
		t.Fatal("two attempts must never share an id")
	}
	if a.Base() == b.Base() {
		t.Fatal("two attempts must never share an output base")
	}
	if filepath.Dir(a.Base()) != s.Dir() {
		t.Fatalf("attempt base %q is outside the store dir %q", a.Base(), s.Dir())
	}
}

func TestCleanupRemovesAllAttemptFiles(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	a := s.NewAttempt()
	other := s.NewAttempt()

	touch(t, a.Base()+".mp3")
	touch(t, a.Base()+".jpg")
	touch(t, a.Base()+".webm.part")
	touch(t, other.Base()+".mp3")

	a.Cleanup()

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != other.ID()+".mp3" {
		t.Fatalf("cleanup touched the wrong files, left: %v", entries)
	}
}

func TestSweepOrphans(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	old := time.Now().Add(-3 * time.Hour)

	orphan := filepath.Join(s.Dir(), uuid.NewString()+".mp3")
	touch(t, orphan)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// A fresh attempt file and a foreign file must both survive.
	fresh := filepath.Join(s.Dir(), uuid.NewString()+".mp3")
	touch(t, fresh)
	foreign := filepath.Join(s.Dir(), "keep.txt")
	touch(t, foreign)
	if err := os.Chtimes(foreign, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if removed := s.SweepOrphans(2 * time.Hour); removed != 1 {
		t.Fatalf("removed %d files, want 1", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphan must be removed")
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s must survive the sweep: %v", p, err)
		}
	}
}
