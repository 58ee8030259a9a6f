package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tunebot/pkg/logx"
)

func openTestSQLite(t *testing.T) Directory {
	t.Helper()
	d, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "users.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	d := openTestSQLite(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		if err := d.Upsert(ctx, id, "u"); err != nil {
			t.Fatalf("Upsert(%d): %v", id, err)
		}
	}
	// Idempotent on conflict.
	if err := d.Upsert(ctx, 10, "renamed"); err != nil {
		t.Fatalf("Upsert conflict: %v", err)
	}
	if err := d.MarkBlocked(ctx, 20); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}

	got, err := d.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Fatalf("ListActive = %v, want [10 30]", got)
	}

	c, err := d.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if c.Total != 3 || c.Active != 2 {
		t.Fatalf("Count = %+v, want total 3 active 2", c)
	}

	// Reachability proof clears suppression.
	if err := d.Upsert(ctx, 20, "u"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err = d.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListActive after upsert = %v, want all three", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("Open accepted an unknown driver")
	}
}
