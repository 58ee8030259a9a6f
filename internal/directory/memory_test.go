package directory

import (
	"context"
	"testing"
)

func TestMemoryUpsertClearsBlocked(t *testing.T) {
	t.Parallel()

	d := NewMemory()
	ctx := context.Background()

	if err := d.Upsert(ctx, 1, "alice"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := d.MarkBlocked(ctx, 1); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}
	if r, ok := d.Get(1); !ok || !r.Blocked {
		t.Fatalf("record = (%+v, %v), want blocked", r, ok)
	}

	// An inbound interaction proves reachability again.
	if err := d.Upsert(ctx, 1, "alice"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if r, _ := d.Get(1); r.Blocked {
		t.Fatal("upsert must clear the blocked flag")
	}
}

func TestMemoryListActiveAndCount(t *testing.T) {
	t.Parallel()

	d := NewMemory()
	ctx := context.Background()
	for _, id := range []int64{3, 1, 2} {
		if err := d.Upsert(ctx, id, "u"); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := d.MarkBlocked(ctx, 2); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}

	got, err := d.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	want := []int64{1, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ListActive = %v, want %v", got, want)
	}

	c, err := d.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if c.Total != 3 || c.Active != 2 {
		t.Fatalf("Count = %+v, want total 3 active 2", c)
	}
}
