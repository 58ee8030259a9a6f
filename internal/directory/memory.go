package directory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Directory for dev and tests. Records are lost on
// restart.
type Memory struct {
	mu sync.Mutex
	m  map[int64]*UserRecord
}

func NewMemory() *Memory {
	return &Memory{m: map[int64]*UserRecord{}}
}

func (d *Memory) Upsert(_ context.Context, id int64, displayName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[id] = &UserRecord{ID: id, DisplayName: displayName, Blocked: false, LastActive: time.Now()}
	return nil
}

func (d *Memory) ListActive(_ context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, 0, len(d.m))
	for id, r := range d.m {
		if !r.Blocked {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (d *Memory) MarkBlocked(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.m[id]; r != nil {
		r.Blocked = true
	}
	return nil
}

func (d *Memory) Count(_ context.Context) (Counts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Counts{Total: len(d.m)}
	for _, r := range d.m {
		if !r.Blocked {
			c.Active++
		}
	}
	return c, nil
}

func (d *Memory) Close() error { return nil }

// Get returns a copy of the record (tests).
func (d *Memory) Get(id int64) (UserRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.m[id]
	if r == nil {
		return UserRecord{}, false
	}
	return *r, true
}
