package searchbase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextVersion(t *testing.T) {
	s, _ := newTestStore(t)
	paris := time.FixedZone("CET", 3600)
	now := time.Date(2026, 10, 18, 12, 0, 0, 123456789, paris)
	s.clock = func() time.Time { return now }

	first := s.nextVersion(time.Time{})
	want := now.UTC().Truncate(time.Microsecond)
	if !first.Equal(want) || first.Location() != time.UTC {
		t.Errorf("first stamp = %v, want %v in UTC", first, want)
	}

	second := s.nextVersion(first)
	if !second.Equal(first.Add(time.Microsecond)) {
		t.Errorf("stamp with a stalled clock = %v, want %v", second, first.Add(time.Microsecond))
	}

	future := now.Add(time.Hour)
	if got := s.nextVersion(future); !got.After(future) {
		t.Errorf("stamp %v should be after previous %v", got, future)
	}
}

func TestMerge_LastWriterWinsStampsEveryWrite(t *testing.T) {
	s, _ := newTestStore(t)
	fixed := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return fixed }
	ctx := context.Background()

	task := &testTask{Title: "write docs"}
	if _, err := s.Merge(ctx, task); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	v1 := task.Version()
	if !v1.Equal(fixed) {
		t.Errorf("first version = %v, want %v", v1, fixed)
	}

	task.Title = "write more docs"
	if _, err := s.Merge(ctx, task); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !task.Version().After(v1) {
		t.Errorf("version did not increase: %v -> %v", v1, task.Version())
	}

	// A stale copy still wins under last-writer-wins.
	stale := &testTask{Base: Base{ID: task.ID}, Title: "stale"}
	if _, err := s.Merge(ctx, stale); err != nil {
		t.Errorf("stale write rejected under last-writer-wins: %v", err)
	}

	got, err := s.FindByID(ctx, taskInfo.Name, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.(*testTask).Title != "stale" {
		t.Errorf("title = %q, want stale", got.(*testTask).Title)
	}
	if !got.(*testTask).Version().Equal(stale.Version()) {
		t.Errorf("stored version %v != merged version %v", got.(*testTask).Version(), stale.Version())
	}
}

func TestMerge_CompareAndSwap(t *testing.T) {
	s, _ := newTestStore(t, func(c *Config) { c.VersionPolicy = CompareAndSwap })
	metrics := NewInMemoryMetrics()
	s.SetMetrics(metrics)
	ctx := context.Background()

	task := &testTask{Title: "draft"}
	if _, err := s.Merge(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := s.FindByID(ctx, taskInfo.Name, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	copyA := loaded.(*testTask)
	copyB := *copyA

	copyA.Title = "edited by A"
	if _, err := s.Merge(ctx, copyA); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	before := copyB.Version()
	copyB.Title = "edited by B"
	res, err := s.Merge(ctx, &copyB)
	if !IsConflict(err) {
		t.Fatalf("second writer = %v, want ErrConflict", err)
	}
	if res.Stored {
		t.Error("conflicting write must not be stored")
	}
	if !copyB.Version().Equal(before) {
		t.Errorf("version of rejected entity changed: %v -> %v", before, copyB.Version())
	}
	if metrics.Counter(MetricConflict) != 1 {
		t.Errorf("conflicts = %d", metrics.Counter(MetricConflict))
	}

	got, _ := s.FindByID(ctx, taskInfo.Name, task.ID)
	if got.(*testTask).Title != "edited by A" {
		t.Errorf("stored title = %q", got.(*testTask).Title)
	}
}

func TestMerge_CompareAndSwapMissingOrUnloaded(t *testing.T) {
	s, mr := newTestStore(t, func(c *Config) { c.VersionPolicy = CompareAndSwap })
	ctx := context.Background()

	task := &testTask{Title: "x"}
	if _, err := s.Merge(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	blind := &testTask{Base: Base{ID: task.ID}, Title: "never loaded"}
	if _, err := s.Merge(ctx, blind); !IsConflict(err) {
		t.Errorf("overwrite without loading = %v, want ErrConflict", err)
	}

	mr.Del(task.Key())
	if _, err := s.Merge(ctx, task); !IsConflict(err) {
		t.Errorf("update of deleted entity = %v, want ErrConflict", err)
	}

	fresh := &testTask{Base: Base{ID: "chosen-id"}, Title: "first write"}
	if _, err := s.Merge(ctx, fresh); err != nil {
		t.Errorf("first write with caller-chosen id = %v", err)
	}

	// Entities without a version are written unconditionally.
	if _, err := s.Merge(ctx, &testEvent{Libelle: "plain"}); err != nil {
		t.Errorf("non-versioned merge = %v", err)
	}
}

func TestParseVersionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    VersionPolicy
		wantErr bool
	}{
		{"", LastWriterWins, false},
		{"last-writer-wins", LastWriterWins, false},
		{"LWW", LastWriterWins, false},
		{"compare-and-swap", CompareAndSwap, false},
		{" cas ", CompareAndSwap, false},
		{"pessimistic", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersionPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersionPolicy(%q) error = %v", tt.in, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseVersionPolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if CompareAndSwap.String() != "compare-and-swap" || VersionPolicy(9).String() != "unknown" {
		t.Error("unexpected String() output")
	}
}
