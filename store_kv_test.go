package searchbase

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestStore_PutAndGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Put(ctx, "k", "v")
	if !ok || err != nil {
		t.Fatalf("Put = %v, %v", ok, err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Errorf("Get = %q, %v", got, err)
	}
	if ttl := mr.TTL("k"); ttl != PutTTL {
		t.Errorf("TTL = %v, want %v", ttl, PutTTL)
	}

	if ok, err := s.Put(ctx, "", "v"); ok || err != nil {
		t.Errorf("Put with empty key = %v, %v", ok, err)
	}
}

func TestStore_GetErrors(t *testing.T) {
	s, mr := newTestStore(t)
	metrics := NewInMemoryMetrics()
	s.SetMetrics(metrics)
	ctx := context.Background()

	if _, err := s.Get(ctx, "absent"); !IsNotFound(err) {
		t.Errorf("Get(absent) = %v, want ErrNotFound", err)
	}

	mr.HSet("hash", "field", "value")
	if _, err := s.Get(ctx, "hash"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Get(hash) = %v, want ErrUnsupportedValue", err)
	}
	if metrics.Counter(MetricKVOps) != 2 || metrics.Counter(MetricKVErrors) != 2 {
		t.Errorf("kv ops=%d errors=%d", metrics.Counter(MetricKVOps), metrics.Counter(MetricKVErrors))
	}
}

func TestStore_PutAllAndGetMany(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.PutAll(ctx, map[string]string{"a": "1", "b": "2"})
	if !ok || err != nil {
		t.Fatalf("PutAll = %v, %v", ok, err)
	}
	if mr.TTL("a") != 0 {
		t.Error("PutAll must not set an expiry")
	}
	if ok, err := s.PutAll(ctx, nil); !ok || err != nil {
		t.Errorf("PutAll(nil) = %v, %v", ok, err)
	}

	mr.HSet("h", "f", "v")
	got, err := s.GetMany(ctx, "a", "missing", "b", "h")
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	want := map[string]string{"a": "1", "b": "2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMany = %v, want %v", got, want)
	}
}

func TestStore_RemoveKeys(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set("a", "1")
	mr.Set("b", "2")
	n, err := s.RemoveKeys(ctx, "a", "b", "c")
	if err != nil || n != 2 {
		t.Errorf("RemoveKeys = %d, %v", n, err)
	}
	if n, err := s.RemoveKeys(ctx); n != 0 || err != nil {
		t.Errorf("RemoveKeys() = %d, %v", n, err)
	}
}

func TestStore_KeysSizeContains(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		mr.Set(k, "x")
	}

	all, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	star, _ := s.Keys(ctx, "*")
	if !reflect.DeepEqual(all, star) || !reflect.DeepEqual(all, []string{"order:1", "user:1", "user:2"}) {
		t.Errorf("Keys(\"\") = %v, Keys(\"*\") = %v", all, star)
	}

	users, _ := s.Keys(ctx, "user:*")
	if !reflect.DeepEqual(users, []string{"user:1", "user:2"}) {
		t.Errorf("Keys(user:*) = %v", users)
	}

	if n, err := s.Size(ctx, ""); n != 3 || err != nil {
		t.Errorf("Size(\"\") = %d, %v", n, err)
	}
	if n, _ := s.Size(ctx, "order:*"); n != 1 {
		t.Errorf("Size(order:*) = %d", n)
	}

	tests := []struct {
		pattern string
		want    bool
	}{
		{"user:1", true},
		{"user:*", true},
		{"", true},
		{"invoice:*", false},
	}
	for _, tt := range tests {
		got, err := s.ContainsKey(ctx, tt.pattern)
		if err != nil || got != tt.want {
			t.Errorf("ContainsKey(%q) = %v, %v; want %v", tt.pattern, got, err, tt.want)
		}
	}
}

func TestStore_Clear(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	e := &testEvent{Libelle: "avant"}
	if _, err := s.Merge(ctx, e); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	mr.Set("raw", "x")

	ok, err := s.Clear(ctx)
	if !ok || err != nil {
		t.Fatalf("Clear = %v, %v", ok, err)
	}
	keys, _ := s.Keys(ctx, "*")
	if len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
	if names := s.indexes.names(); len(names) != 0 {
		t.Errorf("index registry after Clear = %v", names)
	}
	if _, err := s.FindByExpression(ctx, eventInfo.Name, "avant"); !IsNotFound(err) {
		t.Errorf("FindByExpression after Clear = %v, want ErrNotFound", err)
	}
}

func TestStore_ClearReportsDropFailures(t *testing.T) {
	s, mr := newTestStore(t)
	useIndexBackend(s, &fakeBackend{dropErr: map[string]error{"Event": errors.New("drop failed")}})
	ctx := context.Background()

	if _, err := s.Merge(ctx, &testEvent{Libelle: "x"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	ok, err := s.Clear(ctx)
	if ok || err == nil {
		t.Errorf("Clear = %v, %v; want failure", ok, err)
	}
	if len(mr.Keys()) != 0 {
		t.Error("flush should still happen when a drop fails")
	}
}
