package searchbase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeIndex is a SearchIndex whose calls can be counted and made to fail
type fakeIndex struct {
	name      string
	ensureErr error
	writeErr  error
	dropErr   error
	ensures   *atomic.Int32
	closed    atomic.Bool
}

func (f *fakeIndex) Name() string { return f.name }

func (f *fakeIndex) Ensure(ctx context.Context, schema IndexSchema) error {
	f.ensures.Add(1)
	return f.ensureErr
}

func (f *fakeIndex) Add(ctx context.Context, id string, fields map[string]string) error {
	return f.writeErr
}

func (f *fakeIndex) Replace(ctx context.Context, id string, revision int, fields map[string]string) error {
	return f.writeErr
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error { return f.writeErr }

func (f *fakeIndex) Search(ctx context.Context, q *Query) (*SearchResult, error) {
	return &SearchResult{}, f.writeErr
}

func (f *fakeIndex) DocumentIDs(ctx context.Context) ([]string, error) { return nil, f.writeErr }
func (f *fakeIndex) Drop(ctx context.Context) error                    { return f.dropErr }

func (f *fakeIndex) Close() error {
	f.closed.Store(true)
	return errors.New("close always fails")
}

type fakeBackend struct {
	mu        sync.Mutex
	ensures   atomic.Int32
	ensureErr error
	writeErr  error
	dropErr   map[string]error
	opened    []*fakeIndex
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(name string, clients ClientSource) SearchIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := &fakeIndex{
		name:      name,
		ensureErr: b.ensureErr,
		writeErr:  b.writeErr,
		dropErr:   b.dropErr[name],
		ensures:   &b.ensures,
	}
	b.opened = append(b.opened, idx)
	return idx
}

func newFakeRegistry(backend IndexBackend) (*indexRegistry, *InMemoryMetrics) {
	metrics := NewInMemoryMetrics()
	return newIndexRegistry(backend, staticClients{}, &NoOpLogger{}, metrics), metrics
}

func TestIndexRegistry_CreatesOncePerType(t *testing.T) {
	backend := &fakeBackend{}
	reg, metrics := newFakeRegistry(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	handles := make([]SearchIndex, 20)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := reg.getOrCreate(ctx, eventInfo, (&testEvent{}).IndexSchema())
			if err != nil {
				t.Errorf("getOrCreate: %v", err)
				return
			}
			handles[i] = idx
		}(i)
	}
	wg.Wait()

	if n := backend.ensures.Load(); n != 1 {
		t.Errorf("Ensure called %d times, want 1", n)
	}
	for _, h := range handles {
		if h != handles[0] {
			t.Fatal("concurrent callers received different handles")
		}
	}
	if metrics.Gauges[MetricIndexesOpen] != 1 {
		t.Errorf("open index gauge = %v", metrics.Gauges[MetricIndexesOpen])
	}
}

func TestIndexRegistry_AbsorbsAlreadyExists(t *testing.T) {
	backend := &fakeBackend{ensureErr: WithContext(ErrIndexExists, nil)}
	reg, _ := newFakeRegistry(backend)

	idx, err := reg.getOrCreate(context.Background(), eventInfo, nil)
	if err != nil {
		t.Fatalf("getOrCreate = %v, want nil", err)
	}
	if idx.Name() != "Event" {
		t.Errorf("index name = %q", idx.Name())
	}
	if _, ok := reg.lookup("Event"); !ok {
		t.Error("existing index should be cached")
	}
}

func TestIndexRegistry_SurfacesOtherFailures(t *testing.T) {
	backend := &fakeBackend{ensureErr: errors.New("ERR unknown command 'FT._LIST'")}
	reg, metrics := newFakeRegistry(backend)
	ctx := context.Background()

	_, err := reg.getOrCreate(ctx, eventInfo, nil)
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("getOrCreate = %v, want ErrIndexUnavailable", err)
	}
	if _, ok := reg.lookup("Event"); ok {
		t.Error("failed index must not be cached")
	}
	if !backend.opened[0].closed.Load() {
		t.Error("failed handle should be closed")
	}
	if metrics.Counter(MetricIndexErrors) != 1 {
		t.Errorf("index errors = %d", metrics.Counter(MetricIndexErrors))
	}

	backend.ensureErr = nil
	if _, err := reg.getOrCreate(ctx, eventInfo, nil); err != nil {
		t.Fatalf("retry after failure = %v", err)
	}
	if n := backend.ensures.Load(); n != 2 {
		t.Errorf("Ensure called %d times, want 2", n)
	}
}

func TestIndexRegistry_DropAll(t *testing.T) {
	backend := &fakeBackend{dropErr: map[string]error{"Task": errors.New("drop failed")}}
	reg, metrics := newFakeRegistry(backend)
	ctx := context.Background()

	for _, info := range []TypeInfo{eventInfo, taskInfo} {
		if _, err := reg.getOrCreate(ctx, info, nil); err != nil {
			t.Fatalf("getOrCreate(%s): %v", info.Simple, err)
		}
	}

	err := reg.dropAll(ctx)
	if err == nil || err.Error() == "" {
		t.Fatal("expected joined drop failure")
	}
	if len(reg.names()) != 0 {
		t.Errorf("registry not emptied: %v", reg.names())
	}
	for _, idx := range backend.opened {
		if !idx.closed.Load() {
			t.Errorf("index %s not closed", idx.name)
		}
	}
	if metrics.Gauges[MetricIndexesOpen] != 0 {
		t.Errorf("open index gauge = %v", metrics.Gauges[MetricIndexesOpen])
	}
}

func TestIndexRegistry_HandleDoesNotCreate(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newFakeRegistry(backend)

	first := reg.handle("Legacy")
	if first != reg.handle("Legacy") {
		t.Error("handle should be cached")
	}
	if n := backend.ensures.Load(); n != 0 {
		t.Errorf("handle called Ensure %d times", n)
	}
}

func TestIndexRegistry_CloseAllKeepsHandles(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newFakeRegistry(backend)
	if _, err := reg.getOrCreate(context.Background(), eventInfo, nil); err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}

	reg.closeAll()
	if !backend.opened[0].closed.Load() {
		t.Error("handle not closed")
	}
	if _, ok := reg.lookup("Event"); !ok {
		t.Error("closeAll should keep handles registered")
	}
}
