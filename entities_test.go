package searchbase

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	eventInfo = TypeInfo{Namespace: "app", Simple: "Event", Name: "calendar.Event"}
	taskInfo  = TypeInfo{Namespace: "app", Simple: "Task", Name: "todo.Task"}
)

type testEvent struct {
	Base
	Libelle  string    `json:"libelle"`
	Priority int       `json:"priority"`
	Tags     []string  `json:"tags,omitempty"`
	Location *GeoPoint `json:"location,omitempty"`
	Date     time.Time `json:"date"`
}

func (e *testEvent) Key() string { return eventInfo.Key(e.ID) }

func (e *testEvent) IndexSchema() IndexSchema {
	return IndexSchema{
		{Name: "libelle", Kind: FieldText},
		{Name: "priority", Kind: FieldNumeric, Sortable: true},
		{Name: "tags", Kind: FieldTag},
		{Name: "location", Kind: FieldGeo},
	}
}

func (e *testEvent) IndexFieldValues() map[string]interface{} {
	values := map[string]interface{}{
		"libelle":  e.Libelle,
		"priority": e.Priority,
		"tags":     e.Tags,
	}
	if e.Location != nil {
		values["location"] = *e.Location
	}
	return values
}

type testTask struct {
	Base
	Versioned
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func (t *testTask) Key() string { return taskInfo.Key(t.ID) }

func (t *testTask) IndexSchema() IndexSchema {
	return IndexSchema{
		{Name: "title", Kind: FieldText, Sortable: true},
		{Name: "done", Kind: FieldTag},
	}
}

func (t *testTask) IndexFieldValues() map[string]interface{} {
	return map[string]interface{}{
		"title": t.Title,
		"done":  strconv.FormatBool(t.Done),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.MustRegister(eventInfo, func() Entity { return &testEvent{} })
	r.MustRegister(taskInfo, func() Entity { return &testTask{} })
	return r
}

func testConfig(t *testing.T, mr *miniredis.Miniredis) Config {
	t.Helper()
	host, port, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split miniredis addr: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, _ = strconv.Atoi(port)
	cfg.IndexBackend = IndexBackendSets
	return cfg
}

// newTestStore returns a store on a fresh miniredis using the sets index
func newTestStore(t *testing.T, opts ...func(*Config)) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.WithRegistry(newTestRegistry(t))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// staticClients serves one client to index handles under test
type staticClients struct{ client *redis.Client }

func (c staticClients) Client() (*redis.Client, error) { return c.client, nil }

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}
