package searchbase

import (
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"sort"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestIntegration_RediSearchBackend runs the default index backend against a
// server with the search module loaded.
//
// Run with: go test -run TestIntegration_RediSearchBackend -v
//
// Test modes (in order of preference):
// 1. Manual Redis Stack: uses the server at TEST_REDIS_STACK_ADDR
// 2. Testcontainers: starts redis/redis-stack-server via Docker
// 3. Skip: no Docker available
func TestIntegration_RediSearchBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping RediSearch integration test in short mode")
	}

	ctx := context.Background()

	// To run against a local server:
	//
	//	docker run -d -p 6379:6379 redis/redis-stack-server:latest
	//	TEST_REDIS_STACK_ADDR=localhost:6379 go test -run TestIntegration_RediSearchBackend -v
	if addr := os.Getenv("TEST_REDIS_STACK_ADDR"); addr != "" {
		t.Run("ManualRedisStack", func(t *testing.T) {
			testRediSearchBackend(t, ctx, addr)
		})
		return
	}

	t.Run("Testcontainers", func(t *testing.T) {
		testRediSearchWithTestcontainers(t, ctx)
	})
}

func testRediSearchWithTestcontainers(t *testing.T, ctx context.Context) {
	// Catch panic if Docker daemon is not running
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Docker daemon not available, skipping testcontainers test: %v", r)
		}
	}()

	container, err := testcontainers.Run(ctx,
		"redis/redis-stack-server:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	if err != nil {
		t.Skipf("Failed to start Redis Stack container (Docker not available?): %v", err)
		return
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate Redis Stack container: %v", err)
		}
	}()

	addr, err := container.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		t.Fatalf("Failed to get Redis Stack endpoint: %v", err)
	}
	t.Logf("Redis Stack container started at %s", addr)

	testRediSearchBackend(t, ctx, addr)
}

func testRediSearchBackend(t *testing.T, ctx context.Context, addr string) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("Invalid address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Invalid port in %q: %v", addr, err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Protocol: 2})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis Stack not reachable at %s: %v", addr, err)
	}

	backend := &RediSearchBackend{DocumentPrefix: "itest"}

	t.Run("IndexLifecycle", func(t *testing.T) {
		idx := backend.Open("ItestRaw", staticClients{client})
		if err := idx.Drop(ctx); err != nil {
			t.Fatalf("Drop of a leftover index: %v", err)
		}

		if err := idx.Ensure(ctx, setTestSchema); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		defer idx.Drop(ctx)
		if err := idx.Ensure(ctx, setTestSchema); !errors.Is(err, ErrIndexExists) {
			t.Errorf("second Ensure = %v, want ErrIndexExists", err)
		}

		docs := map[string]map[string]string{
			"1": {"libelle": "standup meeting", "priority": "3", "tags": "work,daily", FieldOID: "1", FieldKey: "k1"},
			"2": {"libelle": "team retro", "priority": "5", "tags": "work", FieldOID: "2", FieldKey: "k2"},
			"3": {"libelle": "dentist", "priority": "1", "tags": "perso", "location": "2.35,48.85", FieldOID: "3", FieldKey: "k3"},
		}
		for _, id := range []string{"1", "2", "3"} {
			if err := idx.Add(ctx, id, docs[id]); err != nil {
				t.Fatalf("Add %s: %v", id, err)
			}
		}
		if err := idx.Add(ctx, "1", docs["1"]); !errors.Is(err, ErrDocumentExists) {
			t.Errorf("duplicate Add = %v, want ErrDocumentExists", err)
		}

		res, err := idx.Search(ctx, NewQuery("@tags:{work}").SortedBy("priority", true))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if res.Total != 2 || len(res.Docs) != 2 || res.Docs[0].ID != "2" || res.Docs[1].ID != "1" {
			t.Errorf("tag search = %+v", res)
		}
		if _, ok := res.Docs[0].Fields[revisionField]; ok {
			t.Error("hits should not expose the revision field")
		}

		res, err = idx.Search(ctx, NewQuery("*").SortedBy("priority", false).Limit(1, 1))
		if err != nil {
			t.Fatalf("paged Search: %v", err)
		}
		if res.Total != 3 || len(res.Docs) != 1 || res.Docs[0].ID != "1" {
			t.Errorf("paged search = %+v", res)
		}

		res, err = idx.Search(ctx, NewQuery("@libelle:retro").Limit(0, 0))
		if err != nil {
			t.Fatalf("count-only Search: %v", err)
		}
		if res.Total != 1 || len(res.Docs) != 0 {
			t.Errorf("count-only search = %+v", res)
		}

		res, err = idx.Search(ctx, NewQuery("@location:[2.3 48.8 20 km]"))
		if err != nil {
			t.Fatalf("geo Search: %v", err)
		}
		if res.Total != 1 || res.Docs[0].ID != "3" {
			t.Errorf("geo search = %+v", res)
		}

		if _, err := idx.Search(ctx, NewQuery("@libelle:(")); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("malformed expression = %v, want ErrInvalidQuery", err)
		}

		if err := idx.Replace(ctx, "2", 2, map[string]string{"libelle": "retro moved", "priority": "2", FieldOID: "2", FieldKey: "k2"}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		res, err = idx.Search(ctx, NewQuery("@tags:{work}"))
		if err != nil {
			t.Fatalf("Search after Replace: %v", err)
		}
		if res.Total != 1 || res.Docs[0].ID != "1" {
			t.Errorf("replaced document should have lost its tags: %+v", res)
		}

		if err := idx.Delete(ctx, "3"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		ids, err := idx.DocumentIDs(ctx)
		if err != nil {
			t.Fatalf("DocumentIDs: %v", err)
		}
		if !reflect.DeepEqual(ids, []string{"1", "2"}) {
			t.Errorf("DocumentIDs = %v", ids)
		}

		if err := idx.Drop(ctx); err != nil {
			t.Fatalf("Drop: %v", err)
		}
		if err := idx.Drop(ctx); err != nil {
			t.Errorf("Drop of a missing index = %v", err)
		}
		if ids, _ := idx.DocumentIDs(ctx); len(ids) != 0 {
			t.Errorf("Drop should delete the documents, left %v", ids)
		}
		if _, err := idx.Search(ctx, NewQuery("*")); !errors.Is(err, ErrIndexUnavailable) {
			t.Errorf("Search on a dropped index = %v, want ErrIndexUnavailable", err)
		}
	})

	t.Run("Store", func(t *testing.T) {
		for _, name := range []string{eventInfo.Simple, taskInfo.Simple} {
			if err := backend.Open(name, staticClients{client}).Drop(ctx); err != nil {
				t.Fatalf("Drop leftover %s index: %v", name, err)
			}
		}

		cfg := DefaultConfig()
		cfg.Host = host
		cfg.Port = port
		cfg.IndexBackend = IndexBackendRediSearch
		cfg.IndexKeyPrefix = "itest"
		s, err := NewStore(cfg)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		s.WithRegistry(newTestRegistry(t))
		defer s.Close()
		defer func() {
			for _, name := range []string{eventInfo.Simple, taskInfo.Simple} {
				_ = backend.Open(name, staticClients{client}).Drop(ctx)
			}
		}()

		events := []*testEvent{
			{Libelle: "standup", Priority: 3, Tags: []string{"work"}},
			{Libelle: "retro", Priority: 5, Tags: []string{"work"}},
			{Libelle: "dentist", Priority: 1, Tags: []string{"perso"}},
		}
		for _, e := range events {
			res, err := s.Merge(ctx, e)
			if err != nil {
				t.Fatalf("Merge %s: %v", e.Libelle, err)
			}
			if !res.Stored || !res.Indexed {
				t.Errorf("Merge %s result = %+v", e.Libelle, res)
			}
		}
		defer func() {
			for _, e := range events {
				_ = s.Remove(ctx, eventInfo.Name, e.ID)
			}
		}()

		found, err := s.FindByQuery(ctx, eventInfo.Name, NewQuery("@tags:{work}").SortedBy("priority", true))
		if err != nil {
			t.Fatalf("FindByQuery: %v", err)
		}
		var libelles []string
		for _, e := range found {
			libelles = append(libelles, e.(*testEvent).Libelle)
		}
		if !reflect.DeepEqual(libelles, []string{"retro", "standup"}) {
			t.Errorf("FindByQuery = %v", libelles)
		}

		keys, total, err := s.SearchKeys(ctx, eventInfo.Simple, NewQuery("*").Limit(0, 0))
		if err != nil {
			t.Fatalf("SearchKeys: %v", err)
		}
		if total != 3 || len(keys) != 0 {
			t.Errorf("count-only SearchKeys = %v, %d", keys, total)
		}

		events[0].Libelle = "daily standup"
		if _, err := s.Merge(ctx, events[0]); err != nil {
			t.Fatalf("re-Merge: %v", err)
		}
		found, err = s.FindByExpression(ctx, eventInfo.Name, "@libelle:daily")
		if err != nil {
			t.Fatalf("FindByExpression: %v", err)
		}
		if len(found) != 1 || found[0].OID() != events[0].ID {
			t.Errorf("FindByExpression after update = %v", found)
		}

		report, err := s.Reconcile(ctx, eventInfo.Name)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if report.Validated != 3 || report.Repaired != 0 || report.Removed != 0 {
			t.Errorf("Reconcile report = %+v", report)
		}

		if err := s.Remove(ctx, eventInfo.Name, events[2].ID); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := s.FindByExpression(ctx, eventInfo.Name, "@tags:{perso}"); !IsNotFound(err) {
			t.Errorf("FindByExpression of a removed entity = %v, want ErrNotFound", err)
		}
		ids := make([]string, 0, 2)
		for _, e := range events[:2] {
			ids = append(ids, e.ID)
		}
		sort.Strings(ids)
		docIDs, err := backend.Open(eventInfo.Simple, staticClients{client}).DocumentIDs(ctx)
		if err != nil {
			t.Fatalf("DocumentIDs: %v", err)
		}
		if !reflect.DeepEqual(docIDs, ids) {
			t.Errorf("index documents = %v, want %v", docIDs, ids)
		}
	})
}
