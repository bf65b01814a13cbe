package whisperpool

import (
	"path/filepath"
	"testing"
)

func TestStatusCacheSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.cache")
	cache := NewStatusCache(path, nil)

	want := PoolStatus{
		TotalWorkers:   2,
		HealthyWorkers: 1,
		Workers: []WorkerStatus{
			{ID: "a", Port: 9000, State: "healthy", AcceptingRequests: true},
			{ID: "b", Port: 9001, State: "starting"},
		},
	}

	if err := cache.Save(want); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	got, err := cache.Load()
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}

	if got.TotalWorkers != want.TotalWorkers || got.HealthyWorkers != want.HealthyWorkers {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if len(got.Workers) != 2 || got.Workers[0].ID != "a" || got.Workers[1].ID != "b" {
		t.Fatalf("unexpected workers: %+v", got.Workers)
	}
}

func TestStatusCacheLoadMissingFile(t *testing.T) {
	cache := NewStatusCache(filepath.Join(t.TempDir(), "missing.cache"), nil)

	if _, err := cache.Load(); err == nil {
		t.Fatal("expected an error loading a missing cache file")
	}
}

func TestStatusCacheWithJSONCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	cache := NewStatusCache(path, &JSONCodec{})

	want := PoolStatus{TotalWorkers: 1, HealthyWorkers: 1, Workers: []WorkerStatus{{ID: "a", Port: 9000}}}
	if err := cache.Save(want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := cache.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalWorkers != 1 || len(got.Workers) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
}
