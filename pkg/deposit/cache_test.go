package deposit

import (
	"reflect"
	"testing"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

func newCacheState(t *testing.T, id string) *ingest.IngestState {
	t.Helper()
	state, err := ingest.NewStateFactory(ingest.UUIDAllocator{}).New(id, "alice")
	if err != nil {
		t.Fatalf("New(%q) error = %v", id, err)
	}
	return state
}

func TestNewStateCacheRejectsZeroCapacity(t *testing.T) {
	if _, err := NewStateCache(0, nil); !ingest.IsValidation(err) {
		t.Errorf("NewStateCache(0) error = %v, want validation", err)
	}
}

func TestStateCacheEvictsByInsertionOrder(t *testing.T) {
	var evicted []string
	cache, err := NewStateCache(2, func(id string, _ *ingest.IngestState) {
		evicted = append(evicted, id)
	})
	if err != nil {
		t.Fatalf("NewStateCache() error = %v", err)
	}

	cache.Put("A", newCacheState(t, "A"))
	cache.Put("B", newCacheState(t, "B"))

	// Reading A must not protect it from eviction.
	if _, ok := cache.Get("A"); !ok {
		t.Fatal("Get(A) missing")
	}
	cache.Put("C", newCacheState(t, "C"))

	if got := cache.IDs(); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("IDs() = %v, want [B C]", got)
	}
	if !reflect.DeepEqual(evicted, []string{"A"}) {
		t.Errorf("evicted = %v, want [A]", evicted)
	}
	if cache.Contains("A") {
		t.Error("A still cached")
	}
}

func TestStateCacheRePutKeepsPosition(t *testing.T) {
	cache, _ := NewStateCache(2, nil)
	first := newCacheState(t, "A")
	cache.Put("A", first)
	cache.Put("B", newCacheState(t, "B"))

	replacement := newCacheState(t, "A")
	cache.Put("A", replacement)
	if got, _ := cache.Get("A"); got != replacement {
		t.Error("re-Put did not replace the state")
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}

	cache.Put("C", newCacheState(t, "C"))
	if cache.Contains("A") {
		t.Error("re-Put moved A to the back of the queue")
	}
	if !cache.Contains("B") || !cache.Contains("C") {
		t.Errorf("IDs() = %v, want [B C]", cache.IDs())
	}
}

func TestStateCacheRemove(t *testing.T) {
	calls := 0
	cache, _ := NewStateCache(DefaultCacheCapacity, func(string, *ingest.IngestState) { calls++ })
	cache.Put("A", newCacheState(t, "A"))

	if !cache.Remove("A") {
		t.Error("Remove(A) = false")
	}
	if cache.Remove("A") {
		t.Error("second Remove(A) = true")
	}
	if calls != 0 {
		t.Errorf("eviction callback ran %d times on Remove", calls)
	}
	if cache.Capacity() != DefaultCacheCapacity {
		t.Errorf("Capacity() = %d", cache.Capacity())
	}
}

func TestKeyedMutexTryLock(t *testing.T) {
	locks := newKeyedMutex()
	unlock := locks.Lock("dep-1")

	if _, ok := locks.TryLock("dep-1"); ok {
		t.Fatal("TryLock succeeded on a held key")
	}
	other, ok := locks.TryLock("dep-2")
	if !ok {
		t.Fatal("TryLock failed on a free key")
	}
	other()
	unlock()

	again, ok := locks.TryLock("dep-1")
	if !ok {
		t.Fatal("TryLock failed after unlock")
	}
	again()
	if len(locks.locks) != 0 {
		t.Errorf("%d lock entries leaked", len(locks.locks))
	}
}
