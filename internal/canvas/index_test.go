package canvas

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/config"
	"github.com/infinitejournal/engine/internal/geom"
)

type fakeLoader struct {
	snaps map[ChunkKey]*ChunkSnapshot
	calls int
}

func (f *fakeLoader) Load(key ChunkKey) (*ChunkSnapshot, bool, error) {
	f.calls++
	snap, ok := f.snaps[key]
	return snap, ok, nil
}

func testMeta() StrokeMeta {
	return StrokeMeta{ID: uuid.New(), Tool: ToolBrush, Width: 4}
}

func TestGetOrCreateMissCreatesEmpty(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Logger: zerolog.Nop()})
	key := ChunkKey{1, 2, 3}

	c, err := ix.GetOrCreate(key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if c.Key() != key {
		t.Errorf("key = %v, want %v", c.Key(), key)
	}
	if c.PointCount() != 0 {
		t.Errorf("new chunk has %d points", c.PointCount())
	}
	if ix.Len() != 1 {
		t.Errorf("index len = %d, want 1", ix.Len())
	}
}

func TestGetOrCreateLoadsFromStore(t *testing.T) {
	key := ChunkKey{0, 0, 0}
	seed := NewChunk(key)
	seed.Append(testMeta(), geom.V(0.5, 0.5, 0.5), true)
	loader := &fakeLoader{snaps: map[ChunkKey]*ChunkSnapshot{key: seed.Snapshot()}}

	ix := NewIndex(IndexConfig{Edge: 1, Loader: loader, Logger: zerolog.Nop()})
	c, err := ix.GetOrCreate(key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if c.PointCount() != 1 {
		t.Errorf("loaded chunk has %d points, want 1", c.PointCount())
	}

	// Second call is a memory hit, not a second load.
	if _, err := ix.GetOrCreate(key); err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
}

func TestMarkDirty(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Logger: zerolog.Nop()})
	key := ChunkKey{0, 0, 0}
	ix.MarkDirty(key) // absent chunk is a no-op

	c, _ := ix.GetOrCreate(key)
	if c.Dirty() {
		t.Fatal("fresh chunk already dirty")
	}
	ix.MarkDirty(key)
	if !c.Dirty() {
		t.Error("MarkDirty did not flag the chunk")
	}
}

func TestEvictCleanChunk(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Logger: zerolog.Nop()})
	key := ChunkKey{0, 0, 0}
	if _, err := ix.GetOrCreate(key); err != nil {
		t.Fatal(err)
	}
	if err := ix.Evict(key); err != nil {
		t.Fatalf("evict clean chunk: %v", err)
	}
	if ix.Get(key) != nil {
		t.Error("chunk still present after evict")
	}
}

func TestEvictInFlightFailsBusy(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Logger: zerolog.Nop()})
	key := ChunkKey{0, 0, 0}
	c, _ := ix.GetOrCreate(key)
	c.Append(testMeta(), geom.V(0, 0, 0), true)
	c.SetInFlight(true)

	err := ix.Evict(key)
	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("evict in-flight chunk = %v, want BusyError", err)
	}
	if ix.Get(key) == nil {
		t.Error("chunk removed despite in-flight save")
	}
}

func TestEvictDirtyFlushPolicy(t *testing.T) {
	flushed := 0
	ix := NewIndex(IndexConfig{
		Edge:   1,
		Policy: config.EvictFlush,
		Flush: func(snap *ChunkSnapshot) error {
			flushed++
			return nil
		},
		Logger: zerolog.Nop(),
	})
	key := ChunkKey{0, 0, 0}
	c, _ := ix.GetOrCreate(key)
	c.Append(testMeta(), geom.V(0, 0, 0), true)

	if err := ix.Evict(key); err != nil {
		t.Fatalf("evict with flush policy: %v", err)
	}
	if flushed != 1 {
		t.Errorf("flush called %d times, want 1", flushed)
	}
	if ix.Get(key) != nil {
		t.Error("chunk still present after flush-evict")
	}
}

func TestEvictDirtyFlushFailureKeepsChunk(t *testing.T) {
	ix := NewIndex(IndexConfig{
		Edge:   1,
		Policy: config.EvictFlush,
		Flush: func(snap *ChunkSnapshot) error {
			return errors.New("disk full")
		},
		Logger: zerolog.Nop(),
	})
	key := ChunkKey{0, 0, 0}
	c, _ := ix.GetOrCreate(key)
	c.Append(testMeta(), geom.V(0, 0, 0), true)

	if err := ix.Evict(key); err == nil {
		t.Fatal("evict succeeded despite flush failure")
	}
	if ix.Get(key) == nil {
		t.Error("chunk removed despite failed flush")
	}
}

func TestEvictDirtyDropPolicy(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Policy: config.EvictDrop, Logger: zerolog.Nop()})
	key := ChunkKey{0, 0, 0}
	c, _ := ix.GetOrCreate(key)
	c.Append(testMeta(), geom.V(0, 0, 0), true)

	if err := ix.Evict(key); err != nil {
		t.Fatalf("evict with drop policy: %v", err)
	}
	if ix.Get(key) != nil {
		t.Error("chunk still present after drop-evict")
	}
}

func TestViewportKeysCoversVolume(t *testing.T) {
	ix := NewIndex(IndexConfig{Edge: 1, Logger: zerolog.Nop()})
	keys := ix.ViewportKeys(geom.V(-0.5, 0, 0), geom.V(1.5, 0.5, 0))
	// x in {-1, 0, 1}, y in {0}, z in {0}
	want := []ChunkKey{{-1, 0, 0}, {0, 0, 0}, {1, 0, 0}}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestPrefetchWarmsIndex(t *testing.T) {
	key := ChunkKey{5, 0, 0}
	seed := NewChunk(key)
	seed.Append(testMeta(), geom.V(5.5, 0.5, 0.5), true)
	loader := &fakeLoader{snaps: map[ChunkKey]*ChunkSnapshot{key: seed.Snapshot()}}
	ix := NewIndex(IndexConfig{Edge: 1, Loader: loader, Logger: zerolog.Nop()})

	if err := ix.Prefetch([]ChunkKey{key, {6, 0, 0}}); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("index len = %d, want 2", ix.Len())
	}
	if c := ix.Get(key); c == nil || c.PointCount() != 1 {
		t.Error("prefetched chunk missing or empty")
	}
}
