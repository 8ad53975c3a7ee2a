package canvas

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/config"
	"github.com/infinitejournal/engine/internal/geom"
)

// Loader reconstitutes evicted chunks from durable storage. A miss is
// (nil, false, nil); it is not an error.
type Loader interface {
	Load(key ChunkKey) (*ChunkSnapshot, bool, error)
}

// FlushFunc persists a snapshot synchronously. The index calls it when the
// eviction policy requires flushing a dirty chunk before removal.
type FlushFunc func(*ChunkSnapshot) error

// IndexConfig configures the chunk index.
type IndexConfig struct {
	Edge   float64 // chunk edge length, default 64
	Loader Loader  // nil: misses always create empty chunks
	Flush  FlushFunc
	Policy config.EvictPolicy
	Logger zerolog.Logger
}

// Index is the process-wide sparse mapping from chunk key to in-memory chunk.
// Entries are populated lazily on first touch and removed only by Evict.
type Index struct {
	cfg IndexConfig
	log zerolog.Logger

	mu     sync.Mutex
	chunks map[ChunkKey]*Chunk
}

// NewIndex creates an empty index.
func NewIndex(cfg IndexConfig) *Index {
	if cfg.Edge <= 0 {
		cfg.Edge = 64
	}
	return &Index{
		cfg:    cfg,
		log:    cfg.Logger,
		chunks: make(map[ChunkKey]*Chunk),
	}
}

// Edge returns the chunk edge length.
func (ix *Index) Edge() float64 { return ix.cfg.Edge }

// Resolve maps a world-space point to its chunk key.
func (ix *Index) Resolve(p geom.Vec3) ChunkKey {
	return Resolve(p, ix.cfg.Edge)
}

// Get returns the in-memory chunk for key, or nil if not present. It never
// touches storage.
func (ix *Index) Get(key ChunkKey) *Chunk {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.chunks[key]
}

// GetOrCreate returns the chunk for key, loading it from storage on a miss or
// creating an empty one if no record exists. A load is a blocking read;
// interactive callers prefetch during idle time instead of paying it here.
func (ix *Index) GetOrCreate(key ChunkKey) (*Chunk, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if c, ok := ix.chunks[key]; ok {
		return c, nil
	}
	var c *Chunk
	if ix.cfg.Loader != nil {
		snap, ok, err := ix.cfg.Loader.Load(key)
		if err != nil {
			return nil, fmt.Errorf("load chunk %s: %w", key, err)
		}
		if ok {
			c = FromSnapshot(snap)
		}
	}
	if c == nil {
		c = NewChunk(key)
	}
	ix.chunks[key] = c
	return c, nil
}

// MarkDirty bumps nothing but flags the chunk for persistence and
// re-tessellation. No-op when the chunk is not present.
func (ix *Index) MarkDirty(key ChunkKey) {
	if c := ix.Get(key); c != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
	}
}

// AckPersisted clears the chunk's dirty flag if it has not mutated past the
// persisted version, and always clears the in-flight marker.
func (ix *Index) AckPersisted(key ChunkKey, version uint64) {
	if c := ix.Get(key); c != nil {
		c.ackPersisted(version)
	}
}

// Evict removes a chunk from memory. A chunk with a save in flight fails with
// BusyError. A dirty chunk is handled per the configured policy: EvictFlush
// persists it synchronously first, EvictDrop discards the unpersisted state.
func (ix *Index) Evict(key ChunkKey) error {
	ix.mu.Lock()
	c, ok := ix.chunks[key]
	ix.mu.Unlock()
	if !ok {
		return nil
	}
	if c.InFlight() {
		return &BusyError{Key: key}
	}
	if c.Dirty() && ix.cfg.Policy == config.EvictFlush {
		if ix.cfg.Flush == nil {
			return fmt.Errorf("evict chunk %s: no flush function configured", key)
		}
		snap := c.Snapshot()
		if err := ix.cfg.Flush(snap); err != nil {
			return fmt.Errorf("flush chunk %s before evict: %w", key, err)
		}
		c.ackPersisted(snap.Version)
	}

	ix.mu.Lock()
	// Re-check under the lock: the scheduler may have dequeued meanwhile.
	if c.InFlight() {
		ix.mu.Unlock()
		return &BusyError{Key: key}
	}
	delete(ix.chunks, key)
	ix.mu.Unlock()

	ix.log.Debug().Stringer("key", key).Msg("evicted chunk")
	return nil
}

// Prefetch warms the index for the given keys, loading absent chunks from
// storage. Intended for idle-time viewport warmup.
func (ix *Index) Prefetch(keys []ChunkKey) error {
	for _, key := range keys {
		if ix.Get(key) != nil {
			continue
		}
		if _, err := ix.GetOrCreate(key); err != nil {
			return err
		}
	}
	return nil
}

// ViewportKeys returns the resolved chunk-key set for an axis-aligned
// viewport volume, in deterministic x/y/z order.
func (ix *Index) ViewportKeys(min, max geom.Vec3) []ChunkKey {
	lo := ix.Resolve(geom.Vec3{
		X: math.Min(min.X, max.X),
		Y: math.Min(min.Y, max.Y),
		Z: math.Min(min.Z, max.Z),
	})
	hi := ix.Resolve(geom.Vec3{
		X: math.Max(min.X, max.X),
		Y: math.Max(min.Y, max.Y),
		Z: math.Max(min.Z, max.Z),
	})
	var keys []ChunkKey
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				keys = append(keys, ChunkKey{X: x, Y: y, Z: z})
			}
		}
	}
	return keys
}

// Keys returns the keys of all present chunks, sorted.
func (ix *Index) Keys() []ChunkKey {
	ix.mu.Lock()
	keys := make([]ChunkKey, 0, len(ix.chunks))
	for k := range ix.chunks {
		keys = append(keys, k)
	}
	ix.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return keys
}

// Len returns the number of present chunks.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.chunks)
}
