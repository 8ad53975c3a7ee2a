package canvas

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/geom"
)

// Chunk owns the point runs and stroke metadata for one cell. The interactive
// timeline is the sole writer of chunk content; the persistence timeline only
// reads version-stamped snapshots. The mutex guards the dirty/version pair and
// run slices against a snapshot racing a mid-append mutation.
type Chunk struct {
	key ChunkKey

	mu       sync.Mutex
	runs     []PointRun
	metas    map[uuid.UUID]StrokeMeta
	openRun  map[uuid.UUID]int // index of the run currently accepting points per stroke
	version  uint64
	dirty    bool
	inflight bool
}

// NewChunk returns an empty chunk for key.
func NewChunk(key ChunkKey) *Chunk {
	return &Chunk{
		key:     key,
		metas:   make(map[uuid.UUID]StrokeMeta),
		openRun: make(map[uuid.UUID]int),
	}
}

// FromSnapshot reconstitutes a chunk from a persisted snapshot. The restored
// chunk is clean: its content matches the durable record.
func FromSnapshot(snap *ChunkSnapshot) *Chunk {
	c := NewChunk(snap.Key)
	c.version = snap.Version
	c.runs = make([]PointRun, len(snap.Runs))
	for i, run := range snap.Runs {
		pts := make([]geom.Vec3, len(run.Points))
		copy(pts, run.Points)
		c.runs[i] = PointRun{Stroke: run.Stroke, Points: pts}
	}
	for _, m := range snap.Metas {
		c.metas[m.ID] = m
	}
	return c
}

func (c *Chunk) Key() ChunkKey { return c.key }

// Version returns the current mutation counter.
func (c *Chunk) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Dirty reports whether the chunk has unpersisted mutations.
func (c *Chunk) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// InFlight reports whether a persistence worker is saving this chunk.
func (c *Chunk) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// SetInFlight marks or clears the in-flight save marker. Set by the scheduler
// at dequeue time so eviction cannot race an active write.
func (c *Chunk) SetInFlight(v bool) {
	c.mu.Lock()
	c.inflight = v
	c.mu.Unlock()
}

// Append adds one point to the stroke's open run, starting a new run when
// newRun is set or the stroke has no open run here. Bumps the version, marks
// the chunk dirty, and returns the new version.
func (c *Chunk) Append(meta StrokeMeta, p geom.Vec3, newRun bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metas[meta.ID] = meta
	idx, ok := c.openRun[meta.ID]
	if newRun || !ok {
		c.runs = append(c.runs, PointRun{Stroke: meta.ID})
		idx = len(c.runs) - 1
		c.openRun[meta.ID] = idx
	}
	c.runs[idx].Points = append(c.runs[idx].Points, p)

	c.version++
	c.dirty = true
	return c.version
}

// EraseWithin removes every point inside the spherical footprint, splitting
// runs where a middle section is erased. Returns the number of points removed
// and, when any were, the bumped version.
func (c *Chunk) EraseWithin(center geom.Vec3, radius float64) (int, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var kept []PointRun
	for _, run := range c.runs {
		var segment []geom.Vec3
		for _, p := range run.Points {
			if p.Distance(center) <= radius {
				removed++
				if len(segment) > 0 {
					kept = append(kept, PointRun{Stroke: run.Stroke, Points: segment})
					segment = nil
				}
				continue
			}
			segment = append(segment, p)
		}
		if len(segment) > 0 {
			kept = append(kept, PointRun{Stroke: run.Stroke, Points: segment})
		}
	}
	if removed == 0 {
		return 0, c.version
	}

	c.runs = kept
	// Truncated runs are no longer open; later appends start fresh runs.
	c.openRun = make(map[uuid.UUID]int)
	c.dropOrphanedMetas()

	c.version++
	c.dirty = true
	return removed, c.version
}

// dropOrphanedMetas removes metadata for strokes with no surviving run.
// Caller must hold c.mu.
func (c *Chunk) dropOrphanedMetas() {
	live := make(map[uuid.UUID]bool, len(c.runs))
	for _, run := range c.runs {
		live[run.Stroke] = true
	}
	for id := range c.metas {
		if !live[id] {
			delete(c.metas, id)
		}
	}
}

// ackPersisted clears the dirty flag if the chunk has not mutated past the
// persisted version.
func (c *Chunk) ackPersisted(version uint64) {
	c.mu.Lock()
	if c.version == version {
		c.dirty = false
	}
	c.mu.Unlock()
}

// ChunkSnapshot is an immutable, version-stamped copy of a chunk's content,
// taken for the persistence timeline. It shares no memory with the live chunk
// and is never mutated once created.
type ChunkSnapshot struct {
	Key     ChunkKey
	Version uint64
	Runs    []PointRun
	Metas   []StrokeMeta
}

// Snapshot deep-copies the chunk content under its lock. Metas are sorted by
// stroke ID so snapshots of identical content are identical.
func (c *Chunk) Snapshot() *ChunkSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &ChunkSnapshot{
		Key:     c.key,
		Version: c.version,
		Runs:    make([]PointRun, len(c.runs)),
		Metas:   make([]StrokeMeta, 0, len(c.metas)),
	}
	for i, run := range c.runs {
		pts := make([]geom.Vec3, len(run.Points))
		copy(pts, run.Points)
		snap.Runs[i] = PointRun{Stroke: run.Stroke, Points: pts}
	}
	for _, m := range c.metas {
		snap.Metas = append(snap.Metas, m)
	}
	sort.Slice(snap.Metas, func(i, j int) bool {
		a, b := snap.Metas[i].ID, snap.Metas[j].ID
		for n := 0; n < len(a); n++ {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return false
	})
	return snap
}

// PointCount returns the total number of points across all runs.
func (c *Chunk) PointCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, run := range c.runs {
		n += len(run.Points)
	}
	return n
}

// Runs returns a copy of the run list for inspection.
func (c *Chunk) Runs() []PointRun {
	return c.Snapshot().Runs
}
