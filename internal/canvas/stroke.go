package canvas

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/geom"
)

// DirtyFunc is called after every chunk mutation with the chunk's new
// version. The engine uses it to feed the persistence queue.
type DirtyFunc func(key ChunkKey, version uint64)

// ModelConfig configures the stroke model.
type ModelConfig struct {
	Threshold    float64 // minimum accepted inter-point distance
	Smoothing    bool
	SmoothSubdiv int
	BrushMin     float64
	BrushMax     float64
	Logger       zerolog.Logger
	OnDirty      DirtyFunc // may be nil
}

type activeStroke struct {
	meta     StrokeMeta
	smoother *geom.Smoother
	lastRaw  geom.Vec3
	hasRaw   bool
	lastKey  ChunkKey
	hasKey   bool
	sealed   bool
	touched  map[ChunkKey]struct{}
}

// Model owns active strokes: it applies the point-distance threshold, runs
// the smoothing filter, and routes emitted points into chunks, duplicating
// boundary points so adjacent chunks tessellate a shared seam vertex.
type Model struct {
	cfg ModelConfig
	log zerolog.Logger
	idx *Index

	mu      sync.Mutex
	strokes map[uuid.UUID]*activeStroke
}

// NewModel creates a stroke model routing into idx.
func NewModel(cfg ModelConfig, idx *Index) *Model {
	if cfg.BrushMax <= 0 {
		cfg.BrushMax = 100
	}
	if cfg.BrushMin <= 0 {
		cfg.BrushMin = 1
	}
	return &Model{
		cfg:     cfg,
		log:     cfg.Logger,
		idx:     idx,
		strokes: make(map[uuid.UUID]*activeStroke),
	}
}

// BeginStroke allocates a new active stroke and returns its identifier.
// Width is clamped to the configured brush range.
func (m *Model) BeginStroke(tool Tool, color RGBA, width float64) uuid.UUID {
	if width < m.cfg.BrushMin {
		width = m.cfg.BrushMin
	}
	if width > m.cfg.BrushMax {
		width = m.cfg.BrushMax
	}

	id := uuid.New()
	// Shape tools are defined by their captured endpoints; only freehand
	// brush input goes through the smoothing window.
	smoothing := m.cfg.Smoothing && tool == ToolBrush

	m.mu.Lock()
	m.strokes[id] = &activeStroke{
		meta:     StrokeMeta{ID: id, Tool: tool, Color: color, Width: width},
		smoother: geom.NewSmoother(smoothing, m.cfg.SmoothSubdiv),
		touched:  make(map[ChunkKey]struct{}),
	}
	m.mu.Unlock()

	m.log.Debug().Stringer("stroke", id).Stringer("tool", tool).Float64("width", width).Msg("stroke begun")
	return id
}

// ExtendStroke appends one captured sample to an active stroke. Points closer
// than the distance threshold to the last accepted point are discarded;
// accepted points pass through the smoothing filter and every emitted point
// is routed to its owning chunk. For the eraser tool the sample erases
// instead of appending.
func (m *Model) ExtendStroke(id uuid.UUID, sample geom.Point3) error {
	m.mu.Lock()
	st, ok := m.strokes[id]
	if !ok {
		m.mu.Unlock()
		return &InvalidStrokeError{ID: id, Reason: "unknown stroke"}
	}
	if st.sealed {
		m.mu.Unlock()
		return &InvalidStrokeError{ID: id, Reason: "stroke is sealed"}
	}
	m.mu.Unlock()

	p := sample.Pos
	if st.hasRaw && p.Distance(st.lastRaw) < m.cfg.Threshold {
		return nil
	}
	st.lastRaw = p
	st.hasRaw = true

	if st.meta.Tool == ToolEraser {
		keys, err := m.Erase(p, st.meta.Width/2)
		for _, k := range keys {
			st.touched[k] = struct{}{}
		}
		return err
	}

	for _, out := range st.smoother.Push(p) {
		if err := m.route(st, out); err != nil {
			return err
		}
	}
	return nil
}

// SealStroke flushes the smoothing tail and marks the stroke immutable. It
// returns the set of chunk keys the stroke touched, for synchronous-save
// callers.
func (m *Model) SealStroke(id uuid.UUID) ([]ChunkKey, error) {
	m.mu.Lock()
	st, ok := m.strokes[id]
	if !ok {
		m.mu.Unlock()
		return nil, &InvalidStrokeError{ID: id, Reason: "unknown stroke"}
	}
	if st.sealed {
		m.mu.Unlock()
		return nil, &InvalidStrokeError{ID: id, Reason: "already sealed"}
	}
	st.sealed = true
	m.mu.Unlock()

	for _, out := range st.smoother.Flush() {
		if err := m.route(st, out); err != nil {
			return nil, err
		}
	}

	keys := make([]ChunkKey, 0, len(st.touched))
	for k := range st.touched {
		keys = append(keys, k)
	}
	m.log.Debug().Stringer("stroke", id).Int("chunks", len(keys)).Msg("stroke sealed")
	return keys, nil
}

// route appends one emitted point to its owning chunk. When the point lands
// in a different chunk than the previous one, it is duplicated into both
// chunks' runs so the two tessellations share the seam vertex.
func (m *Model) route(st *activeStroke, p geom.Vec3) error {
	key := m.idx.Resolve(p)
	chunk, err := m.idx.GetOrCreate(key)
	if err != nil {
		return err
	}

	if st.hasKey && key != st.lastKey {
		if prev := m.idx.Get(st.lastKey); prev != nil {
			v := prev.Append(st.meta, p, false)
			m.notifyDirty(st.lastKey, v)
		}
		v := chunk.Append(st.meta, p, true)
		m.notifyDirty(key, v)
	} else {
		v := chunk.Append(st.meta, p, !st.hasKey)
		m.notifyDirty(key, v)
	}

	st.lastKey = key
	st.hasKey = true
	st.touched[key] = struct{}{}
	return nil
}

// Erase removes points within the spherical footprint from every present
// chunk it overlaps, and returns the keys of chunks that changed. Version
// bumps and dirty marking follow the same path as appends.
func (m *Model) Erase(center geom.Vec3, radius float64) ([]ChunkKey, error) {
	lo := m.idx.Resolve(center.Sub(geom.V(radius, radius, radius)))
	hi := m.idx.Resolve(center.Add(geom.V(radius, radius, radius)))

	var changed []ChunkKey
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				key := ChunkKey{X: x, Y: y, Z: z}
				chunk := m.idx.Get(key)
				if chunk == nil {
					continue
				}
				if removed, v := chunk.EraseWithin(center, radius); removed > 0 {
					m.notifyDirty(key, v)
					changed = append(changed, key)
				}
			}
		}
	}
	return changed, nil
}

func (m *Model) notifyDirty(key ChunkKey, version uint64) {
	if m.cfg.OnDirty != nil {
		m.cfg.OnDirty(key, version)
	}
}

// Sealed reports whether the stroke exists and has been sealed.
func (m *Model) Sealed(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strokes[id]
	return ok && st.sealed
}
