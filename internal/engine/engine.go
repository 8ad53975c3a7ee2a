// Package engine wires the chunk index, stroke model, tessellator, store,
// and persistence scheduler into the infinite canvas engine consumed by the
// platform shell.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/config"
	"github.com/infinitejournal/engine/internal/geom"
	"github.com/infinitejournal/engine/internal/sched"
	"github.com/infinitejournal/engine/internal/store"
	"github.com/infinitejournal/engine/internal/tess"
)

// storeLoader adapts the store to the index's Loader contract: a store miss
// is a valid empty result, not an error.
type storeLoader struct {
	st *store.Store
}

func (l storeLoader) Load(key canvas.ChunkKey) (*canvas.ChunkSnapshot, bool, error) {
	snap, err := l.st.Load(key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// ChunkGeometry is one chunk's renderable output for the current frame.
type ChunkGeometry struct {
	Key      canvas.ChunkKey
	Version  uint64
	Geometry tess.Geometry
}

type cachedGeometry struct {
	version  uint64
	geometry tess.Geometry
}

// Engine is the infinite canvas core. The interactive timeline calls the
// stroke and frame methods; persistence runs on the scheduler's workers and
// never blocks a frame.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	store *store.Store
	idx   *canvas.Index
	model *canvas.Model
	queue *sched.Queue
	sched *sched.Scheduler

	cacheMu sync.Mutex
	cache   map[canvas.ChunkKey]cachedGeometry
}

// New builds an engine from an immutable configuration.
func New(cfg config.Config, logger zerolog.Logger) (*Engine, error) {
	st, err := store.New(store.Config{Dir: cfg.SaveDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	if cfg.CompactInterval > 0 {
		st.StartBackgroundCompaction(cfg.CompactInterval)
	}

	e := &Engine{
		cfg:   cfg,
		log:   logger,
		store: st,
		cache: make(map[canvas.ChunkKey]cachedGeometry),
	}

	e.idx = canvas.NewIndex(canvas.IndexConfig{
		Edge:   cfg.ChunkEdge,
		Loader: storeLoader{st: st},
		Flush:  st.Save,
		Policy: cfg.EvictPolicy,
		Logger: logger,
	})

	var onDirty canvas.DirtyFunc
	if cfg.AsyncSave {
		e.queue = sched.NewQueue()
		onDirty = e.queue.Enqueue
		e.sched = sched.New(sched.Config{
			Workers: cfg.SaveWorkers,
			Logger:  logger,
			OnFailure: func(f *sched.PersistenceFailure) {
				logger.Error().Err(f).Msg("chunk persistence failed; content kept in memory")
			},
		}, e.queue, e.idx, st)
		e.sched.Start()
	}

	e.model = canvas.NewModel(canvas.ModelConfig{
		Threshold:    cfg.PointThreshold,
		Smoothing:    cfg.Smoothing,
		SmoothSubdiv: cfg.SmoothSubdiv,
		BrushMin:     cfg.BrushMin,
		BrushMax:     cfg.BrushMax,
		Logger:       logger,
		OnDirty:      onDirty,
	}, e.idx)

	logger.Info().
		Str("dir", cfg.SaveDir).
		Float64("chunk_edge", cfg.ChunkEdge).
		Bool("async_save", cfg.AsyncSave).
		Msg("canvas engine ready")
	return e, nil
}

// BeginStroke starts a new pointer interaction.
func (e *Engine) BeginStroke(tool canvas.Tool, color canvas.RGBA, width float64) uuid.UUID {
	return e.model.BeginStroke(tool, color, width)
}

// ExtendStroke appends one unprojected world-space sample.
func (e *Engine) ExtendStroke(id uuid.UUID, sample geom.Point3) error {
	return e.model.ExtendStroke(id, sample)
}

// SealStroke makes the stroke immutable. With async saving disabled, every
// chunk the stroke touched is persisted synchronously before returning.
func (e *Engine) SealStroke(id uuid.UUID) error {
	keys, err := e.model.SealStroke(id)
	if err != nil {
		return err
	}
	if !e.cfg.AsyncSave {
		for _, key := range keys {
			if err := e.flushChunk(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Erase applies an eraser footprint directly, outside a stroke interaction.
// With async saving disabled the affected chunks are persisted immediately.
func (e *Engine) Erase(center geom.Vec3, radius float64) error {
	keys, err := e.model.Erase(center, radius)
	if err != nil {
		return err
	}
	if !e.cfg.AsyncSave {
		for _, key := range keys {
			if err := e.flushChunk(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// FrameGeometry returns the renderable geometry for every in-memory chunk in
// the viewport volume. Tessellations are cached by chunk version, so clean
// chunks cost a map lookup; absent chunks are skipped, never loaded here.
func (e *Engine) FrameGeometry(viewMin, viewMax geom.Vec3) []ChunkGeometry {
	keys := e.idx.ViewportKeys(viewMin, viewMax)
	out := make([]ChunkGeometry, 0, len(keys))

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for _, key := range keys {
		chunk := e.idx.Get(key)
		if chunk == nil {
			continue
		}
		version := chunk.Version()
		if cached, ok := e.cache[key]; ok && cached.version == version {
			out = append(out, ChunkGeometry{Key: key, Version: version, Geometry: cached.geometry})
			continue
		}
		g := tess.Tessellate(chunk.Snapshot())
		e.cache[key] = cachedGeometry{version: version, geometry: g}
		out = append(out, ChunkGeometry{Key: key, Version: version, Geometry: g})
	}
	return out
}

// PrefetchViewport warms the index for the viewport volume. Call during idle
// time so GetOrCreate never hits disk inside a frame.
func (e *Engine) PrefetchViewport(viewMin, viewMax geom.Vec3) error {
	return e.idx.Prefetch(e.idx.ViewportKeys(viewMin, viewMax))
}

// EvictChunk removes a chunk from memory per the configured eviction policy.
func (e *Engine) EvictChunk(key canvas.ChunkKey) error {
	if err := e.idx.Evict(key); err != nil {
		return err
	}
	e.cacheMu.Lock()
	delete(e.cache, key)
	e.cacheMu.Unlock()
	return nil
}

// Index exposes the chunk index for inspection.
func (e *Engine) Index() *canvas.Index { return e.idx }

// Store exposes the chunk store for inspection.
func (e *Engine) Store() *store.Store { return e.store }

// flushChunk synchronously persists one dirty chunk.
func (e *Engine) flushChunk(key canvas.ChunkKey) error {
	chunk := e.idx.Get(key)
	if chunk == nil || !chunk.Dirty() {
		return nil
	}
	snap := chunk.Snapshot()
	if err := e.store.Save(snap); err != nil {
		return fmt.Errorf("flush chunk %s: %w", key, err)
	}
	e.idx.AckPersisted(key, snap.Version)
	return nil
}

// Close drains pending persistence within the context's deadline, flushes
// any chunks still dirty, and closes the store. Chunks that could not be
// persisted are reported in the returned error.
func (e *Engine) Close(ctx context.Context) error {
	if e.sched != nil {
		e.sched.Stop()
		if leftover := e.sched.Drain(ctx); len(leftover) > 0 {
			e.log.Warn().Int("chunks", len(leftover)).Msg("drain incomplete at shutdown")
		}
	}

	var failed []canvas.ChunkKey
	for _, key := range e.idx.Keys() {
		if err := e.flushChunk(key); err != nil {
			e.log.Error().Err(err).Stringer("key", key).Msg("final flush failed")
			failed = append(failed, key)
		}
	}

	if err := e.store.Close(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d chunks left unpersisted at shutdown", len(failed))
	}
	return nil
}
