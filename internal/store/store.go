// Package store persists chunk snapshots as versioned, zstd-compressed
// records on disk. Each save writes a new generation file and atomically
// renames it into place; a crash can never corrupt a live record. Superseded
// generations are garbage-collected by Compact.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/canvas"
)

// ErrNotFound is returned by Load when no record exists for a key. It is a
// valid "chunk has no prior data" result, not a failure.
var ErrNotFound = errors.New("not found")

const fileExt = ".ckv1"

// Config configures the Store.
type Config struct {
	Dir         string
	Compression string // "fast" (default) or "best"
	Logger      zerolog.Logger
}

type genEntry struct {
	gen     uint64
	version uint64
}

// Store is the durable chunk store.
type Store struct {
	dir string
	log zerolog.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu   sync.RWMutex
	gens map[canvas.ChunkKey]genEntry

	// Background compaction
	compactStop chan struct{}
	compactDone chan struct{}
	compacting  bool

	saves        atomic.Uint64
	loads        atomic.Uint64
	staleRejects atomic.Uint64
}

// New opens (or creates) a store rooted at cfg.Dir and indexes the existing
// generation files.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	level := zstd.SpeedFastest
	if cfg.Compression == "best" {
		level = zstd.SpeedBestCompression
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:     cfg.Dir,
		log:     cfg.Logger,
		encoder: encoder,
		decoder: decoder,
		gens:    make(map[canvas.ChunkKey]genEntry),
	}
	if err := s.scan(); err != nil {
		return nil, fmt.Errorf("scan store dir: %w", err)
	}
	return s, nil
}

// scan indexes the latest generation per key, reading each latest record to
// learn its durable version. Leftover .tmp files from a crash are removed.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(s.dir, name))
			continue
		}
		key, gen, ok := parseFileName(name)
		if !ok {
			continue
		}
		if cur, exists := s.gens[key]; !exists || gen > cur.gen {
			s.gens[key] = genEntry{gen: gen}
		}
	}
	for key, entry := range s.gens {
		snap, err := s.readGeneration(key, entry.gen)
		if err != nil {
			return fmt.Errorf("read %s gen %d: %w", key, entry.gen, err)
		}
		entry.version = snap.Version
		s.gens[key] = entry
	}
	return nil
}

// Save durably writes a snapshot as a new generation. A snapshot whose
// version is not newer than the durable version is a silent no-op. The record
// is written to a temporary file and renamed into its final slot, never
// overwriting a live record in place.
func (s *Store) Save(snap *canvas.ChunkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.gens[snap.Key]
	if exists && snap.Version <= entry.version {
		s.staleRejects.Add(1)
		s.log.Debug().
			Stringer("key", snap.Key).
			Uint64("version", snap.Version).
			Uint64("durable", entry.version).
			Msg("stale save rejected")
		return nil
	}

	gen := entry.gen + 1
	path := s.filePath(snap.Key, gen)
	tmp := path + ".tmp"

	data := s.encoder.EncodeAll(encodeRecord(snap), nil)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write record %s: %w", snap.Key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename record %s: %w", snap.Key, err)
	}

	s.gens[snap.Key] = genEntry{gen: gen, version: snap.Version}
	s.saves.Add(1)
	s.log.Debug().
		Stringer("key", snap.Key).
		Uint64("version", snap.Version).
		Uint64("gen", gen).
		Int("bytes", len(data)).
		Msg("saved chunk record")
	return nil
}

// Load returns the latest durable snapshot for key, or ErrNotFound.
func (s *Store) Load(key canvas.ChunkKey) (*canvas.ChunkSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.gens[key]
	if !ok {
		return nil, ErrNotFound
	}
	snap, err := s.readGeneration(key, entry.gen)
	if err != nil {
		return nil, err
	}
	s.loads.Add(1)
	return snap, nil
}

func (s *Store) readGeneration(key canvas.ChunkKey, gen uint64) (*canvas.ChunkSnapshot, error) {
	data, err := os.ReadFile(s.filePath(key, gen))
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", key, err)
	}
	plain, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress record %s: %w", key, err)
	}
	return decodeRecord(plain)
}

// Compact garbage-collects superseded generation files. Loads hold the read
// lock for the full read, so no in-flight reader can reference a file being
// removed.
func (s *Store) Compact() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compacting {
		return 0, nil
	}
	s.compacting = true
	defer func() { s.compacting = false }()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, gen, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		if latest, exists := s.gens[key]; exists && gen < latest.gen {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return removed, fmt.Errorf("remove superseded %s: %w", e.Name(), err)
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.Info().Int("files", removed).Msg("compacted superseded generations")
	}
	return removed, nil
}

// Close stops background compaction and releases codec resources.
func (s *Store) Close() error {
	s.StopBackgroundCompaction()
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *Store) filePath(key canvas.ChunkKey, gen uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("c%d.%d.%d-g%06d%s", key.X, key.Y, key.Z, gen, fileExt))
}

// parseFileName inverts filePath: c<x>.<y>.<z>-g<gen>.ckv1
func parseFileName(name string) (canvas.ChunkKey, uint64, bool) {
	if !strings.HasSuffix(name, fileExt) || !strings.HasPrefix(name, "c") {
		return canvas.ChunkKey{}, 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, "c"), fileExt)
	sep := strings.LastIndex(body, "-g")
	if sep < 0 {
		return canvas.ChunkKey{}, 0, false
	}
	parts := strings.Split(body[:sep], ".")
	if len(parts) != 3 {
		return canvas.ChunkKey{}, 0, false
	}
	var axes [3]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return canvas.ChunkKey{}, 0, false
		}
		axes[i] = int32(n)
	}
	gen, err := strconv.ParseUint(body[sep+2:], 10, 64)
	if err != nil {
		return canvas.ChunkKey{}, 0, false
	}
	return canvas.ChunkKey{X: axes[0], Y: axes[1], Z: axes[2]}, gen, true
}
