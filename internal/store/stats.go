package store

import (
	"os"
	"sort"
)

// Stats summarizes the on-disk state and counters since open.
type Stats struct {
	Chunks       int
	Generations  int // total generation files, including superseded ones
	DiskBytes    int64
	Saves        uint64
	Loads        uint64
	StaleRejects uint64
}

// Stats scans the store directory and returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Chunks:       len(s.gens),
		Saves:        s.saves.Load(),
		Loads:        s.loads.Load(),
		StaleRejects: s.staleRejects.Load(),
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return st
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, ok := parseFileName(e.Name()); !ok {
			continue
		}
		st.Generations++
		if info, err := e.Info(); err == nil {
			st.DiskBytes += info.Size()
		}
	}
	return st
}

// Entry describes the latest durable record for one chunk key.
type Entry struct {
	Key        string
	Generation uint64
	Version    uint64
}

// Entries lists the latest durable record per key, sorted by key string.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.gens))
	for key, entry := range s.gens {
		out = append(out, Entry{Key: key.String(), Generation: entry.gen, Version: entry.version})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
