// Package config holds the engine's startup configuration.
//
// A Config is built once (from JOURNAL_* environment variables, optionally
// overridden by command-line flags in the cmd binaries) and passed explicitly
// to each component constructor. Core packages never read the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// EvictPolicy controls what happens when a dirty chunk with no in-flight
// save is evicted from the index.
type EvictPolicy int

const (
	// EvictFlush synchronously persists a dirty chunk before removing it.
	EvictFlush EvictPolicy = iota
	// EvictDrop removes the chunk without persisting; unpersisted mutations
	// are lost. Useful when the caller knows the chunk will be redrawn.
	EvictDrop
)

// Config is the immutable engine configuration.
type Config struct {
	// Window/shell hints, consumed by the external platform glue.
	WindowWidth  int
	WindowHeight int
	Title        string
	TargetFPS    int

	// Drawing
	Smoothing      bool    // enable the Catmull-Rom smoothing filter
	SmoothSubdiv   int     // emitted points per smoothed segment
	PointThreshold float64 // minimum accepted inter-point distance
	BrushMin       float64
	BrushMax       float64

	// Canvas partitioning
	ChunkEdge float64 // chunk cube edge length, fixed at process start

	// Persistence
	AsyncSave       bool // false: save synchronously on seal/eraser-commit
	SaveDir         string
	SaveWorkers     int
	EvictPolicy     EvictPolicy
	CompactInterval time.Duration // 0 disables background compaction
}

// Default returns the built-in defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		WindowWidth:     1280,
		WindowHeight:    720,
		Title:           "Infinite Journal",
		TargetFPS:       60,
		Smoothing:       true,
		SmoothSubdiv:    4,
		PointThreshold:  2.0,
		BrushMin:        1,
		BrushMax:        100,
		ChunkEdge:       64.0,
		AsyncSave:       true,
		SaveDir:         home + "/.infinitejournal",
		SaveWorkers:     1,
		EvictPolicy:     EvictFlush,
		CompactInterval: 5 * time.Minute,
	}
}

// Load builds a Config from defaults overridden by JOURNAL_* environment
// variables. Unparseable values fall back to the default.
func Load() Config {
	cfg := Default()
	cfg.WindowWidth = envInt("JOURNAL_WIDTH", cfg.WindowWidth)
	cfg.WindowHeight = envInt("JOURNAL_HEIGHT", cfg.WindowHeight)
	cfg.Title = envStr("JOURNAL_TITLE", cfg.Title)
	cfg.TargetFPS = envInt("JOURNAL_FPS", cfg.TargetFPS)
	cfg.Smoothing = envBool("JOURNAL_SMOOTHING", cfg.Smoothing)
	cfg.SmoothSubdiv = envInt("JOURNAL_SMOOTH_SUBDIV", cfg.SmoothSubdiv)
	cfg.PointThreshold = envFloat("JOURNAL_POINT_THRESHOLD", cfg.PointThreshold)
	cfg.BrushMin = envFloat("JOURNAL_BRUSH_MIN", cfg.BrushMin)
	cfg.BrushMax = envFloat("JOURNAL_BRUSH_MAX", cfg.BrushMax)
	cfg.ChunkEdge = envFloat("JOURNAL_CHUNK_EDGE", cfg.ChunkEdge)
	cfg.AsyncSave = envBool("JOURNAL_ASYNC_SAVE", cfg.AsyncSave)
	cfg.SaveDir = envStr("JOURNAL_SAVE_DIR", cfg.SaveDir)
	cfg.SaveWorkers = envInt("JOURNAL_SAVE_WORKERS", cfg.SaveWorkers)
	if envStr("JOURNAL_EVICT_POLICY", "flush") == "drop" {
		cfg.EvictPolicy = EvictDrop
	}
	cfg.CompactInterval = envDuration("JOURNAL_COMPACT_INTERVAL", cfg.CompactInterval)
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
