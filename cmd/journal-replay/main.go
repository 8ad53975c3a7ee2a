// journal-replay feeds a recorded pointer-event log through the canvas
// engine into a chunk store. Useful for reproducing sessions headlessly and
// for stress-testing persistence.
//
// The event log is JSON Lines, one pointer event per line:
//
//	{"type":"down","x":0,"y":0,"z":0,"tool":"brush","color":[255,0,0,255],"width":4}
//	{"type":"move","x":0.5,"y":0,"z":0}
//	{"type":"up"}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/config"
	"github.com/infinitejournal/engine/internal/engine"
	"github.com/infinitejournal/engine/internal/geom"
	"github.com/infinitejournal/engine/internal/logx"
)

type event struct {
	Type  string    `json:"type"` // down, move, up
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Z     float64   `json:"z"`
	Tool  string    `json:"tool,omitempty"`
	Color [4]uint8  `json:"color,omitempty"`
	Width float64   `json:"width,omitempty"`
}

func main() {
	var (
		storeDir  = flag.String("store", "./data/journal", "chunk store directory")
		eventsLog = flag.String("events", "", "JSONL pointer-event log (required)")
		syncSave  = flag.Bool("sync", false, "save synchronously on seal instead of via the queue")
		threshold = flag.Float64("threshold", 0, "minimum inter-point distance (0 = config default)")
		chunkEdge = flag.Float64("chunk-edge", 0, "chunk edge length (0 = config default)")
		smoothing = flag.Bool("smoothing", true, "enable stroke smoothing")
		drainWait = flag.Duration("drain-wait", 10*time.Second, "shutdown drain timeout")
	)
	flag.Parse()

	logger := logx.NewLogger()
	if *eventsLog == "" {
		logger.Fatal().Msg("-events is required")
	}

	cfg := config.Load()
	cfg.SaveDir = *storeDir
	cfg.AsyncSave = !*syncSave
	cfg.Smoothing = *smoothing
	if *threshold > 0 {
		cfg.PointThreshold = *threshold
	}
	if *chunkEdge > 0 {
		cfg.ChunkEdge = *chunkEdge
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open engine")
	}

	f, err := os.Open(*eventsLog)
	if err != nil {
		logger.Fatal().Err(err).Msg("open event log")
	}
	defer f.Close()

	var (
		stroke  uuid.UUID
		active  bool
		seq     uint64
		strokes int
		points  int
		lineNo  int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn().Int("line", lineNo).Err(err).Msg("skipping malformed event")
			continue
		}

		switch ev.Type {
		case "down":
			tool, ok := canvas.ParseTool(ev.Tool)
			if !ok {
				tool = canvas.ToolBrush
			}
			color := canvas.RGBA{R: ev.Color[0], G: ev.Color[1], B: ev.Color[2], A: ev.Color[3]}
			stroke = eng.BeginStroke(tool, color, ev.Width)
			active = true
			strokes++
			fallthrough
		case "move":
			if !active {
				logger.Warn().Int("line", lineNo).Msg("move before down; skipping")
				continue
			}
			seq++
			sample := geom.Point3{Pos: geom.V(ev.X, ev.Y, ev.Z), Seq: seq, CapturedAt: time.Now()}
			if err := eng.ExtendStroke(stroke, sample); err != nil {
				logger.Fatal().Err(err).Int("line", lineNo).Msg("extend stroke")
			}
			points++
		case "up":
			if !active {
				continue
			}
			if err := eng.SealStroke(stroke); err != nil {
				logger.Fatal().Err(err).Int("line", lineNo).Msg("seal stroke")
			}
			active = false
		default:
			logger.Warn().Int("line", lineNo).Str("type", ev.Type).Msg("unknown event type")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal().Err(err).Msg("read event log")
	}
	if active {
		if err := eng.SealStroke(stroke); err != nil {
			logger.Fatal().Err(err).Msg("seal trailing stroke")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *drainWait)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Fatal().Err(err).Msg("close engine")
	}

	stats := eng.Store().Stats()
	logger.Info().
		Int("strokes", strokes).
		Int("points", points).
		Int("chunks", stats.Chunks).
		Int64("disk_bytes", stats.DiskBytes).
		Msg("replay complete")
}
