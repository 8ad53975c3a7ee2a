// Package tess derives renderable geometry from chunk snapshots. It is a
// total, deterministic function over valid chunk state: malformed runs
// degrade to minimal-but-valid geometry instead of failing, and identical
// input always produces bit-identical output so callers can cache by chunk
// version.
package tess

import (
	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/geom"
)

// LineStrip is a connected polyline for one point run.
type LineStrip struct {
	Stroke uuid.UUID
	Color  canvas.RGBA
	Width  float64
	Points []geom.Vec3
}

// Mesh is a triangle list for one point run; every consecutive vertex triple
// is one triangle.
type Mesh struct {
	Stroke   uuid.UUID
	Color    canvas.RGBA
	Vertices []geom.Vec3
}

// Geometry is the renderable output for one chunk. The external renderer owns
// buffer upload and draw submission.
type Geometry struct {
	Strips []LineStrip
	Meshes []Mesh
}

// VertexCount returns the total number of vertices across strips and meshes.
func (g Geometry) VertexCount() int {
	n := 0
	for _, s := range g.Strips {
		n += len(s.Points)
	}
	for _, m := range g.Meshes {
		n += len(m.Vertices)
	}
	return n
}
