// Package canvas implements the infinite canvas core: the sparse chunk index
// partitioning the unbounded coordinate space, and the stroke model that
// accumulates, smooths, and routes drawn points into per-chunk point runs.
package canvas

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/geom"
)

// Tool identifies the drawing tool that produced a stroke. The set is closed;
// point routing and tessellation dispatch on it.
type Tool uint8

const (
	ToolBrush Tool = iota
	ToolEraser
	ToolLine
	ToolRect
	ToolCircle
	ToolTriangle
	ToolParabola
)

var toolNames = [...]string{"brush", "eraser", "line", "rect", "circle", "triangle", "parabola"}

func (t Tool) String() string {
	if int(t) < len(toolNames) {
		return toolNames[t]
	}
	return fmt.Sprintf("tool(%d)", uint8(t))
}

// ParseTool maps a tool name to its Tool value.
func ParseTool(s string) (Tool, bool) {
	for i, name := range toolNames {
		if name == s {
			return Tool(i), true
		}
	}
	return 0, false
}

// RGBA is a stroke color.
type RGBA struct {
	R, G, B, A uint8
}

// StrokeMeta is the tool metadata carried by every stroke.
type StrokeMeta struct {
	ID    uuid.UUID
	Tool  Tool
	Color RGBA
	Width float64
}

// PointRun is the subset of one stroke's points owned by one chunk. The
// stroke back-reference lets eraser and editing operations re-join runs that
// were split across chunk boundaries.
type PointRun struct {
	Stroke uuid.UUID
	Points []geom.Vec3
}

// ChunkKey addresses one fixed-size cubic cell of the canvas.
type ChunkKey struct {
	X, Y, Z int32
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Z)
}

// Resolve maps a world-space point to its owning chunk key by flooring each
// axis divided by the chunk edge length.
func Resolve(p geom.Vec3, edge float64) ChunkKey {
	return ChunkKey{
		X: int32(math.Floor(p.X / edge)),
		Y: int32(math.Floor(p.Y / edge)),
		Z: int32(math.Floor(p.Z / edge)),
	}
}
