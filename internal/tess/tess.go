package tess

import (
	"math"

	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/geom"
)

const (
	circleSegments   = 32
	parabolaSegments = 16
)

// Tessellate derives the render geometry for one chunk snapshot. Runs are
// processed in stored order and metadata lookup is by stroke ID, so output
// depends only on snapshot content.
func Tessellate(snap *canvas.ChunkSnapshot) Geometry {
	metas := make(map[uuid.UUID]canvas.StrokeMeta, len(snap.Metas))
	for _, m := range snap.Metas {
		metas[m.ID] = m
	}

	var g Geometry
	for _, run := range snap.Runs {
		meta, ok := metas[run.Stroke]
		if !ok || len(run.Points) == 0 || meta.Tool == canvas.ToolEraser {
			continue
		}
		switch meta.Tool {
		case canvas.ToolLine:
			tessPolyline(&g, meta, shapeLine(run.Points))
		case canvas.ToolRect:
			tessPolyline(&g, meta, shapeRect(run.Points))
		case canvas.ToolCircle:
			tessPolyline(&g, meta, shapeCircle(run.Points))
		case canvas.ToolTriangle:
			tessPolyline(&g, meta, shapeTriangle(run.Points))
		case canvas.ToolParabola:
			tessPolyline(&g, meta, shapeParabola(run.Points))
		default: // brush
			tessPolyline(&g, meta, run.Points)
		}
	}
	return g
}

// tessPolyline emits a line strip plus its triangle ribbon. A single point
// degrades to a dot.
func tessPolyline(g *Geometry, meta canvas.StrokeMeta, pts []geom.Vec3) {
	if len(pts) == 0 {
		return
	}
	strip := LineStrip{Stroke: meta.ID, Color: meta.Color, Width: meta.Width, Points: pts}
	g.Strips = append(g.Strips, strip)

	mesh := Mesh{Stroke: meta.ID, Color: meta.Color}
	if len(pts) == 1 {
		mesh.Vertices = dot(pts[0], meta.Width)
	} else {
		mesh.Vertices = ribbon(pts, meta.Width)
	}
	g.Meshes = append(g.Meshes, mesh)
}

// ribbon produces two triangles per segment by offsetting each segment
// perpendicular to its direction. The offset plane is chosen from the segment
// direction alone, so shared seam points yield identical edge vertices in
// adjacent chunks.
func ribbon(pts []geom.Vec3, width float64) []geom.Vec3 {
	half := width / 2
	verts := make([]geom.Vec3, 0, (len(pts)-1)*6)
	for i := 0; i+1 < len(pts); i++ {
		p0, p1 := pts[i], pts[i+1]
		perp := perpendicular(p1.Sub(p0)).Mul(half)

		a := p0.Add(perp)
		b := p0.Sub(perp)
		c := p1.Add(perp)
		d := p1.Sub(perp)
		verts = append(verts, a, b, c, c, b, d)
	}
	return verts
}

// perpendicular returns a unit vector perpendicular to dir, in the plane most
// closely facing the canvas normal.
func perpendicular(dir geom.Vec3) geom.Vec3 {
	d := dir.Normalize()
	if d == (geom.Vec3{}) {
		return geom.V(1, 0, 0)
	}
	normal := geom.V(0, 0, 1)
	if math.Abs(d.Z) > math.Abs(d.X) && math.Abs(d.Z) > math.Abs(d.Y) {
		normal = geom.V(0, 1, 0)
	}
	p := d.Cross(normal).Normalize()
	if p == (geom.Vec3{}) {
		return geom.V(1, 0, 0)
	}
	return p
}

// dot produces a small quad centered on p.
func dot(p geom.Vec3, width float64) []geom.Vec3 {
	half := width / 2
	a := geom.V(p.X-half, p.Y-half, p.Z)
	b := geom.V(p.X+half, p.Y-half, p.Z)
	c := geom.V(p.X-half, p.Y+half, p.Z)
	d := geom.V(p.X+half, p.Y+half, p.Z)
	return []geom.Vec3{a, b, c, c, b, d}
}

// Shape tools are captured as raw point runs; their geometry derives from the
// run's anchor points.

func shapeLine(pts []geom.Vec3) []geom.Vec3 {
	if len(pts) < 2 {
		return pts
	}
	return []geom.Vec3{pts[0], pts[len(pts)-1]}
}

func shapeRect(pts []geom.Vec3) []geom.Vec3 {
	if len(pts) < 2 {
		return pts
	}
	a, b := pts[0], pts[len(pts)-1]
	return []geom.Vec3{
		a,
		geom.V(b.X, a.Y, a.Z),
		b,
		geom.V(a.X, b.Y, a.Z),
		a,
	}
}

func shapeCircle(pts []geom.Vec3) []geom.Vec3 {
	if len(pts) < 2 {
		return pts
	}
	a, b := pts[0], pts[len(pts)-1]
	center := a.Lerp(b, 0.5)
	radius := a.Distance(b) / 2
	out := make([]geom.Vec3, 0, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		t := 2 * math.Pi * float64(i) / circleSegments
		out = append(out, geom.V(
			center.X+radius*math.Cos(t),
			center.Y+radius*math.Sin(t),
			center.Z,
		))
	}
	return out
}

func shapeTriangle(pts []geom.Vec3) []geom.Vec3 {
	if len(pts) < 3 {
		return shapeLine(pts)
	}
	a := pts[0]
	b := pts[len(pts)/2]
	c := pts[len(pts)-1]
	return []geom.Vec3{a, b, c, a}
}

// shapeParabola fits a quadratic Bezier through the run's first, middle, and
// last points and samples it at fixed steps.
func shapeParabola(pts []geom.Vec3) []geom.Vec3 {
	if len(pts) < 3 {
		return shapeLine(pts)
	}
	p0 := pts[0]
	mid := pts[len(pts)/2]
	p2 := pts[len(pts)-1]
	// Control point chosen so the curve passes through mid at t=0.5.
	ctrl := mid.Mul(2).Sub(p0.Lerp(p2, 0.5))

	out := make([]geom.Vec3, 0, parabolaSegments+1)
	for i := 0; i <= parabolaSegments; i++ {
		t := float64(i) / parabolaSegments
		mt := 1 - t
		out = append(out, geom.Vec3{
			X: mt*mt*p0.X + 2*mt*t*ctrl.X + t*t*p2.X,
			Y: mt*mt*p0.Y + 2*mt*t*ctrl.Y + t*t*p2.Y,
			Z: mt*mt*p0.Z + 2*mt*t*ctrl.Z + t*t*p2.Z,
		})
	}
	return out
}
