package geom

// Smoother is a moving-window Catmull-Rom filter. Raw accepted points go in
// via Push; smoothed points come out, trailing one raw point behind the input
// so each emitted segment has a forward control point. Every raw point's
// position appears in the output (Catmull-Rom interpolates through its control
// points), so the filter reshapes segments without dropping samples.
//
// Output depends only on the pushed points and the subdivision count, never on
// timing, so identical input produces identical output.
type Smoother struct {
	enabled bool
	subdiv  int
	window  []Vec3
}

// NewSmoother returns a smoother emitting subdiv points per segment.
// A disabled smoother is the identity filter.
func NewSmoother(enabled bool, subdiv int) *Smoother {
	if subdiv < 1 {
		subdiv = 4
	}
	return &Smoother{enabled: enabled, subdiv: subdiv}
}

// Push accepts one raw point and returns zero or more smoothed points.
func (s *Smoother) Push(p Vec3) []Vec3 {
	if !s.enabled {
		return []Vec3{p}
	}
	s.window = append(s.window, p)
	n := len(s.window)
	switch {
	case n == 1:
		// Emit the anchor immediately so a dot appears on pointer-down.
		return []Vec3{p}
	case n == 2:
		return nil
	default:
		// Segment window[n-3] -> window[n-2]; the first control point is the
		// segment start itself when there is no earlier neighbor.
		p0 := s.window[n-3]
		if n >= 4 {
			p0 = s.window[n-4]
		}
		out := s.segment(p0, s.window[n-3], s.window[n-2], s.window[n-1])
		s.trim()
		return out
	}
}

// Flush emits the trailing segment held back by the lookahead. The smoother
// is reset and may be reused for a new stroke.
func (s *Smoother) Flush() []Vec3 {
	if !s.enabled {
		return nil
	}
	defer func() { s.window = s.window[:0] }()
	n := len(s.window)
	if n < 2 {
		return nil
	}
	p0 := s.window[n-2]
	if n >= 3 {
		p0 = s.window[n-3]
	}
	// Final control point duplicated at the end.
	return s.segment(p0, s.window[n-2], s.window[n-1], s.window[n-1])
}

// segment evaluates the Catmull-Rom span p1->p2 at subdiv uniform steps,
// excluding t=0 (p1 was emitted by the previous segment).
func (s *Smoother) segment(p0, p1, p2, p3 Vec3) []Vec3 {
	out := make([]Vec3, 0, s.subdiv)
	for i := 1; i <= s.subdiv; i++ {
		t := float64(i) / float64(s.subdiv)
		out = append(out, catmullRom(p0, p1, p2, p3, t))
	}
	return out
}

// trim keeps only the last 3 points; older ones can no longer be controls.
func (s *Smoother) trim() {
	if len(s.window) > 3 {
		copy(s.window, s.window[len(s.window)-3:])
		s.window = s.window[:3]
	}
}

// catmullRom evaluates the uniform Catmull-Rom spline through p1..p2 at t.
func catmullRom(p0, p1, p2, p3 Vec3, t float64) Vec3 {
	t2 := t * t
	t3 := t2 * t
	eval := func(a, b, c, d float64) float64 {
		return 0.5 * ((2 * b) +
			(-a+c)*t +
			(2*a-5*b+4*c-d)*t2 +
			(-a+3*b-3*c+d)*t3)
	}
	return Vec3{
		X: eval(p0.X, p1.X, p2.X, p3.X),
		Y: eval(p0.Y, p1.Y, p2.Y, p3.Y),
		Z: eval(p0.Z, p1.Z, p2.Z, p3.Z),
	}
}
