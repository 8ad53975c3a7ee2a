package geom

import "testing"

func collect(s *Smoother, pts []Vec3) []Vec3 {
	var out []Vec3
	for _, p := range pts {
		out = append(out, s.Push(p)...)
	}
	return append(out, s.Flush()...)
}

func TestSmootherDisabledIsIdentity(t *testing.T) {
	s := NewSmoother(false, 4)
	in := []Vec3{V(0, 0, 0), V(1, 0, 0), V(2, 1, 0)}
	out := collect(s, in)
	if len(out) != len(in) {
		t.Fatalf("output count = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestSmootherPassesThroughRawPoints(t *testing.T) {
	s := NewSmoother(true, 4)
	in := []Vec3{V(0, 0, 0), V(1, 0, 0), V(2, 1, 0), V(3, 0, 0), V(4, 2, 0)}
	out := collect(s, in)

	// Catmull-Rom interpolates through its control points: every raw point
	// must appear in the emitted sequence.
	for _, want := range in {
		found := false
		for _, got := range out {
			if got.Distance(want) < 1e-9 {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("raw point %v missing from smoothed output", want)
		}
	}
}

func TestSmootherDeterministic(t *testing.T) {
	in := []Vec3{V(0, 0, 0), V(1, 0.5, 0), V(2, -0.5, 0), V(3, 1, 0)}
	a := collect(NewSmoother(true, 4), in)
	b := collect(NewSmoother(true, 4), in)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("output[%d] differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSmootherSinglePoint(t *testing.T) {
	s := NewSmoother(true, 4)
	out := collect(s, []Vec3{V(5, 5, 5)})
	if len(out) != 1 || out[0] != V(5, 5, 5) {
		t.Fatalf("single point output = %v, want [(5,5,5)]", out)
	}
}

func TestSmootherTwoPoints(t *testing.T) {
	s := NewSmoother(true, 4)
	out := collect(s, []Vec3{V(0, 0, 0), V(1, 0, 0)})
	if len(out) == 0 {
		t.Fatal("two-point stroke produced no output")
	}
	if out[0] != V(0, 0, 0) {
		t.Errorf("first output = %v, want (0,0,0)", out[0])
	}
	last := out[len(out)-1]
	if last.Distance(V(1, 0, 0)) > 1e-9 {
		t.Errorf("last output = %v, want (1,0,0)", last)
	}
}

func TestSmootherFlushResets(t *testing.T) {
	s := NewSmoother(true, 4)
	collect(s, []Vec3{V(0, 0, 0), V(1, 0, 0), V(2, 0, 0)})
	// Reused for a second stroke: output must match a fresh smoother.
	in := []Vec3{V(10, 0, 0), V(11, 0, 0), V(12, 0, 0)}
	a := collect(s, in)
	b := collect(NewSmoother(true, 4), in)
	if len(a) != len(b) {
		t.Fatalf("reused smoother output length %d, fresh %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("output[%d]: reused %v, fresh %v", i, a[i], b[i])
		}
	}
}
