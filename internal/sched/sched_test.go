package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/geom"
)

type savedRecord struct {
	key     canvas.ChunkKey
	version uint64
}

type fakeSaver struct {
	mu       sync.Mutex
	saves    []savedRecord
	failures int // fail this many saves before succeeding
	err      error
}

func (f *fakeSaver) Save(snap *canvas.ChunkSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return f.err
		}
		return errors.New("save failed")
	}
	f.saves = append(f.saves, savedRecord{key: snap.Key, version: snap.Version})
	return nil
}

func (f *fakeSaver) saved() []savedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]savedRecord, len(f.saves))
	copy(out, f.saves)
	return out
}

type fakeSource struct {
	mu     sync.Mutex
	chunks map[canvas.ChunkKey]*canvas.Chunk
	acks   []savedRecord
}

func newFakeSource() *fakeSource {
	return &fakeSource{chunks: make(map[canvas.ChunkKey]*canvas.Chunk)}
}

func (f *fakeSource) add(key canvas.ChunkKey, points int) *canvas.Chunk {
	c := canvas.NewChunk(key)
	meta := canvas.StrokeMeta{ID: uuid.New(), Tool: canvas.ToolBrush, Width: 2}
	for i := 0; i < points; i++ {
		c.Append(meta, geom.V(float64(i), 0, 0), i == 0)
	}
	f.mu.Lock()
	f.chunks[key] = c
	f.mu.Unlock()
	return c
}

func (f *fakeSource) Get(key canvas.ChunkKey) *canvas.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[key]
}

func (f *fakeSource) AckPersisted(key canvas.ChunkKey, version uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, savedRecord{key: key, version: version})
	if c := f.chunks[key]; c != nil {
		c.SetInFlight(false)
	}
}

func TestSchedulerPersistsQueuedChunk(t *testing.T) {
	saver := &fakeSaver{}
	src := newFakeSource()
	key := canvas.ChunkKey{X: 1}
	c := src.add(key, 3)

	q := NewQueue()
	s := New(Config{Logger: zerolog.Nop()}, q, src, saver)
	s.Start()
	defer s.Stop()

	q.Enqueue(key, c.Version())

	deadline := time.After(2 * time.Second)
	for {
		if saves := saver.saved(); len(saves) == 1 {
			if saves[0].key != key || saves[0].version != 3 {
				t.Fatalf("saved %v, want %v@3", saves[0], key)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("chunk never persisted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Success is acknowledged back to the source at the saved version.
	deadline = time.After(2 * time.Second)
	for {
		src.mu.Lock()
		acked := len(src.acks) == 1 && src.acks[0] == (savedRecord{key: key, version: 3})
		src.mu.Unlock()
		if acked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("persistence never acknowledged")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCoalescedEnqueuesSaveOnce(t *testing.T) {
	saver := &fakeSaver{}
	src := newFakeSource()
	key := canvas.ChunkKey{X: 2}
	c := src.add(key, 1)
	meta := canvas.StrokeMeta{ID: uuid.New(), Tool: canvas.ToolBrush, Width: 2}

	q := NewQueue()
	// Dirty the chunk many times before any worker runs.
	for i := 0; i < 10; i++ {
		v := c.Append(meta, geom.V(float64(i), 1, 0), i == 0)
		q.Enqueue(key, v)
	}

	s := New(Config{Logger: zerolog.Nop()}, q, src, saver)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for len(saver.saved()) == 0 {
		select {
		case <-deadline:
			t.Fatal("never saved")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond) // catch any spurious second save

	saves := saver.saved()
	if len(saves) != 1 {
		t.Fatalf("saves = %d, want 1 (coalesced)", len(saves))
	}
	if saves[0].version != c.Version() {
		t.Errorf("saved version %d, want latest %d", saves[0].version, c.Version())
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	saver := &fakeSaver{failures: 2}
	src := newFakeSource()
	key := canvas.ChunkKey{X: 3}
	c := src.add(key, 2)

	q := NewQueue()
	q.Enqueue(key, c.Version())

	s := New(Config{MaxAttempts: 5, BaseBackoff: time.Millisecond, Logger: zerolog.Nop()}, q, src, saver)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for len(saver.saved()) == 0 {
		select {
		case <-deadline:
			t.Fatal("save never succeeded after transient failures")
		case <-time.After(5 * time.Millisecond):
		}
	}
	deadline = time.After(time.Second)
	for c.InFlight() {
		select {
		case <-deadline:
			t.Fatal("in-flight marker never cleared after success")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetriesExhaustedReportsFailure(t *testing.T) {
	saver := &fakeSaver{failures: 100, err: errors.New("disk full")}
	src := newFakeSource()
	key := canvas.ChunkKey{X: 4}
	c := src.add(key, 1)

	failures := make(chan *PersistenceFailure, 1)
	q := NewQueue()
	q.Enqueue(key, c.Version())

	s := New(Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Logger:      zerolog.Nop(),
		OnFailure:   func(f *PersistenceFailure) { failures <- f },
	}, q, src, saver)
	s.Start()
	defer s.Stop()

	select {
	case f := <-failures:
		if f.Key != key || f.Attempts != 3 {
			t.Errorf("failure = %+v, want key %v after 3 attempts", f, key)
		}
		if !errors.Is(f, saver.err) {
			t.Error("failure does not unwrap to the save error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure never called")
	}

	// The chunk stays dirty so the data is not lost, and is evictable again.
	if !c.Dirty() {
		t.Error("chunk no longer dirty after failed persistence")
	}
	deadline := time.After(time.Second)
	for c.InFlight() {
		select {
		case <-deadline:
			t.Fatal("in-flight marker never cleared after failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPersistSkipsEvictedChunk(t *testing.T) {
	saver := &fakeSaver{}
	src := newFakeSource() // no chunks registered

	q := NewQueue()
	q.Enqueue(canvas.ChunkKey{X: 9}, 1)

	s := New(Config{Logger: zerolog.Nop()}, q, src, saver)
	s.Start()
	s.Stop()

	if got := len(saver.saved()); got != 0 {
		t.Errorf("saves = %d, want 0 for evicted chunk", got)
	}
}

func TestDrainPersistsEverything(t *testing.T) {
	saver := &fakeSaver{}
	src := newFakeSource()
	q := NewQueue()
	for i := int32(0); i < 5; i++ {
		key := canvas.ChunkKey{X: i}
		c := src.add(key, 1)
		q.Enqueue(key, c.Version())
	}

	s := New(Config{Logger: zerolog.Nop()}, q, src, saver)

	leftover := s.Drain(context.Background())
	if len(leftover) != 0 {
		t.Errorf("leftover = %v, want none", leftover)
	}
	if got := len(saver.saved()); got != 5 {
		t.Errorf("saves = %d, want 5", got)
	}
	if q.Len() != 0 {
		t.Errorf("queue len after drain = %d, want 0", q.Len())
	}
}

func TestDrainTimeoutReportsLeftovers(t *testing.T) {
	saver := &fakeSaver{}
	src := newFakeSource()
	q := NewQueue()
	for i := int32(0); i < 3; i++ {
		key := canvas.ChunkKey{X: i}
		c := src.add(key, 1)
		q.Enqueue(key, c.Version())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // deadline already passed

	s := New(Config{Logger: zerolog.Nop()}, q, src, saver)
	leftover := s.Drain(ctx)
	if len(leftover) != 3 {
		t.Errorf("leftover = %d keys, want 3", len(leftover))
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()}, NewQueue(), newFakeSource(), &fakeSaver{})
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
