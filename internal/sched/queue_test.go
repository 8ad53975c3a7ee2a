package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/infinitejournal/engine/internal/canvas"
)

func TestEnqueueCoalesces(t *testing.T) {
	q := NewQueue()
	key := canvas.ChunkKey{X: 1}

	q.Enqueue(key, 1)
	q.Enqueue(key, 5)
	q.Enqueue(key, 3) // never lowers the pending target

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1 (coalesced)", q.Len())
	}
	got, version, ok := q.TryDequeue()
	if !ok {
		t.Fatal("TryDequeue empty")
	}
	if got != key || version != 5 {
		t.Errorf("dequeued %v@%d, want %v@5", got, version, key)
	}
}

func TestDequeueFIFOAcrossKeys(t *testing.T) {
	q := NewQueue()
	a, b := canvas.ChunkKey{X: 1}, canvas.ChunkKey{X: 2}
	q.Enqueue(a, 1)
	q.Enqueue(b, 1)
	q.Enqueue(a, 2) // coalesces, keeps position

	ctx := context.Background()
	k1, _, _ := q.Dequeue(ctx)
	k2, v2, _ := q.Dequeue(ctx)
	if k1 != a || k2 != b {
		t.Errorf("order = %v, %v, want %v, %v", k1, k2, a, b)
	}
	if v2 != 1 {
		t.Errorf("b version = %d, want 1", v2)
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	key := canvas.ChunkKey{X: 7}

	done := make(chan canvas.ChunkKey, 1)
	go func() {
		k, _, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue: %v", err)
		}
		done <- k
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(key, 1)

	select {
	case k := <-done:
		if k != key {
			t.Errorf("dequeued %v, want %v", k, key)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake on Enqueue")
	}
}

func TestDequeueCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, _, err := q.Dequeue(ctx)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return on cancel")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				q.Enqueue(canvas.ChunkKey{X: int32(p)}, uint64(i))
			}
		}(p)
	}
	wg.Wait()

	// One entry per key, each carrying the highest enqueued version.
	if q.Len() != producers {
		t.Fatalf("len = %d, want %d", q.Len(), producers)
	}
	for {
		_, version, ok := q.TryDequeue()
		if !ok {
			break
		}
		if version != perProducer {
			t.Errorf("version = %d, want %d", version, perProducer)
		}
	}
}

func TestKeysDoesNotConsume(t *testing.T) {
	q := NewQueue()
	q.Enqueue(canvas.ChunkKey{X: 1}, 1)
	q.Enqueue(canvas.ChunkKey{X: 2}, 1)

	keys := q.Keys()
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2 entries", keys)
	}
	if q.Len() != 2 {
		t.Errorf("len after Keys = %d, want 2", q.Len())
	}
}
