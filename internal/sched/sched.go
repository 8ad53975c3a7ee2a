package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/infinitejournal/engine/internal/canvas"
)

// Saver persists one chunk snapshot.
type Saver interface {
	Save(*canvas.ChunkSnapshot) error
}

// ChunkSource hands out live chunks for snapshotting and receives
// persistence acknowledgements. The chunk index implements it.
type ChunkSource interface {
	Get(canvas.ChunkKey) *canvas.Chunk
	AckPersisted(canvas.ChunkKey, uint64)
}

// PersistenceFailure reports a save whose retries were exhausted. The chunk
// remains dirty in memory and is retried on the next dirty event or the
// shutdown flush; the interactive session continues.
type PersistenceFailure struct {
	Key      canvas.ChunkKey
	Version  uint64
	Attempts int
	Err      error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist chunk %s version %d failed after %d attempts: %v",
		e.Key, e.Version, e.Attempts, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// Config configures the Scheduler.
type Config struct {
	Workers     int           // default 1
	MaxAttempts int           // default 5
	BaseBackoff time.Duration // default 50ms, doubled per attempt
	Logger      zerolog.Logger
	OnFailure   func(*PersistenceFailure) // surfaced to the application shell
}

// Scheduler drains the persistence queue on background workers. Workers take
// a version-stamped snapshot of each dequeued chunk and write it to the
// store; they never write back into the live chunk.
type Scheduler struct {
	cfg   Config
	log   zerolog.Logger
	queue *Queue
	src   ChunkSource
	saver Saver

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler draining queue into saver.
func New(cfg Config, queue *Queue, src ChunkSource, saver Saver) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 50 * time.Millisecond
	}
	return &Scheduler{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: queue,
		src:   src,
		saver: saver,
	}
}

// Start launches the background workers.
func (s *Scheduler) Start() {
	if s.cancel != nil {
		return // already running
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			s.run(ctx, worker)
		}(i)
	}
	s.log.Info().Int("workers", s.cfg.Workers).Msg("persistence scheduler started")
}

// Stop cancels the workers and waits for them to exit. Queued work is left
// in place for Drain.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.log.Info().Int("queued", s.queue.Len()).Msg("persistence scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, worker int) {
	log := s.log.With().Int("worker", worker).Logger()
	for {
		key, version, err := s.queue.Dequeue(ctx)
		if err != nil {
			log.Debug().Msg("worker exiting")
			return
		}
		s.persist(ctx, key, version)
	}
}

// persist snapshots the chunk and saves it with bounded retries. The
// in-flight marker blocks eviction of the chunk for the duration.
func (s *Scheduler) persist(ctx context.Context, key canvas.ChunkKey, version uint64) {
	chunk := s.src.Get(key)
	if chunk == nil {
		// Evicted since enqueue; the eviction path already persisted or
		// deliberately dropped it.
		return
	}
	chunk.SetInFlight(true)
	defer chunk.SetInFlight(false)

	// The snapshot is at least the queued version: the interactive timeline
	// only moves versions forward.
	snap := chunk.Snapshot()
	if snap.Version < version {
		s.log.Warn().
			Stringer("key", key).
			Uint64("snapshot", snap.Version).
			Uint64("queued", version).
			Msg("snapshot older than queued version")
	}

	if err := s.saveWithRetry(ctx, snap); err != nil {
		failure := &PersistenceFailure{
			Key:      key,
			Version:  snap.Version,
			Attempts: s.cfg.MaxAttempts,
			Err:      err,
		}
		s.log.Error().Err(failure).Msg("persistence retries exhausted")
		if s.cfg.OnFailure != nil {
			s.cfg.OnFailure(failure)
		}
		return
	}
	s.src.AckPersisted(key, snap.Version)
}

func (s *Scheduler) saveWithRetry(ctx context.Context, snap *canvas.ChunkSnapshot) error {
	backoff := s.cfg.BaseBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err = s.saver.Save(snap); err == nil {
			return nil
		}
		s.log.Warn().
			Stringer("key", snap.Key).
			Int("attempt", attempt).
			Err(err).
			Msg("save failed")
		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Drain synchronously persists all queued work within the context's
// deadline. Items not completed in time are returned, never silently
// dropped. Call after Stop.
func (s *Scheduler) Drain(ctx context.Context) []canvas.ChunkKey {
	for {
		select {
		case <-ctx.Done():
			leftover := s.queue.Keys()
			if len(leftover) > 0 {
				s.log.Warn().Int("chunks", len(leftover)).Msg("drain timed out with work remaining")
			}
			return leftover
		default:
		}
		key, version, ok := s.queue.TryDequeue()
		if !ok {
			return nil
		}
		s.persist(ctx, key, version)
	}
}
