package store

import "time"

// StartBackgroundCompaction starts a goroutine that periodically removes
// superseded generation files.
func (s *Store) StartBackgroundCompaction(interval time.Duration) {
	if s.compactStop != nil {
		return // already running
	}
	s.compactStop = make(chan struct{})
	s.compactDone = make(chan struct{})

	go func() {
		defer close(s.compactDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.compactStop:
				return
			case <-ticker.C:
				if _, err := s.Compact(); err != nil {
					s.log.Warn().Err(err).Msg("background compaction failed")
				}
			}
		}
	}()

	s.log.Info().Dur("interval", interval).Msg("started background compaction")
}

// StopBackgroundCompaction stops the background compaction goroutine.
func (s *Store) StopBackgroundCompaction() {
	if s.compactStop == nil {
		return
	}
	close(s.compactStop)
	<-s.compactDone
	s.compactStop = nil
	s.compactDone = nil
}
