package canvas

import (
	"fmt"

	"github.com/google/uuid"
)

// InvalidStrokeError reports an operation on a sealed or unknown stroke.
// It is a caller error and is never retried.
type InvalidStrokeError struct {
	ID     uuid.UUID
	Reason string
}

func (e *InvalidStrokeError) Error() string {
	return fmt.Sprintf("invalid stroke %s: %s", e.ID, e.Reason)
}

// BusyError reports an eviction attempt on a chunk with a save in flight.
// The caller retries later or skips eviction this cycle.
type BusyError struct {
	Key ChunkKey
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("chunk %s has a save in flight", e.Key)
}
