package jobregistry

import "sync/atomic"

// Sequence issues job IDs. Next must be linearizable: concurrent callers
// always observe distinct, strictly increasing values.
type Sequence interface {
	Next() JobID
}

// AtomicSequence is a lock-free Sequence.
type AtomicSequence struct {
	n atomic.Int64
}

// NewSequence returns a sequence whose first ID is start+1.
func NewSequence(start int64) *AtomicSequence {
	s := &AtomicSequence{}
	s.n.Store(start)
	return s
}

// Next returns the next ID.
func (s *AtomicSequence) Next() JobID {
	return JobID(s.n.Add(1))
}

// processSequence is shared by every Registry that does not override it,
// so IDs stay unique across registries within one process.
var processSequence = NewSequence(0)

// DefaultSequence returns the process-wide sequence.
func DefaultSequence() Sequence {
	return processSequence
}
