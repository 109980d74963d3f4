package engine

import "sync/atomic"

// Sequence numbers commits. Walks draw from it in order, so a replayed
// trace numbers its commits the same way the live run did.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a sequence whose first commit is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt returns a sequence that continues after commit last.
func NewSequenceAt(last int64) *Sequence {
	s := &Sequence{}
	s.n.Store(last)
	return s
}

// Next claims the next commit number.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Last is the most recently claimed commit number, 0 before the first.
func (s *Sequence) Last() int64 {
	return s.n.Load()
}
