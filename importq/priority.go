package importq

import (
	"fmt"
	"sync/atomic"
)

// Class orders requests by urgency. A higher class always runs before a
// lower class regardless of age.
type Class uint8

const (
	// ClassLow for background prefetches
	ClassLow Class = iota
	// ClassNormal for standard filesystem operations
	ClassNormal
	// ClassHigh for operations blocking an interactive caller
	ClassHigh
)

func (c Class) String() string {
	switch c {
	case ClassLow:
		return "low"
	case ClassNormal:
		return "normal"
	case ClassHigh:
		return "high"
	}
	return "unknown"
}

// sequence stamps creation order, shared by every queue in the process.
var sequence atomic.Uint64

// Priority orders import requests. The class dominates, ties fall back to
// the stamped sequence so older requests in a class run first.
type Priority struct {
	class Class
	seq   uint64
}

// NewPriority stamps a fresh priority in the given class. Sequences are
// monotonic and never reused.
func NewPriority(class Class) Priority {
	return Priority{class: class, seq: sequence.Add(1)}
}

// Class returns the priority class.
func (p Priority) Class() Class {
	return p.class
}

func (p Priority) String() string {
	return fmt.Sprintf("%s:%d", p.class, p.seq)
}

// Compare returns a positive value when a runs before b, a negative value
// when b runs before a, and zero when they are the same priority.
func Compare(a, b Priority) int {
	if a.class != b.class {
		if a.class > b.class {
			return 1
		}
		return -1
	}
	if a.seq != b.seq {
		if a.seq < b.seq {
			return 1
		}
		return -1
	}
	return 0
}

// Max returns the more urgent of two priorities, sequence included, so a
// promotion adopts the winning operand's age.
func Max(a, b Priority) Priority {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}
