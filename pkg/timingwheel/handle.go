package timingwheel

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a scheduled Task. A Handle moves out of
// StateNew exactly once, into either StateCancelled or StateExpired; the
// two transitions are mutually exclusive and race on a single CAS.
type State int32

const (
	StateNew State = iota
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Task is the unit of work a Handle carries. It receives the wall-clock
// time at which the wheel actually ran it, which may trail the requested
// deadline by up to one tick duration.
type Task func(firedAt time.Time)

// Handle is the caller-visible reference to a single scheduled Task. It is
// also the intrusive bucket-list node: a Handle lives in at most one
// bucket's doubly-linked list at a time, and only the worker goroutine
// touches prev/next/bucket, so those fields need no synchronization of
// their own.
type Handle struct {
	task     Task
	deadline time.Time // absolute fire time, spec "deadline"
	state    atomic.Int32

	// remainingRounds counts the number of additional full revolutions of
	// the wheel this handle must wait through before it is due, per the
	// wheel's round/placement math.
	remainingRounds int64

	// bucket, prev, next implement the intrusive doubly-linked list used
	// by bucket. Owned exclusively by the worker goroutine.
	bucket     *bucket
	prev, next *Handle

	// owner lets Cancel enqueue the handle onto the wheel's cancellation
	// queue for prompt unlinking. nil in standalone tests that exercise
	// bucket/handle mechanics without a Wheel.
	owner *Wheel
}

func newHandle(task Task, deadline time.Time) *Handle {
	h := &Handle{task: task, deadline: deadline}
	h.state.Store(int32(StateNew))
	return h
}

// State reports the handle's current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Deadline returns the absolute time this task was scheduled to fire.
func (h *Handle) Deadline() time.Time {
	return h.deadline
}

// Cancel attempts to move the handle from StateNew to StateCancelled. It
// returns true if this call performed the transition, false if the task
// had already fired or already been cancelled. Cancel never blocks and
// never runs the task's callback.
//
// A successful Cancel does not synchronously unlink the handle from its
// bucket — that happens lazily, either when the worker reaches the bucket
// and skips cancelled entries, or sooner via the wheel's cancellation
// queue. Either way the task body is guaranteed to never run.
func (h *Handle) Cancel() bool {
	if !h.state.CompareAndSwap(int32(StateNew), int32(StateCancelled)) {
		return false
	}
	if h.owner != nil {
		h.owner.cancels.Push(h)
	}
	return true
}

// expire attempts to move the handle from StateNew to StateExpired. Only
// the worker goroutine calls this, immediately before running task. It
// returns false if a concurrent Cancel won the race, in which case the
// caller must not run the task.
func (h *Handle) expire() bool {
	return h.state.CompareAndSwap(int32(StateNew), int32(StateExpired))
}
