// Package timingwheel implements a hashed timing wheel: an approximate,
// O(1)-insert, O(1)-cancel scheduler for large numbers of short-to-medium
// lived timers, trading precision (errors bounded by one tick duration)
// for throughput that a heap-based scheduler cannot sustain at high timer
// counts.
package timingwheel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"github.com/hashwheel/timer/pkg/errors"
	"github.com/hashwheel/timer/pkg/logger"
)

// lifecycle states for Wheel, monotone: stateInit -> stateStarted -> stateShutdown.
const (
	stateInit int32 = iota
	stateStarted
	stateShutdown
)

// UncaughtPanicHandler is invoked, on the worker goroutine, when a Task
// panics. The default implementation logs the recovered value and keeps
// the worker running; tests or callers that want fail-fast behavior can
// supply one that re-panics.
type UncaughtPanicHandler func(recovered any, h *Handle)

// Option configures a Wheel at construction time.
type Option func(*Wheel)

// WithClock overrides the wheel's time source. Intended for tests: pass
// clock.NewMock() to drive the wheel deterministically instead of
// sleeping on the wall clock.
func WithClock(c clock.Clock) Option {
	return func(w *Wheel) { w.clock = c }
}

// WithUncaughtHandler overrides the panic handler invoked when a Task panics.
func WithUncaughtHandler(h UncaughtPanicHandler) Option {
	return func(w *Wheel) { w.onPanic = h }
}

// Wheel is a hashed timing wheel. Submitters call Submit (and Handle.Cancel)
// from any number of goroutines; a single internal worker goroutine owns
// the bucket array and advances the wheel on every tick.
type Wheel struct {
	tickDuration time.Duration
	width        int // power-of-two number of buckets
	mask         int64

	buckets []*bucket

	clock   clock.Clock
	onPanic UncaughtPanicHandler

	ingress *mpscQueue[*Handle]
	cancels *mpscQueue[*Handle]

	currentTick atomic.Int64

	state        atomic.Int32
	startOnce    sync.Once
	startedCh    chan struct{} // closed by the worker once startInstant is set
	startInstant time.Time     // worker-goroutine-owned; readable after startedCh closes

	stopCh chan struct{}
	doneCh chan struct{}

	pendingMu sync.Mutex
	pending   []*Handle // populated by the worker just before doneCh closes
}

// New constructs a Wheel with the given tick duration and requested width.
// Width is rounded up to the next power of two, per the wheel's slot-mask
// placement math. The wheel does not start its worker goroutine until the
// first call to Submit.
func New(tickDuration time.Duration, width int, opts ...Option) (*Wheel, error) {
	if tickDuration <= 0 {
		return nil, errors.InvalidArgument("tick duration must be positive", nil)
	}
	if width <= 0 {
		return nil, errors.InvalidArgument("wheel width must be positive", nil)
	}

	w := &Wheel{
		tickDuration: tickDuration,
		width:        nextPowerOfTwo(width),
		clock:        clock.New(),
		onPanic:      defaultUncaughtHandler,
		ingress:      newMPSCQueue[*Handle](),
		cancels:      newMPSCQueue[*Handle](),
		startedCh:    make(chan struct{}),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	w.mask = int64(w.width - 1)

	for _, opt := range opts {
		opt(w)
	}

	w.buckets = make([]*bucket, w.width)
	for i := range w.buckets {
		w.buckets[i] = newBucket()
	}

	return w, nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func defaultUncaughtHandler(recovered any, h *Handle) {
	logger.L().Error("timingwheel: task panicked", "recovered", recovered, "deadline", h.Deadline())
}

// IsRunning reports whether the worker goroutine is currently running: true
// only in stateStarted, false both before the first Submit and after Shutdown.
func (w *Wheel) IsRunning() bool {
	return w.state.Load() == stateStarted
}

// Submit schedules task to run at or after deadline and returns a Handle
// that can be used to cancel it. Submit lazily starts the worker goroutine
// on first use and blocks until the worker has published its start
// instant. It returns an error if the wheel has already been shut down.
//
// deadline in the past, or less than one tick duration in the future, is
// clamped to now plus one tick duration rather than rejected.
func (w *Wheel) Submit(task Task, deadline time.Time) (*Handle, error) {
	if w.state.Load() == stateShutdown {
		return nil, errors.ShutDown("wheel is shut down", nil)
	}
	w.ensureStarted()
	<-w.startedCh

	min := w.now().Add(w.tickDuration)
	if deadline.Before(min) {
		deadline = min
	}

	h := newHandle(task, deadline)
	h.owner = w
	w.ingress.Push(h)
	return h, nil
}

// StartInstant blocks until the worker goroutine has started and returns
// the clock reading it recorded at that moment. Submit implicitly starts
// the worker, so this is mainly useful for tests that want to align
// expectations to the wheel's own clock without submitting a throwaway task.
func (w *Wheel) StartInstant(ctx context.Context) (time.Time, error) {
	select {
	case <-w.startedCh:
		return w.startInstant, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

func (w *Wheel) ensureStarted() {
	w.startOnce.Do(func() {
		w.state.Store(stateStarted)
		go w.run()
	})
}

// now reads the wheel's clock for Submit's minimum-deadline clamp,
// substituting 1ns when the clock reports exactly the Unix epoch
// (clock.NewMock() starts at UnixNano()==0). startInstant is not taken
// from now: the worker stores the raw clock reading, so a deadline taken
// from the same clock sits an exact number of ticks after it.
func (w *Wheel) now() time.Time {
	n := w.clock.Now()
	if n.UnixNano() == 0 {
		return time.Unix(0, 1)
	}
	return n
}

// Shutdown stops the worker goroutine and returns the handles of every
// task that was still pending (neither fired nor cancelled). It blocks
// until the worker has fully drained. Calling Shutdown more than once is
// safe; subsequent calls return immediately with a nil slice.
func (w *Wheel) Shutdown(ctx context.Context) ([]*Handle, error) {
	if !w.state.CompareAndSwap(stateStarted, stateShutdown) {
		if w.state.CompareAndSwap(stateInit, stateShutdown) {
			// Never started: nothing to drain.
			return nil, nil
		}
		// Already shutting down or shut down; wait for completion.
		select {
		case <-w.doneCh:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	w.pendingMu.Lock()
	pending := w.pending
	w.pending = nil
	w.pendingMu.Unlock()
	return pending, nil
}

// runTask executes a due handle's task, recovering from and reporting any
// panic via the configured UncaughtPanicHandler rather than taking down
// the worker goroutine.
func (w *Wheel) runTask(h *Handle, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			w.onPanic(r, h)
		}
	}()
	h.task(firedAt)
}
