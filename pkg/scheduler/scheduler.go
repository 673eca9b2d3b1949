// Package scheduler is a thin id-based facade over pkg/timingwheel: it
// hands callers an opaque string id instead of a *timingwheel.Handle, and
// adds fixed-rate rescheduling on top of the wheel's one-shot Submit.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashwheel/timer/pkg/concurrency"
	"github.com/hashwheel/timer/pkg/config"
	"github.com/hashwheel/timer/pkg/timingwheel"
)

// Scheduler is safe for concurrent use by any number of callers.
type Scheduler struct {
	wheel   *timingwheel.Wheel
	mu      *concurrency.SmartMutex
	handles map[string]*timingwheel.Handle
	seq     atomic.Int64
}

// New builds a Scheduler backed by a fresh timing wheel sized from cfg.
func New(cfg *config.Scheduler, opts ...timingwheel.Option) (*Scheduler, error) {
	w, err := timingwheel.New(cfg.TickDuration, cfg.TicksPerWheel, opts...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		wheel:   w,
		mu:      concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "scheduler.handles"}),
		handles: make(map[string]*timingwheel.Handle),
	}, nil
}

func (s *Scheduler) nextID() string {
	return fmt.Sprintf("task-%d", s.seq.Add(1))
}

// Schedule runs task once, after delay. The returned id can be passed to
// Cancel up until the task fires; the scheduler forgets about the id on
// its own once the task has run, so one-shot schedules do not leak.
func (s *Scheduler) Schedule(task timingwheel.Task, delay time.Duration) (string, error) {
	id := s.nextID()

	wrapped := func(firedAt time.Time) {
		task(firedAt)
		s.mu.Lock()
		delete(s.handles, id)
		s.mu.Unlock()
	}

	h, err := s.wheel.Submit(wrapped, time.Now().Add(delay))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	// h may have already fired and run wrapped's delete (a no-op, since id
	// was never registered) before this goroutine gets the lock. Registering
	// it now would install a handle for an already-fired task that nothing
	// ever cleans up, so only register while it is still pending.
	if h.State() == timingwheel.StateNew {
		s.handles[id] = h
	}
	s.mu.Unlock()
	return id, nil
}

// ScheduleAtFixedRate runs task every interval until Cancel(id) or
// Shutdown. Each firing re-submits the next occurrence from the same
// callback, so a task that takes longer than interval to run delays the
// next occurrence rather than overlapping with it.
//
// Re-submission and Cancel are serialized on the same mutex that guards
// the id-to-handle map, closing the check-then-act race a naive
// implementation would have between "is id still scheduled" and
// "register the next handle": whichever of the two wins the lock first
// determines the outcome consistently, instead of Cancel occasionally
// losing to an in-flight resubmission.
func (s *Scheduler) ScheduleAtFixedRate(task timingwheel.Task, interval time.Duration) (string, error) {
	id := s.nextID()

	var tick timingwheel.Task
	tick = func(firedAt time.Time) {
		task(firedAt)

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, stillScheduled := s.handles[id]; !stillScheduled {
			return
		}
		next, err := s.wheel.Submit(tick, time.Now().Add(interval))
		if err != nil {
			delete(s.handles, id)
			return
		}
		s.handles[id] = next
	}

	h, err := s.wheel.Submit(tick, time.Now().Add(interval))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	// As in Schedule, h may have already fired (and found itself unregistered,
	// so its own resubmission check was a no-op) before this goroutine gets
	// the lock. Only register while it is still pending.
	if h.State() == timingwheel.StateNew {
		s.handles[id] = h
	}
	s.mu.Unlock()
	return id, nil
}

// Cancel stops a scheduled task. It returns true only if this call
// actually prevented a future firing: it is false for an unknown id, an
// id that already fired (and, for one-shot schedules, was forgotten), or
// an id whose task is firing concurrently right now.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	return h.Cancel()
}

// Shutdown stops the underlying wheel and returns the ids of every task
// that was still scheduled (fixed-rate schedules included) but never
// fired.
func (s *Scheduler) Shutdown(ctx context.Context) ([]string, error) {
	pending, err := s.wheel.Shutdown(ctx)
	if err != nil {
		return nil, err
	}

	pendingSet := make(map[*timingwheel.Handle]bool, len(pending))
	for _, h := range pending {
		pendingSet[h] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(pendingSet))
	for id, h := range s.handles {
		if pendingSet[h] {
			ids = append(ids, id)
		}
	}
	s.handles = make(map[string]*timingwheel.Handle)
	return ids, nil
}
