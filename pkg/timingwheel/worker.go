package timingwheel

import "time"

// maxIngestPerTick bounds how many ingress entries a single tick will
// place into buckets. Without a bound, a submission burst could starve
// expiration indefinitely; entries left in the queue are simply picked up
// on the next tick.
const maxIngestPerTick = 100_000

// run is the wheel's single worker goroutine. It publishes startInstant,
// then on every tick drains cancellations, ingests newly submitted
// handles, and expires the due bucket, in that order — the ordering
// submitters rely on to know a cancellation committed before a tick
// cannot be raced by that same tick's ingestion or expiration.
func (w *Wheel) run() {
	w.startInstant = w.clock.Now()
	close(w.startedCh)

	ticker := w.clock.Ticker(w.tickDuration)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.drainCancellations()
			w.flushPending()
			return

		case now := <-ticker.C:
			w.tick(now)
		}
	}
}

// tick runs one full iteration of the worker's per-tick procedure. current
// is read once and used, unincremented, for both the ingestion round's
// placement math and the bucket index expired this iteration — this is
// what lets an already-due handle ingested this tick be expired in the
// very same iteration rather than waiting a full revolution.
func (w *Wheel) tick(now time.Time) {
	current := w.currentTick.Load()
	idx := current & w.mask

	w.drainCancellations()
	w.ingest(current)
	w.buckets[idx].expireDue(now, func(h *Handle) {
		if !h.expire() {
			return // lost the race to a concurrent Cancel
		}
		w.runTask(h, now)
	})

	w.currentTick.Add(1)
}

// drainCancellations unlinks every handle that has been cancelled since
// the last tick. A handle only reaches this queue via Handle.Cancel, so by
// the time it is popped here it is already StateCancelled; this just stops
// its bucket from holding a dead reference.
func (w *Wheel) drainCancellations() {
	for {
		h, ok := w.cancels.Pop()
		if !ok {
			return
		}
		if h.bucket != nil {
			h.bucket.remove(h)
		}
	}
}

// ingest moves up to maxIngestPerTick handles from the ingress queue into
// their computed buckets. Handles already cancelled before being placed
// are dropped without ever touching a bucket.
func (w *Wheel) ingest(current int64) {
	for i := 0; i < maxIngestPerTick; i++ {
		h, ok := w.ingress.Pop()
		if !ok {
			return
		}
		if h.State() != StateNew {
			continue
		}
		w.place(h, current)
	}
}

// place computes h's bucket slot and remaining-round count relative to
// current, the absolute tick index the worker is presently processing,
// and links it in. A deadline that has already slipped behind the wheel
// (calculated <= current) is clamped to current, landing it in the very
// bucket this same tick iteration is about to expire.
func (w *Wheel) place(h *Handle, current int64) {
	calculated := int64(h.deadline.Sub(w.startInstant) / w.tickDuration)

	placement := calculated
	if placement < current {
		placement = current
	}

	h.remainingRounds = (placement - current) / int64(w.width)
	slot := placement & w.mask
	w.buckets[slot].add(h)
}

// flushPending runs once, during Shutdown: it walks every bucket and the
// still-unplaced ingress queue, collecting every handle that is neither
// fired nor cancelled so Shutdown can report it to the caller. Handles are
// left in StateNew; Shutdown does not cancel or fire them on the caller's
// behalf.
func (w *Wheel) flushPending() {
	var pending []*Handle
	collect := func(h *Handle) {
		if h.State() == StateNew {
			pending = append(pending, h)
		}
	}
	for _, b := range w.buckets {
		b.flushAll(collect)
	}
	for {
		h, ok := w.ingress.Pop()
		if !ok {
			break
		}
		collect(h)
	}

	w.pendingMu.Lock()
	w.pending = pending
	w.pendingMu.Unlock()
}
