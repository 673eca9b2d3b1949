package timingwheel

import "time"

// bucket is one slot of the wheel's array: an intrusive doubly-linked list
// of Handles that currently hash to this slot. All bucket methods are
// called exclusively from the worker goroutine, so the list needs no
// locking of its own — this mirrors the spec's design note that buckets
// are worker-owned, unlike the MPSC ingress/cancellation queues.
type bucket struct {
	root Handle // sentinel; root.next is the head, root.prev is the tail
}

func newBucket() *bucket {
	b := &bucket{}
	b.root.next = &b.root
	b.root.prev = &b.root
	return b
}

// add appends h to the bucket's list and stamps h.bucket so remove can
// find it later without a search.
func (b *bucket) add(h *Handle) {
	tail := b.root.prev
	tail.next = h
	h.prev = tail
	h.next = &b.root
	b.root.prev = h
	h.bucket = b
}

// remove unlinks h from b. It is a no-op if h is not currently linked into
// b: h.bucket is nil (as for handles cancelled before ever being placed)
// or points at a different bucket.
func (b *bucket) remove(h *Handle) {
	if h.bucket != b {
		return
	}
	h.prev.next = h.next
	h.next.prev = h.prev
	h.prev = nil
	h.next = nil
	h.bucket = nil
}

// empty reports whether the bucket currently holds no handles.
func (b *bucket) empty() bool {
	return b.root.next == &b.root
}

// expireDue walks the bucket once. Every handle with remainingRounds<=0 is
// unlinked; fire is called on it only if its deadline has actually passed.
// The deadline check is purely defensive against an early pass — placement
// math should never leave a zero-round handle with a deadline still in the
// future — so a handle that trips it is still removed from the bucket, it
// just isn't handed to fire. Everything else has its remainingRounds
// decremented by one and stays put for a future visit.
func (b *bucket) expireDue(now time.Time, fire func(h *Handle)) {
	h := b.root.next
	for h != &b.root {
		next := h.next
		if h.remainingRounds <= 0 {
			b.remove(h)
			if !h.deadline.After(now) {
				fire(h)
			}
		} else {
			h.remainingRounds--
		}
		h = next
	}
}

// flushAll unlinks every handle in the bucket and hands each to drain,
// regardless of remainingRounds. Used during Shutdown to account for
// every still-pending task exactly once.
func (b *bucket) flushAll(drain func(h *Handle)) {
	h := b.root.next
	for h != &b.root {
		next := h.next
		b.remove(h)
		drain(h)
		h = next
	}
}

// deadlines exists only for tests that want to assert ordering within
// a bucket without reaching into unexported fields from another file.
func (b *bucket) deadlines() []time.Time {
	var out []time.Time
	for h := b.root.next; h != &b.root; h = h.next {
		out = append(out, h.deadline)
	}
	return out
}
