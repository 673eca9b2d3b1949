package timingwheel

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

// waitFired blocks until a value arrives on ch or the timeout elapses. The
// timeout is real wall-clock time and generous purely to absorb scheduler
// jitter; it never participates in the wheel's own timing logic, which is
// driven entirely by the mock clock.
func waitFired(t *testing.T, ch <-chan time.Time, timeout time.Duration) (time.Time, bool) {
	t.Helper()
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return time.Time{}, false
	}
}

func assertNotFired(t *testing.T, ch <-chan time.Time) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("task fired earlier than expected")
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestWheel(t *testing.T, tick time.Duration, width int) (*Wheel, *clock.Mock) {
	t.Helper()
	mc := clock.NewMock()
	w, err := New(tick, width, WithClock(mc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = w.Shutdown(ctx)
	})
	return w, mc
}

// TestWheel_SingleRevolution mirrors scenario S1: a 25ms delay on a 10ms
// tick lands on tick 2 of the first revolution (calculated=2, rounds=0).
func TestWheel_SingleRevolution(t *testing.T) {
	w, mc := newTestWheel(t, 10*time.Millisecond, 8)
	fired := make(chan time.Time, 1)

	if _, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(25*time.Millisecond)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	mc.Add(10 * time.Millisecond)
	mc.Add(10 * time.Millisecond)
	assertNotFired(t, fired)

	mc.Add(10 * time.Millisecond)
	if _, ok := waitFired(t, fired, 2*time.Second); !ok {
		t.Fatalf("task did not fire by tick 2")
	}
}

// TestWheel_MultiRevolution mirrors scenario S2: a 100ms delay on a 10ms
// tick with width 8 requires one extra revolution (calculated=10,
// rounds=1, slot=2) before it fires on tick 10.
func TestWheel_MultiRevolution(t *testing.T) {
	w, mc := newTestWheel(t, 10*time.Millisecond, 8)
	fired := make(chan time.Time, 1)

	if _, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(100*time.Millisecond)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		mc.Add(10 * time.Millisecond)
	}
	assertNotFired(t, fired)

	mc.Add(10 * time.Millisecond)
	if _, ok := waitFired(t, fired, 2*time.Second); !ok {
		t.Fatalf("task did not fire by tick 10")
	}
}

// TestWheel_PastDeadlineClamped mirrors scenario S5: a deadline already in
// the past is clamped to one tick duration after submission rather than
// being rejected, so it does not fire on tick 0 and fires on tick 1.
func TestWheel_PastDeadlineClamped(t *testing.T) {
	w, mc := newTestWheel(t, 10*time.Millisecond, 8)
	fired := make(chan time.Time, 1)

	if _, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(-5*time.Millisecond)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	mc.Add(10 * time.Millisecond)
	assertNotFired(t, fired)

	mc.Add(10 * time.Millisecond)
	if _, ok := waitFired(t, fired, 2*time.Second); !ok {
		t.Fatalf("task with past deadline did not fire on the tick after the clamp")
	}
}

func TestWheel_CancelBeforeFire(t *testing.T) {
	w, mc := newTestWheel(t, 10*time.Millisecond, 8)
	fired := make(chan time.Time, 1)

	h, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	if !h.Cancel() {
		t.Fatalf("Cancel() = false, want true")
	}
	if h.Cancel() {
		t.Fatalf("second Cancel() = true, want false")
	}
	if h.State() != StateCancelled {
		t.Fatalf("State() = %v, want StateCancelled", h.State())
	}

	for i := 0; i < 6; i++ {
		mc.Add(10 * time.Millisecond)
	}
	assertNotFired(t, fired)
}

func TestWheel_CancelAfterFireFails(t *testing.T) {
	w, mc := newTestWheel(t, 10*time.Millisecond, 8)
	fired := make(chan time.Time, 1)

	h, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	mc.Add(10 * time.Millisecond)
	assertNotFired(t, fired)

	mc.Add(10 * time.Millisecond)
	if _, ok := waitFired(t, fired, 2*time.Second); !ok {
		t.Fatalf("task did not fire")
	}

	if h.Cancel() {
		t.Fatalf("Cancel() after fire = true, want false")
	}
	if h.State() != StateExpired {
		t.Fatalf("State() = %v, want StateExpired", h.State())
	}
}

func TestWheel_ShutdownReturnsPending(t *testing.T) {
	mc := clock.NewMock()
	w, err := New(10*time.Millisecond, 8, WithClock(mc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	noop := func(time.Time) {}
	h1, err := w.Submit(noop, mc.Now().Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h2, err := w.Submit(noop, mc.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pending, err := w.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Shutdown() returned %d pending handles, want 2", len(pending))
	}

	seen := map[*Handle]bool{}
	for _, h := range pending {
		seen[h] = true
	}
	if !seen[h1] || !seen[h2] {
		t.Fatalf("Shutdown() pending set missing a submitted handle")
	}

	if _, err := w.Submit(noop, mc.Now().Add(time.Second)); err == nil {
		t.Fatalf("Submit() after Shutdown should fail")
	}
}

func TestWheel_PanicIsRecovered(t *testing.T) {
	mc := clock.NewMock()
	recovered := make(chan any, 1)
	w, err := New(10*time.Millisecond, 8,
		WithClock(mc),
		WithUncaughtHandler(func(r any, h *Handle) { recovered <- r }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = w.Shutdown(ctx)
	})

	if _, err := w.Submit(func(time.Time) { panic("boom") }, mc.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := w.StartInstant(context.Background()); err != nil {
		t.Fatalf("StartInstant() error = %v", err)
	}

	mc.Add(10 * time.Millisecond)
	mc.Add(10 * time.Millisecond)
	select {
	case r := <-recovered:
		if r != "boom" {
			t.Fatalf("recovered = %v, want boom", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("panic handler was not invoked")
	}

	// The worker goroutine must still be alive after a panic.
	fired := make(chan time.Time, 1)
	if _, err := w.Submit(func(at time.Time) { fired <- at }, mc.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	mc.Add(10 * time.Millisecond)
	assertNotFired(t, fired)

	mc.Add(10 * time.Millisecond)
	if _, ok := waitFired(t, fired, 2*time.Second); !ok {
		t.Fatalf("worker did not survive task panic")
	}
}

func TestWheel_WidthRoundedToPowerOfTwo(t *testing.T) {
	w, err := New(time.Millisecond, 5)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.width != 8 {
		t.Fatalf("width = %d, want 8", w.width)
	}
}

func TestWheel_RejectsInvalidArguments(t *testing.T) {
	if _, err := New(0, 8); err == nil {
		t.Fatalf("New() with zero tick duration should fail")
	}
	if _, err := New(time.Millisecond, 0); err == nil {
		t.Fatalf("New() with zero width should fail")
	}
}
