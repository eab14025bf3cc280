package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/timer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTracker is a hand-rolled Tracker with scriptable value and failure.
type fakeTracker struct {
	mu       sync.Mutex
	fetches  int
	writes   int
	fetchErr error
	value    any
	hasValue bool
}

func (f *fakeTracker) FetchValue(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.fetchErr
}

func (f *fakeTracker) TrackedValue() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.hasValue
}

func (f *fakeTracker) WriteState() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
}

func (f *fakeTracker) set(value any, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.hasValue = ok
}

func (f *fakeTracker) counts() (fetches, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.writes
}

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newBurst opens a burst with an hour-long real interval so no registry tick
// interferes; tests drive ticks directly with fabricated times.
func newBurst(t *testing.T, tracker Tracker, opts Options) (*Scheduler, *session) {
	t.Helper()
	reg := timer.NewRegistry(testLogger())
	s := NewScheduler(reg, testLogger())
	s.now = func() time.Time { return testBase }
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	s.StartRefresh(context.Background(), "node-1", tracker, opts)
	t.Cleanup(s.StopAll)

	s.mu.Lock()
	sess := s.sessions["node-1"]
	s.mu.Unlock()
	if sess == nil {
		t.Fatalf("expected session after StartRefresh")
	}
	return s, sess
}

func TestScheduler_StopsAtDurationCap(t *testing.T) {
	tracker := &fakeTracker{value: 50, hasValue: true}
	s, sess := newBurst(t, tracker, Options{Duration: 500 * time.Second, MaxDuration: 60 * time.Second})

	if got := sess.endOfLife; !got.Equal(testBase.Add(60 * time.Second)) {
		t.Fatalf("expected duration clamped to cap, end of life %v", got)
	}
	if cont := s.tick(sess, testBase.Add(59*time.Second)); !cont {
		t.Fatalf("expected burst alive just before the cap")
	}
	if cont := s.tick(sess, testBase.Add(61*time.Second)); cont {
		t.Fatalf("expected burst stopped past the cap")
	}
	if s.Active("node-1") {
		t.Fatalf("expected session removed after cap stop")
	}
}

func TestScheduler_StopsOnStableValue(t *testing.T) {
	tracker := &fakeTracker{value: 42, hasValue: true}
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second})

	if cont := s.tick(sess, testBase.Add(10*time.Second)); !cont {
		t.Fatalf("expected burst alive at 10s of stability")
	}
	if cont := s.tick(sess, testBase.Add(20*time.Second)); cont {
		t.Fatalf("expected burst stopped after 20s of stability")
	}
	if _, writes := tracker.counts(); writes == 0 {
		t.Fatalf("expected WriteState on successful ticks")
	}
}

func TestScheduler_ChangingValueRunsToCap(t *testing.T) {
	tracker := &fakeTracker{value: 0, hasValue: true}
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second, MaxDuration: 60 * time.Second})

	at := testBase
	for i := 1; at.Before(testBase.Add(58 * time.Second)); i++ {
		at = testBase.Add(time.Duration(i*2) * time.Second)
		tracker.set(i%2, true)
		if cont := s.tick(sess, at); !cont {
			t.Fatalf("toggling value must never trigger the no-change stop, stopped at %v", at.Sub(testBase))
		}
	}
	if cont := s.tick(sess, testBase.Add(60*time.Second)); cont {
		t.Fatalf("expected the duration cap to end the burst")
	}
}

func TestScheduler_AbsentValueNeverCountsTowardStability(t *testing.T) {
	tracker := &fakeTracker{value: 5, hasValue: true}
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second, MaxDuration: 60 * time.Second})

	tracker.set(nil, false)
	for sec := 2; sec <= 22; sec += 2 {
		if cont := s.tick(sess, testBase.Add(time.Duration(sec)*time.Second)); !cont {
			t.Fatalf("absent value must not trigger the no-change stop, stopped at %ds", sec)
		}
	}

	// The absent window also must not have reset the stability clock: the
	// seeded value reappearing unchanged counts as stable since the start.
	tracker.set(5, true)
	if cont := s.tick(sess, testBase.Add(24*time.Second)); cont {
		t.Fatalf("expected stop once the unchanged value is visible again past the timeout")
	}
}

func TestScheduler_FetchErrorsNeverStopBurst(t *testing.T) {
	tracker := &fakeTracker{fetchErr: errors.New("hub unreachable"), value: 1, hasValue: true}
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second, MaxDuration: 60 * time.Second})

	for sec := 2; sec <= 58; sec += 2 {
		if cont := s.tick(sess, testBase.Add(time.Duration(sec)*time.Second)); !cont {
			t.Fatalf("fetch error must not stop the burst, stopped at %ds", sec)
		}
	}
	if _, writes := tracker.counts(); writes != 0 {
		t.Fatalf("expected WriteState skipped on failed ticks, got %d writes", writes)
	}
	if cont := s.tick(sess, testBase.Add(60*time.Second)); cont {
		t.Fatalf("expected only the duration cap to end a failing burst")
	}
}

func TestScheduler_PanickingTrackerKeepsBurstAlive(t *testing.T) {
	tracker := &fakeTracker{value: []int{1}, hasValue: true} // uncomparable on purpose
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second, MaxDuration: 60 * time.Second})

	if cont := s.tick(sess, testBase.Add(2*time.Second)); !cont {
		t.Fatalf("a panicking tracker must not end the burst")
	}

	// Later ticks with a well-behaved value must still run and stabilize.
	tracker.set(3, true)
	if cont := s.tick(sess, testBase.Add(4*time.Second)); !cont {
		t.Fatalf("expected burst alive after recovering from a panic")
	}
	if cont := s.tick(sess, testBase.Add(24*time.Second)); cont {
		t.Fatalf("expected stability stop to still work after a panicked tick")
	}
}

func TestScheduler_ImmediateFetchAndSeed(t *testing.T) {
	tracker := &fakeTracker{value: "open", hasValue: true}
	s, sess := newBurst(t, tracker, Options{NoChangeTimeout: 20 * time.Second})

	fetches, _ := tracker.counts()
	if fetches != 1 {
		t.Fatalf("expected one immediate fetch on start, got %d", fetches)
	}
	sess.mu.Lock()
	seeded, has := sess.lastTracked, sess.hasTracked
	sess.mu.Unlock()
	if !has || seeded != "open" {
		t.Fatalf("expected tracked value seeded from the immediate fetch, got %v has=%v", seeded, has)
	}

	// Stability is measured from the start instant, so an unchanged value
	// stops the burst one timeout after start, not one timeout after the
	// first tick.
	if cont := s.tick(sess, testBase.Add(20*time.Second)); cont {
		t.Fatalf("expected stability stop measured from the start instant")
	}
}

func TestScheduler_InitialFetchErrorStillArms(t *testing.T) {
	tracker := &fakeTracker{fetchErr: errors.New("timeout")}
	s, _ := newBurst(t, tracker, Options{})

	if !s.Active("node-1") {
		t.Fatalf("expected burst armed despite failing initial fetch")
	}
}

func TestScheduler_RestartYieldsSingleBurst(t *testing.T) {
	reg := timer.NewRegistry(testLogger())
	s := NewScheduler(reg, testLogger())
	t.Cleanup(s.StopAll)

	first := &fakeTracker{value: 1, hasValue: true}
	second := &fakeTracker{value: 2, hasValue: true}

	s.StartRefresh(context.Background(), "node-9", first, Options{Interval: 5 * time.Millisecond, Duration: time.Minute})
	s.StartRefresh(context.Background(), "node-9", second, Options{Interval: 5 * time.Millisecond, Duration: time.Minute})

	if got := reg.Len(); got != 1 {
		t.Fatalf("expected exactly one live timer after restart, got %d", got)
	}

	firstFrozen, _ := first.counts()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fetches, _ := second.counts(); fetches >= 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if fetches, _ := second.counts(); fetches < 3 {
		t.Fatalf("expected replacement burst to tick, got %d fetches", fetches)
	}
	if fetches, _ := first.counts(); fetches > firstFrozen+1 {
		t.Fatalf("expected replaced burst to stop ticking, went from %d to %d", firstFrozen, fetches)
	}
}

func TestScheduler_StopRefreshScopedToSubject(t *testing.T) {
	reg := timer.NewRegistry(testLogger())
	s := NewScheduler(reg, testLogger())
	t.Cleanup(s.StopAll)

	s.StopRefresh("nothing-running")

	a := &fakeTracker{value: 1, hasValue: true}
	b := &fakeTracker{value: 1, hasValue: true}
	s.StartRefresh(context.Background(), "node-a", a, Options{Interval: 5 * time.Millisecond, Duration: time.Minute})
	s.StartRefresh(context.Background(), "node-b", b, Options{Interval: 5 * time.Millisecond, Duration: time.Minute})

	s.StopRefresh("node-a")
	s.StopRefresh("node-a")

	if s.Active("node-a") {
		t.Fatalf("expected node-a burst stopped")
	}
	if !s.Active("node-b") {
		t.Fatalf("stopping node-a must not affect node-b")
	}
}

func TestScheduler_ContractViolationsAreNoOps(t *testing.T) {
	reg := timer.NewRegistry(testLogger())
	s := NewScheduler(reg, testLogger())

	s.StartRefresh(context.Background(), "", &fakeTracker{}, Options{})
	s.StartRefresh(context.Background(), "node-x", nil, Options{})

	if got := reg.Len(); got != 0 {
		t.Fatalf("expected no timers armed for rejected starts, got %d", got)
	}
	if got := len(s.ActiveBursts()); got != 0 {
		t.Fatalf("expected no sessions for rejected starts, got %d", got)
	}
}

func TestScheduler_ActiveBurstsReportsDeadline(t *testing.T) {
	tracker := &fakeTracker{value: 1, hasValue: true}
	s, _ := newBurst(t, tracker, Options{Duration: 45 * time.Second, MaxDuration: 60 * time.Second})

	bursts := s.ActiveBursts()
	if len(bursts) != 1 {
		t.Fatalf("expected one active burst, got %d", len(bursts))
	}
	if !bursts[0].EndsAt.Equal(testBase.Add(45 * time.Second)) {
		t.Fatalf("expected burst to end at start+45s, got %v", bursts[0].EndsAt)
	}
}
