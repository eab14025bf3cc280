// Package refresh drives bounded fast-poll bursts for individual subjects.
// A burst is opened right after a command is sent to a node so the caller
// sees the device converge quickly, then closes itself once the tracked
// value stabilizes or the time budget runs out.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/timer"
)

const (
	// DefaultInterval is the fallback tick spacing for a burst.
	DefaultInterval = 2 * time.Second
	// DefaultNoChangeTimeout is how long a tracked value must hold still
	// before the burst decides it has stabilized.
	DefaultNoChangeTimeout = 20 * time.Second
	// DefaultMaxDuration is the hard ceiling on any burst regardless of the
	// requested duration.
	DefaultMaxDuration = 60 * time.Second

	tickFetchTimeout = 10 * time.Second
)

// Tracker supplies the per-subject behavior of a burst. FetchValue refreshes
// live state from the hub, TrackedValue exposes the quantity whose stability
// ends the burst, WriteState propagates fresh state to observers. Tracked
// values must be comparable; returning ok=false means the value is currently
// unknown and keeps the stability clock untouched.
type Tracker interface {
	FetchValue(ctx context.Context) error
	TrackedValue() (value any, ok bool)
	WriteState()
}

// Options tunes one burst. Zero fields fall back to the package defaults;
// Duration is always clamped to MaxDuration.
type Options struct {
	Interval        time.Duration
	Duration        time.Duration
	NoChangeTimeout time.Duration
	MaxDuration     time.Duration
}

// BurstInfo describes one active burst for diagnostics.
type BurstInfo struct {
	Subject     string    `json:"subject"`
	EndsAt      time.Time `json:"ends_at"`
	IntervalSec float64   `json:"interval_sec"`
}

// Scheduler owns every burst session and routes all timer work through a
// single registry, which keeps the one-burst-per-subject invariant global.
type Scheduler struct {
	registry *timer.Registry
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	starts   map[string]*sync.Mutex
}

// session is the mutable state of one burst. Only the burst's own ticks and
// the seeding in StartRefresh touch the guarded fields.
type session struct {
	subject         string
	tracker         Tracker
	interval        time.Duration
	noChangeTimeout time.Duration
	endOfLife       time.Time

	mu            sync.Mutex
	lastTracked   any
	hasTracked    bool
	lastChangeAt  time.Time
	fetchFailures int
}

// NewScheduler creates a scheduler on top of the given registry.
func NewScheduler(registry *timer.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		starts:   make(map[string]*sync.Mutex),
	}
}

// StartRefresh opens a fast-poll burst for the subject, replacing any burst
// already running for it. It performs one synchronous fetch before arming the
// timer so the caller observes a fresh value immediately; ctx bounds only that
// initial fetch, later ticks carry their own timeout. Contract violations
// (empty subject, nil tracker) are logged and ignored.
func (s *Scheduler) StartRefresh(ctx context.Context, subjectID string, tracker Tracker, opts Options) {
	if subjectID == "" {
		s.logger.Error("refresh start rejected: subject id not set")
		return
	}
	if tracker == nil {
		s.logger.Error("refresh start rejected: no tracker", "subject", subjectID)
		return
	}

	lock := s.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	duration := opts.Duration
	if duration <= 0 || duration > maxDuration {
		duration = maxDuration
	}
	noChangeTimeout := opts.NoChangeTimeout
	if noChangeTimeout <= 0 {
		noChangeTimeout = DefaultNoChangeTimeout
	}

	s.registry.Stop(subjectID)

	now := s.now().UTC()
	sess := &session{
		subject:         subjectID,
		tracker:         tracker,
		interval:        interval,
		noChangeTimeout: noChangeTimeout,
		endOfLife:       now.Add(duration),
		lastChangeAt:    now,
	}

	if err := tracker.FetchValue(ctx); err != nil {
		s.logger.Warn("initial burst fetch failed; burst continues", "subject", subjectID, "err", err)
	}
	if value, ok := tracker.TrackedValue(); ok {
		sess.lastTracked = value
		sess.hasTracked = true
	}

	s.mu.Lock()
	s.sessions[subjectID] = sess
	s.mu.Unlock()

	s.registry.Start(subjectID, interval, sess.endOfLife, func(tickNow time.Time) bool {
		return s.tick(sess, tickNow)
	})
	s.logger.Info("burst started",
		"subject", subjectID, "interval", interval, "duration", duration, "no_change_timeout", noChangeTimeout)
}

// StopRefresh ends the subject's burst. Idempotent; a subject without a burst
// is a silent no-op. Safe from inside or outside a tick callback.
func (s *Scheduler) StopRefresh(subjectID string) {
	if subjectID == "" {
		return
	}
	lock := s.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, existed := s.sessions[subjectID]
	delete(s.sessions, subjectID)
	s.mu.Unlock()

	s.registry.Stop(subjectID)
	if existed {
		s.logger.Debug("burst stopped", "subject", subjectID)
	}
}

// StopAll ends every burst; shutdown path.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	subjects := make([]string, 0, len(s.sessions))
	for subject := range s.sessions {
		subjects = append(subjects, subject)
	}
	s.mu.Unlock()

	for _, subject := range subjects {
		s.StopRefresh(subject)
	}
	s.registry.StopAll()
}

// Active reports whether the subject currently has a burst.
func (s *Scheduler) Active(subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[subjectID]
	return ok
}

// ActiveBursts lists running bursts sorted by subject.
func (s *Scheduler) ActiveBursts() []BurstInfo {
	s.mu.Lock()
	out := make([]BurstInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, BurstInfo{
			Subject:     sess.subject,
			EndsAt:      sess.endOfLife,
			IntervalSec: sess.interval.Seconds(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// tick runs one burst iteration. Returns false to stop the underlying timer.
// Any panic from a tracker is logged and the burst keeps running, so one
// misbehaving subject cannot take the coordinator down.
func (s *Scheduler) tick(sess *session, now time.Time) (cont bool) {
	cont = true
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("burst tick panicked", "subject", sess.subject, "panic", fmt.Sprint(recovered))
		}
	}()

	now = now.UTC()
	if !now.Before(sess.endOfLife) {
		s.finish(sess, "duration cap reached")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickFetchTimeout)
	defer cancel()
	if err := sess.tracker.FetchValue(ctx); err != nil {
		sess.mu.Lock()
		sess.fetchFailures++
		failures := sess.fetchFailures
		sess.mu.Unlock()
		// First failure at warn, repeats at debug.
		if failures == 1 {
			s.logger.Warn("burst fetch failed; polling continues", "subject", sess.subject, "err", err)
		} else {
			s.logger.Debug("burst fetch failed", "subject", sess.subject, "failures", failures, "err", err)
		}
		return true
	}

	sess.mu.Lock()
	sess.fetchFailures = 0
	sess.mu.Unlock()

	sess.tracker.WriteState()

	current, ok := sess.tracker.TrackedValue()
	sess.mu.Lock()
	last, has := sess.lastTracked, sess.hasTracked
	lastChangeAt := sess.lastChangeAt
	sess.mu.Unlock()

	// The comparison runs outside the session lock: an uncomparable tracked
	// value panics here, and the recover must not leave the mutex held.
	switch {
	case ok && (!has || current != last):
		sess.mu.Lock()
		sess.lastTracked = current
		sess.hasTracked = true
		sess.lastChangeAt = now
		sess.mu.Unlock()
	case ok:
		if now.Sub(lastChangeAt) >= sess.noChangeTimeout {
			s.finish(sess, "value stabilized")
			return false
		}
	default:
		// Unknown value: neither resets nor advances the stability clock.
	}
	return true
}

// finish removes the session if it is still the current one for its subject;
// the timer handle removes itself via the false tick return.
func (s *Scheduler) finish(sess *session, reason string) {
	s.mu.Lock()
	if s.sessions[sess.subject] == sess {
		delete(s.sessions, sess.subject)
	}
	s.mu.Unlock()
	s.logger.Info("burst finished", "subject", sess.subject, "reason", reason)
}

// subjectLock serializes start/stop transitions per subject so a replacement
// never interleaves with a concurrent stop. The lock map grows with the set
// of subjects ever commanded, which is bounded by the node count.
func (s *Scheduler) subjectLock(subjectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.starts[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		s.starts[subjectID] = lock
	}
	return lock
}
