// Package timer keeps at most one repeating timer per subject. It is the
// single owner of fast-poll timer handles: every start and stop decision for
// a subject routes through one Registry instance.
package timer

import (
	"log/slog"
	"sync"
	"time"
)

// TickFunc runs on every timer fire with the current wall-clock time. The
// callback decides whether the timer keeps running: returning false stops it
// and removes its handle.
type TickFunc func(now time.Time) bool

// Registry maps subject ids to live timer handles. Arming a subject that
// already has a handle cancels the old one first, so a subject can never tick
// under two timers at once. The zero value is not usable; construct with
// NewRegistry and pass the instance around explicitly.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, timers: make(map[string]*Handle)}
}

// Start arms a repeating timer for the subject, replacing any existing one.
// The first tick fires one interval from now; deadline is carried on the
// handle for introspection, the continue/stop decision stays with the
// callback. Invalid arguments are logged and ignored.
func (r *Registry) Start(subjectID string, interval time.Duration, deadline time.Time, tick TickFunc) {
	if subjectID == "" || tick == nil || interval <= 0 {
		r.logger.Error("timer start rejected",
			"subject", subjectID, "interval", interval, "has_callback", tick != nil)
		return
	}

	h := &Handle{
		registry: r,
		subject:  subjectID,
		interval: interval,
		deadline: deadline,
		tick:     tick,
	}

	r.mu.Lock()
	prev := r.timers[subjectID]
	r.timers[subjectID] = h
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		r.logger.Debug("timer replaced", "subject", subjectID)
	}
	h.arm()
}

// Stop cancels and removes the subject's timer. Missing subject is a silent
// no-op. Once Stop returns, no pending tick for that handle will invoke its
// callback. Safe to call from inside a tick callback.
func (r *Registry) Stop(subjectID string) {
	r.mu.Lock()
	h := r.timers[subjectID]
	delete(r.timers, subjectID)
	r.mu.Unlock()

	if h != nil {
		h.cancel()
		r.logger.Debug("timer stopped", "subject", subjectID)
	}
}

// StopAll cancels every active timer; used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.timers))
	for _, h := range r.timers {
		handles = append(handles, h)
	}
	r.timers = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	if len(handles) > 0 {
		r.logger.Info("all timers stopped", "count", len(handles))
	}
}

// Active reports whether the subject currently has a live timer.
func (r *Registry) Active(subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[subjectID]
	return ok
}

// Deadline returns the deadline recorded on the subject's handle.
func (r *Registry) Deadline(subjectID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.timers[subjectID]
	if !ok {
		return time.Time{}, false
	}
	return h.deadline, true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Subjects returns the subject ids with a live timer, for diagnostics.
func (r *Registry) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.timers))
	for subject := range r.timers {
		out = append(out, subject)
	}
	return out
}

// remove drops the handle from the map if it is still the registered one for
// its subject; a replacement handle stays untouched.
func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	if r.timers[h.subject] == h {
		delete(r.timers, h.subject)
	}
	r.mu.Unlock()
}

// Handle is one armed repeating timer. Ticks run strictly sequentially: the
// next fire is scheduled only after the callback returns, so a slow callback
// delays later ticks instead of overlapping them.
type Handle struct {
	registry *Registry
	subject  string
	interval time.Duration
	deadline time.Time
	tick     TickFunc

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (h *Handle) arm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timer = time.AfterFunc(h.interval, h.fire)
}

func (h *Handle) fire() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	cont := h.tick(time.Now().UTC())

	h.mu.Lock()
	if !cont {
		h.stopped = true
	}
	stopped := h.stopped
	if !stopped {
		h.timer = time.AfterFunc(h.interval, h.fire)
	}
	h.mu.Unlock()

	if stopped {
		h.registry.remove(h)
	}
}

// cancel marks the handle stopped and disarms the pending fire. A tick whose
// callback has not started yet will observe the flag and never run; a callback
// already executing finishes and does not re-arm.
func (h *Handle) cancel() {
	h.mu.Lock()
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
}
