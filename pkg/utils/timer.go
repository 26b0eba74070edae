package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timer records the duration of named phases of one operation and logs a
// one-line summary. A disabled timer records nothing.
type Timer struct {
	name    string
	logger  Logger
	clock   Clock
	enabled bool

	mu     sync.Mutex
	start  time.Time
	phases []PhaseDuration
}

// PhaseDuration is one completed phase.
type PhaseDuration struct {
	Name     string
	Duration time.Duration
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithLogger sets where PrintSummary writes.
func WithLogger(l Logger) TimerOption {
	return func(t *Timer) { t.logger = l }
}

// WithEnabled turns recording on or off.
func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) { t.enabled = enabled }
}

// WithClock replaces the real clock.
func WithClock(c Clock) TimerOption {
	return func(t *Timer) { t.clock = c }
}

// NewTimer creates an enabled timer that logs nowhere until given a logger.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{name: name, enabled: true, clock: NewRealClock(), logger: &NullLogger{}}
	for _, o := range opts {
		o(t)
	}
	t.start = t.clock.Now()
	return t
}

// Phase is a running phase. Stop may be called more than once; only the
// first call records.
type Phase struct {
	timer   *Timer
	name    string
	start   time.Time
	once    sync.Once
	elapsed time.Duration
}

// Start begins a phase.
func (t *Timer) Start(name string) *Phase {
	return &Phase{timer: t, name: name, start: t.clock.Now()}
}

// Stop ends the phase and returns its duration.
func (p *Phase) Stop() time.Duration {
	p.once.Do(func() {
		p.elapsed = p.timer.clock.Since(p.start)
		p.timer.record(p.name, p.elapsed)
	})
	return p.elapsed
}

// Time runs fn as a phase.
func (t *Timer) Time(name string, fn func() error) error {
	p := t.Start(name)
	defer p.Stop()
	return fn()
}

func (t *Timer) record(name string, d time.Duration) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	t.phases = append(t.phases, PhaseDuration{Name: name, Duration: d})
	t.mu.Unlock()
}

// Phases returns the completed phases in completion order.
func (t *Timer) Phases() []PhaseDuration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PhaseDuration(nil), t.phases...)
}

// Total returns the time since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.start)
}

// Summary formats the phases as "name: a=1ms b=2ms total=3ms".
func (t *Timer) Summary() string {
	var b strings.Builder
	b.WriteString(t.name)
	b.WriteString(":")
	for _, p := range t.Phases() {
		fmt.Fprintf(&b, " %s=%s", p.Name, p.Duration)
	}
	fmt.Fprintf(&b, " total=%s", t.Total())
	return b.String()
}

// PrintSummary logs Summary at Info level when the timer is enabled.
func (t *Timer) PrintSummary() {
	if !t.enabled {
		return
	}
	t.logger.Info("%s", t.Summary())
}
