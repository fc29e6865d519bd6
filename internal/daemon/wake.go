// Package daemon provides the background services that let the assistant
// act on its own: a single-slot self-wake scheduler that stays quiet while
// a conversation is active, and a watcher that picks up schedule changes.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/logging"
)

// DefaultQuietPeriod is how long after the last activity a wake may fire.
const DefaultQuietPeriod = 30 * time.Second

var wakeLog = logging.Named("wake")

// Schedule is the single pending self-wake.
type Schedule struct {
	FireAt time.Time `json:"wakeAt"`
	Reason string    `json:"reason"`
}

// ScheduleStore persists at most one Schedule. Read returns nil, nil when
// nothing is scheduled.
type ScheduleStore interface {
	Read() (*Schedule, error)
	Write(Schedule) error
	Clear() error
}

// WakeConfig configures the wake scheduler
type WakeConfig struct {
	QuietPeriod time.Duration // default: 30 seconds
	Store       ScheduleStore
	// OnWake delivers the wake. It runs outside the scheduler's lock.
	OnWake func(ctx context.Context, reason string) error
	Clock  clock.Clock
}

// WakeScheduler fires the persisted schedule at its wall-clock time,
// deferring while the conversation is active. All timing is recomputed
// from the store on every Check, so a restart resumes the right delay.
type WakeScheduler struct {
	cfg WakeConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	timer        clock.Timer
	gen          uint64 // bumped on every Check; stale timers compare and bail
	lastActivity time.Time
	replying     bool
	firing       bool
	stopped      bool
	armed        *Schedule
	armedAt      time.Time
}

// NewWakeScheduler creates a new wake scheduler
func NewWakeScheduler(cfg WakeConfig) *WakeScheduler {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WakeScheduler{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Check re-reads the schedule and (re)arms the timer. It never delivers a
// wake on the calling goroutine, so it is safe to call from gate callbacks.
func (s *WakeScheduler) Check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.disarmLocked()
	s.gen++
	gen := s.gen

	sched, err := s.cfg.Store.Read()
	if err != nil {
		wakeLog.Warnf("unreadable schedule, ignoring: %v", err)
		return
	}
	if sched == nil {
		return
	}

	now := s.cfg.Clock.Now()
	delay := sched.FireAt.Sub(now)
	if quiet := s.lastActivity.Add(s.cfg.QuietPeriod).Sub(now); quiet > delay {
		delay = quiet
	}

	if delay <= 0 {
		if s.activeLocked(now) {
			// Due, but mid-reply: look again once a quiet period has passed.
			// A gate close re-checks sooner.
			wakeLog.Infof("due but conversation active, deferring: %s", sched.Reason)
			s.armLocked(gen, *sched, s.cfg.QuietPeriod)
			return
		}
		wakeLog.Infof("firing now: %s", sched.Reason)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(gen, sched.Reason)
		}()
		return
	}

	wakeLog.Infof("scheduled in %s: %s", delay.Round(time.Second), sched.Reason)
	s.armLocked(gen, *sched, delay)
}

// OnActivity records conversation activity (an inbound message or a
// completed reply), restarting the quiet period.
func (s *WakeScheduler) OnActivity() {
	s.mu.Lock()
	s.lastActivity = s.cfg.Clock.Now()
	s.mu.Unlock()
}

// SetReplying marks a reply as in flight. While set, a due wake is
// deferred no matter how long ago the last activity was.
func (s *WakeScheduler) SetReplying(v bool) {
	s.mu.Lock()
	s.replying = v
	s.mu.Unlock()
}

// Next reports the armed schedule and when its timer will go off.
func (s *WakeScheduler) Next() (Schedule, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		return Schedule{}, time.Time{}, false
	}
	return *s.armed, s.armedAt, true
}

// Stop disarms the timer and waits for an in-progress wake to finish.
func (s *WakeScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.disarmLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *WakeScheduler) armLocked(gen uint64, sched Schedule, d time.Duration) {
	s.armed = &sched
	s.armedAt = s.cfg.Clock.Now().Add(d)
	s.timer = s.cfg.Clock.AfterFunc(d, func() { s.onTimer(gen, sched.Reason) })
}

func (s *WakeScheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = nil
}

func (s *WakeScheduler) activeLocked(now time.Time) bool {
	return s.replying || s.firing || now.Sub(s.lastActivity) < s.cfg.QuietPeriod
}

func (s *WakeScheduler) onTimer(gen uint64, reason string) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.armed = nil
	active := s.activeLocked(s.cfg.Clock.Now())
	s.mu.Unlock()

	if active {
		wakeLog.Infof("conversation active, deferring")
		s.Check()
		return
	}
	s.fire(gen, reason)
}

func (s *WakeScheduler) fire(gen uint64, reason string) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.firing {
		s.mu.Unlock()
		return
	}
	s.firing = true
	s.mu.Unlock()

	wakeLog.Infof("waking: %s", reason)
	if err := s.cfg.Store.Clear(); err != nil {
		wakeLog.Warnf("failed to clear schedule: %v", err)
	}
	if s.cfg.OnWake != nil {
		if err := s.cfg.OnWake(s.ctx, reason); err != nil {
			wakeLog.Errorf("wake error: %v", err)
		}
	}

	s.mu.Lock()
	s.firing = false
	s.lastActivity = s.cfg.Clock.Now()
	s.mu.Unlock()

	// The reply to this wake may have scheduled the next one.
	s.Check()
}
