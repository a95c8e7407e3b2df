// Package clock provides single-shot timers that fire on the caller's
// orchestration goroutine.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is an armed single-shot timer.
type Timer interface {
	// Stop disarms the timer. After Stop returns the callback never runs.
	Stop()
}

// Scheduler arms single-shot timers.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop schedules timers whose callbacks are posted to an event loop rather
// than run on the runtime timer goroutine.
//
// Stop must be called from the loop goroutine; a callback already posted
// but not yet run is then suppressed.
type Loop struct {
	post func(func())
}

// NewLoop builds a scheduler that delivers expiries through post.
func NewLoop(post func(func())) *Loop {
	return &Loop{post: post}
}

type loopTimer struct {
	inner   *time.Timer
	stopped bool
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.inner = time.AfterFunc(d, func() {
		l.post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

func (t *loopTimer) Stop() {
	t.stopped = true
	t.inner.Stop()
}

// Manual is a Scheduler for tests: nothing fires until Advance or Fire.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

// NewManual returns a manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.stopped = true
}

// Armed returns the delays of all armed timers relative to now, earliest first.
func (m *Manual) Armed() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Duration
	for _, t := range m.pendingLocked() {
		out = append(out, t.at-m.now)
	}
	return out
}

// Advance moves time forward by d, firing due timers in order. Timers armed by
// callbacks fire too if they fall due within the window.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	fired := 0
	for {
		m.mu.Lock()
		pending := m.pendingLocked()
		if len(pending) == 0 || pending[0].at > target {
			m.now = target
			m.mu.Unlock()
			return fired
		}
		next := pending[0]
		next.stopped = true
		m.now = next.at
		m.mu.Unlock()

		next.fn()
		fired++
	}
}

// FireNext advances to the earliest armed timer and fires it.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	pending := m.pendingLocked()
	if len(pending) == 0 {
		m.mu.Unlock()
		return false
	}
	next := pending[0]
	next.stopped = true
	m.now = next.at
	m.mu.Unlock()

	next.fn()
	return true
}

func (m *Manual) pendingLocked() []*manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	out := append([]*manualTimer(nil), live...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].at == out[j].at {
			return out[i].seq < out[j].seq
		}
		return out[i].at < out[j].at
	})
	return out
}
