package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Executor with a virtual clock. Nothing runs until
// Run or Advance is called, which makes it suitable for stepping protocol
// scenarios in tests.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

// NewManual returns a Manual executor whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Submit(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Run executes queued work, including work queued while running, until the
// queue is empty. It returns the number of handlers executed.
func (m *Manual) Run() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in expiry order
// and running the work each one produces before moving on.
func (m *Manual) Advance(d time.Duration) {
	m.Run()
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			m.Run()
			return
		}
		t.fired = true
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.queue = append(m.queue, t.fn)
		m.mu.Unlock()

		m.Run()
	}
}

// nextDue pops the earliest live timer due at or before target. Callers hold mu.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	if live[0].at.After(target) {
		return nil
	}
	return live[0]
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
