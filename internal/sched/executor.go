// Package sched provides the single cooperative scheduler that all
// shard-metadata state runs on.
//
// Every handler submitted to an Executor runs on one logical thread, one at a
// time, in submission order. Timers never run their callback directly: on
// expiry they submit it, so a fired timer is ordered with every other event.
package sched

import (
	"context"
	"sync"
	"time"
)

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from being submitted. It returns false if the
	// callback was already submitted or the timer was already stopped.
	Stop() bool
}

// Executor runs submitted work serially.
type Executor interface {
	// Submit queues fn. It never blocks and never runs fn inline.
	Submit(fn func())
	// AfterFunc submits fn once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Now reads the executor's clock.
	Now() time.Time
}

// Loop is an Executor backed by a single goroutine and the wall clock.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

// NewLoop returns a Loop. Call Run to start processing.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Submit(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type loopTimer struct{ t *time.Timer }

func (lt loopTimer) Stop() bool { return lt.t.Stop() }

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return loopTimer{t: time.AfterFunc(d, func() { l.Submit(fn) })}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Run processes submitted work until ctx is canceled. Work still queued at
// cancellation is dropped.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.queue = nil
			l.mu.Unlock()
			return
		}
	}
}
