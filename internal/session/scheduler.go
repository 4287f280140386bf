package session

import (
	"context"
	"sync"
	"time"
)

// scheduler owns every delayed and periodic task of a session so teardown can
// cancel them as a whole. Tasks receive the scheduler context.
type scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func newScheduler(parent context.Context) *scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &scheduler{ctx: ctx, cancel: cancel}
}

// spawn reports false once the scheduler is stopped.
func (s *scheduler) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// Go runs fn once, now.
func (s *scheduler) Go(fn func(context.Context)) bool {
	return s.spawn(func() { fn(s.ctx) })
}

// After runs fn once after d unless the scheduler stops first.
func (s *scheduler) After(d time.Duration, fn func(context.Context)) bool {
	return s.spawn(func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
		case <-t.C:
			fn(s.ctx)
		}
	})
}

// Every runs fn each d. Runs of one task never overlap; ticks that arrive
// while fn is running are dropped.
func (s *scheduler) Every(d time.Duration, fn func(context.Context)) bool {
	return s.spawn(func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
				fn(s.ctx)
			}
		}
	})
}

// Stop cancels all tasks and waits for running ones to return. It must not be
// called from inside a task.
func (s *scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
