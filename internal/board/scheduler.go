package board

import (
	"sync"
	"time"
)

// Clock abstracts time for the engine so grace-window behavior is testable
// without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewRealClock returns a Clock backed by the wall clock.
func NewRealClock() Clock { return realClock{} }

// scheduler owns the engine instance's delayed actions. It is not shared
// across engine instances, so tearing one board down never cancels another
// board's timers.
type scheduler struct {
	clock Clock

	mu     sync.Mutex
	seq    uint64
	timers map[uint64]Timer
}

type cancelToken struct {
	id uint64
}

func newScheduler(clock Clock) *scheduler {
	return &scheduler{clock: clock, timers: make(map[uint64]Timer)}
}

// schedule runs onFire after delay and returns a token for cancel. onFire is
// responsible for checking whether the action is still wanted: a timer that
// fires concurrently with cancel may still invoke it.
func (s *scheduler) schedule(delay time.Duration, onFire func()) cancelToken {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.mu.Unlock()

	timer := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		onFire()
	})

	s.mu.Lock()
	s.timers[id] = timer
	s.mu.Unlock()
	return cancelToken{id: id}
}

// cancel stops the token's timer if it has not fired. Canceling twice, or
// canceling a fired timer, is a no-op.
func (s *scheduler) cancel(token cancelToken) {
	s.mu.Lock()
	timer, ok := s.timers[token.id]
	if ok {
		delete(s.timers, token.id)
	}
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// cancelAll stops every outstanding timer. Used on engine teardown.
func (s *scheduler) cancelAll() {
	s.mu.Lock()
	timers := make([]Timer, 0, len(s.timers))
	for id, timer := range s.timers {
		timers = append(timers, timer)
		delete(s.timers, id)
	}
	s.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}
