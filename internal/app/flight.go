package app

import (
	"sync"
	"time"
)

// flightScope counts units of work in progress so Stop can wait for them.
// Once draining, no new unit may enter until reopen.
type flightScope struct {
	mu       sync.Mutex
	inFlight int
	draining bool
	idle     chan struct{}
}

func newFlightScope() *flightScope {
	idle := make(chan struct{})
	close(idle)
	return &flightScope{idle: idle}
}

// acquire registers one unit. It returns false while the scope is draining.
func (f *flightScope) acquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	if f.inFlight == 0 {
		f.idle = make(chan struct{})
	}
	f.inFlight++
	return true
}

func (f *flightScope) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.inFlight == 0 {
		close(f.idle)
	}
}

// drain closes the scope and waits up to timeout for in-flight units.
// It reports whether the scope became idle in time.
func (f *flightScope) drain(timeout time.Duration) bool {
	f.mu.Lock()
	f.draining = true
	idle := f.idle
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

func (f *flightScope) reopen() {
	f.mu.Lock()
	f.draining = false
	f.mu.Unlock()
}

func (f *flightScope) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}
