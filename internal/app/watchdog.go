package app

import (
	"sync"
	"time"
)

// WatchdogConfig holds the SLA thresholds of the watchdog loop.
type WatchdogConfig struct {
	Window          time.Duration // default 5m
	PauseErrorRate  float64       // default 0.5
	MinSamples      int           // default 4, applies to the error rate only
	PauseLatency    time.Duration // default 2s
	ResumeErrorRate float64       // default 0.2
	ResumeLatency   time.Duration // default 1s
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.PauseErrorRate <= 0 {
		c.PauseErrorRate = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 4
	}
	if c.PauseLatency <= 0 {
		c.PauseLatency = 2 * time.Second
	}
	if c.ResumeErrorRate <= 0 {
		c.ResumeErrorRate = 0.2
	}
	if c.ResumeLatency <= 0 {
		c.ResumeLatency = time.Second
	}
	return c
}

type sample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// slaStats summarizes the samples inside the window.
type slaStats struct {
	Samples     int
	ErrorRate   float64
	MeanLatency time.Duration
}

// sampleWindow keeps loop unit outcomes for the trailing window.
type sampleWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func (w *sampleWindow) add(s sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
}

func (w *sampleWindow) stats(now time.Time) slaStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.samples[:0]
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	w.samples = kept

	var st slaStats
	if len(kept) == 0 {
		return st
	}
	var failed int
	var total time.Duration
	for _, s := range kept {
		if s.failed {
			failed++
		}
		total += s.latency
	}
	st.Samples = len(kept)
	st.ErrorRate = float64(failed) / float64(len(kept))
	st.MeanLatency = total / time.Duration(len(kept))
	return st
}

func (c WatchdogConfig) breached(st slaStats) bool {
	if st.Samples == 0 {
		return false
	}
	if st.Samples >= c.MinSamples && st.ErrorRate >= c.PauseErrorRate {
		return true
	}
	return st.MeanLatency >= c.PauseLatency
}

func (c WatchdogConfig) healthy(st slaStats) bool {
	return st.ErrorRate <= c.ResumeErrorRate && st.MeanLatency <= c.ResumeLatency
}
